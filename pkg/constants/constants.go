package constants

type contextKey string

const (
	PoolKey      contextKey = "pool"
	TxKey        contextKey = "tx"
	PrincipalKey contextKey = "principal"
	RequestIDKey contextKey = "request_id"
	LoggerKey    contextKey = "logger"
)

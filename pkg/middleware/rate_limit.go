package middleware

import (
	"time"

	"github.com/gorilla/mux"
	"github.com/ulule/limiter/v3"
	mhttp "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// RateLimit applies a process-wide requests-per-second cap backed by the
// in-memory store.
func RateLimit(globalRPS int) mux.MiddlewareFunc {
	rate := limiter.Rate{Period: time.Second, Limit: int64(globalRPS)}
	instance := limiter.New(memory.NewStore(), rate)
	mw := mhttp.NewMiddleware(instance)
	return mw.Handler
}

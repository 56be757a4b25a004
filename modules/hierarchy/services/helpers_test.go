package services_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iota-uz/worktrack/pkg/serrors"
)

func requireServiceError(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	se, ok := serrors.As(err)
	require.True(t, ok, "expected service error, got %v", err)
	require.Equal(t, code, se.Code)
}

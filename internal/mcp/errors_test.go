package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	verrors "github.com/Aman-CERP/vecsync/internal/errors"
	"github.com/Aman-CERP/vecsync/internal/index"
)

func TestMapError_Nil(t *testing.T) {
	assert.Nil(t, MapError(nil))
}

func TestMapError_Sentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		contains string
	}{
		{"busy", index.ErrBusy, ErrCodeBusy, "already being indexed"},
		{"wrapped busy", fmt.Errorf("tick: %w", index.ErrBusy), ErrCodeBusy, "already being indexed"},
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout, "timed out"},
		{"canceled", context.Canceled, ErrCodeTimeout, "canceled"},
		{"tool", ErrToolNotFound, ErrCodeMethodNotFound, "Tool not found"},
		{"unknown", errors.New("boom"), ErrCodeInternalError, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := MapError(tt.err)
			require.NotNil(t, result)
			assert.Equal(t, tt.wantCode, result.Code)
			assert.Contains(t, result.Message, tt.contains)
		})
	}
}

func TestMapError_SyncErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"repository not found", verrors.New(verrors.ErrCodeRepositoryNotFound, "repository \"x\" is not configured", nil), ErrCodeRepositoryNotFound},
		{"lock held", verrors.New(verrors.ErrCodeLockHeld, "failed to lock", nil), ErrCodeBusy},
		{"embedding", verrors.EmbeddingError("failed", nil), ErrCodeEmbeddingFailed},
		{"upsert", verrors.UpsertError("c", 3, nil), ErrCodeStoreFailed},
		{"delete", verrors.DeleteError("c", nil), ErrCodeStoreFailed},
		{"configuration", verrors.ConfigurationError("bad path", nil), ErrCodeInvalidParams},
		{"validation", verrors.ValidationError("bad input", nil), ErrCodeInvalidParams},
		{"network", verrors.NetworkError("down", nil), ErrCodeTimeout},
		{"ledger", verrors.LedgerIOError("disk", nil), ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := MapError(fmt.Errorf("wrapped: %w", tt.err))
			require.NotNil(t, result)
			assert.Equal(t, tt.wantCode, result.Code)
		})
	}
}

func TestMapError_IncludesSuggestion(t *testing.T) {
	err := verrors.ConfigurationError("invalid repository name", nil).WithSuggestion("use letters")

	result := MapError(err)

	assert.Equal(t, "invalid repository name use letters", result.Message)
}

func TestMapError_PassesThroughMCPError(t *testing.T) {
	orig := NewInvalidParamsError("name is required")

	assert.Same(t, orig, MapError(orig))
}

func TestMCPError_Error(t *testing.T) {
	assert.Equal(t, "MCP error -32601: Tool 'x' not found.", NewMethodNotFoundError("x").Error())
}

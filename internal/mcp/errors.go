// Package mcp exposes repository indexing over the Model Context Protocol.
package mcp

import (
	"context"
	"errors"
	"fmt"

	verrors "github.com/Aman-CERP/vecsync/internal/errors"
	"github.com/Aman-CERP/vecsync/internal/index"
)

// Custom MCP error codes.
const (
	// ErrCodeRepositoryNotFound indicates the repository is not configured.
	ErrCodeRepositoryNotFound = -32001

	// ErrCodeEmbeddingFailed indicates embedding generation failed.
	ErrCodeEmbeddingFailed = -32002

	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout = -32003

	// ErrCodeBusy indicates the repository is being indexed elsewhere.
	ErrCodeBusy = -32004

	// ErrCodeStoreFailed indicates the vector store rejected the request.
	ErrCodeStoreFailed = -32005

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// ErrToolNotFound indicates the requested tool does not exist.
var ErrToolNotFound = errors.New("tool not found")

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	var syncErr *verrors.SyncError
	if errors.As(err, &syncErr) {
		return mapSyncError(syncErr)
	}

	switch {
	case errors.Is(err, index.ErrBusy):
		return &MCPError{
			Code:    ErrCodeBusy,
			Message: "Repository is already being indexed. Try again when the current run finishes.",
		}
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{
			Code:    ErrCodeTimeout,
			Message: "Request timed out.",
		}
	case errors.Is(err, context.Canceled):
		return &MCPError{
			Code:    ErrCodeTimeout,
			Message: "Request was canceled.",
		}
	case errors.Is(err, ErrToolNotFound):
		return &MCPError{
			Code:    ErrCodeMethodNotFound,
			Message: "Tool not found.",
		}
	default:
		return &MCPError{
			Code:    ErrCodeInternalError,
			Message: "Internal server error.",
		}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{
		Code:    ErrCodeInvalidParams,
		Message: msg,
	}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Tool '%s' not found.", name),
	}
}

// mapSyncError converts a SyncError to an MCPError.
func mapSyncError(se *verrors.SyncError) *MCPError {
	message := se.Message
	if se.Suggestion != "" {
		message = fmt.Sprintf("%s %s", se.Message, se.Suggestion)
	}

	switch se.Code {
	case verrors.ErrCodeRepositoryNotFound:
		return &MCPError{Code: ErrCodeRepositoryNotFound, Message: message}
	case verrors.ErrCodeLockHeld:
		return &MCPError{Code: ErrCodeBusy, Message: message}
	case verrors.ErrCodeEmbeddingFailed:
		return &MCPError{Code: ErrCodeEmbeddingFailed, Message: message}
	case verrors.ErrCodeSearchFailed, verrors.ErrCodeUpsertFailed, verrors.ErrCodeDeleteFailed:
		return &MCPError{Code: ErrCodeStoreFailed, Message: message}
	}

	switch se.Category {
	case verrors.CategoryConfig, verrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case verrors.CategoryNetwork:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}

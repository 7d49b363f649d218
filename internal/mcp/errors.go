// Package mcp implements the Model Context Protocol server for kbsearch.
package mcp

import (
	"context"
	"errors"
	"fmt"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
)

// Custom MCP error codes for kbsearch.
const (
	// ErrCodeUnknownCollection indicates a query named a collection that does not exist.
	ErrCodeUnknownCollection = -32001

	// ErrCodeBackendUnavailable indicates every retrieval backend failed.
	ErrCodeBackendUnavailable = -32002

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// ErrCodeUnknownResult indicates feedback referenced an unknown result id.
	ErrCodeUnknownResult = -32004

	// ErrCodeStorage indicates the database failed.
	ErrCodeStorage = -32005

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	// KBCode is the kbsearch error code, when the error came from one.
	KBCode string `json:"kb_code,omitempty"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	if e.KBCode != "" {
		return fmt.Sprintf("MCP error %d (%s): %s", e.Code, e.KBCode, e.Message)
	}
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors. The result is nil only
// when err is nil.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}
	if kb, ok := kberrors.As(err); ok {
		return mapKBError(kb)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewResourceNotFoundError creates an error for unknown resources.
func NewResourceNotFoundError(uri string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Resource '%s' not found.", uri),
	}
}

func mapKBError(kb *kberrors.KBError) *MCPError {
	message := kb.Message
	if kb.Suggestion != "" {
		message = fmt.Sprintf("%s %s", kb.Message, kb.Suggestion)
	}
	out := &MCPError{Code: ErrCodeInternalError, Message: message, KBCode: kb.Code}

	switch kb.Code {
	case kberrors.ErrCodeUnknownCollection:
		out.Code = ErrCodeUnknownCollection
	case kberrors.ErrCodeUnknownResult:
		out.Code = ErrCodeUnknownResult
	case kberrors.ErrCodeTimeout:
		out.Code = ErrCodeTimeout
	case kberrors.ErrCodeBackendUnavailable, kberrors.ErrCodeAllBackendsFailed:
		out.Code = ErrCodeBackendUnavailable
	default:
		switch kb.Category {
		case kberrors.CategoryValidation:
			out.Code = ErrCodeInvalidParams
		case kberrors.CategoryStorage:
			out.Code = ErrCodeStorage
		}
	}
	return out
}

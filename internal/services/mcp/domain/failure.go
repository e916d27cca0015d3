package domain

import (
	"errors"

	apperrors "github.com/louisbranch/ipython-mcp/internal/platform/errors"
)

// ToolFailure is the structured failure carried by a tool result whose
// IsError flag is set.
type ToolFailure struct {
	Kind    string            `json:"kind" jsonschema:"error kind, e.g. NotConnectedError"`
	Message string            `json:"message" jsonschema:"human readable description"`
	Details map[string]string `json:"details,omitempty" jsonschema:"context such as paths or msg ids"`
}

func failureFromError(err error) *ToolFailure {
	if err == nil {
		return nil
	}
	failure := &ToolFailure{
		Kind:    apperrors.CodeOf(err).String(),
		Message: err.Error(),
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) && len(appErr.Metadata) > 0 {
		failure.Details = appErr.Metadata
	}
	return failure
}

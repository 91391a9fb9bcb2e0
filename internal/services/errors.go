package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUserExists = errors.New("username already exists")
	// ErrNotAuthorized means the caller's identity is valid but it lacks
	// rights for the operation (not a participant, not the sender).
	ErrNotAuthorized = errors.New("not authorized")
	// ErrSelfChat rejects resolving a chat between a user and themself.
	ErrSelfChat = errors.New("cannot open a chat with yourself")
	// ErrChatAnomaly means the duplicate-key recovery re-read found no
	// chat; creation raced with something other than a concurrent create.
	ErrChatAnomaly = errors.New("chat resolution anomaly: conflict without existing chat")
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries a per-field error list for malformed input.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func invalid(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

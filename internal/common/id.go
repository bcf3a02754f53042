package common

import (
	"github.com/google/uuid"
)

// NewSessionID generates a unique crawl session ID with the "sess_" prefix
func NewSessionID() string {
	return "sess_" + uuid.New().String()
}

// NewPageID generates a unique indexed page ID with the "page_" prefix
func NewPageID() string {
	return "page_" + uuid.New().String()
}

// NewJobID generates a unique job ID
func NewJobID() string {
	return uuid.New().String()
}

// NewCorrelationID generates an opaque correlation ID for internal errors
func NewCorrelationID() string {
	return "err_" + uuid.New().String()
}

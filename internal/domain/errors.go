package domain

import (
	"errors"
	"fmt"
)

// ErrUnsupported is returned by a vector store capability that the
// installed backend cannot serve.
var ErrUnsupported = errors.New("operation not supported by vector store backend")

// ConfigurationError reports a missing or invalid configuration value.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("configuration: %s is required", e.Key)
	}
	return fmt.Sprintf("configuration: %s: %s", e.Key, e.Reason)
}

// SourceNotFoundError reports that the document to ingest does not exist.
type SourceNotFoundError struct {
	Path string
}

func (e *SourceNotFoundError) Error() string {
	return fmt.Sprintf("source document not found: %s", e.Path)
}

package rips

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownVersion  = errors.New("unknown format version")
	ErrUnknownFileType = errors.New("unknown file type")
	ErrRecordRejected  = errors.New("record has blocking validation issues")
	ErrNumericOverflow = errors.New("value exceeds declared field length")
	ErrMalformedLine   = errors.New("malformed fixed-width line")
)

// ConfigurationError reports a malformed request (unknown version or file
// type). It aborts the whole batch.
type ConfigurationError struct {
	Version  string
	FileType string
	Err      error
}

func (e *ConfigurationError) Error() string {
	if e.FileType != "" {
		return fmt.Sprintf("rips: %v: version %q file type %q", e.Err, e.Version, e.FileType)
	}
	return fmt.Sprintf("rips: %v: %q", e.Err, e.Version)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// IsConfigurationError reports whether err is batch-fatal.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// EncodingError rejects a single record at encode time. Index is the
// zero-based position of the record in its file and is set by the pipeline.
type EncodingError struct {
	FileType string
	Index    int
	Field    string
	Reason   string
	Err      error
}

func (e *EncodingError) Error() string {
	msg := "rips: encode " + e.FileType
	if e.Field != "" {
		msg += "." + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EncodingError) Unwrap() error { return e.Err }

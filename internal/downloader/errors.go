package downloader

import (
	"errors"
	"net/http"
)

// ErrorCategory groups failures so callers can map them to exit codes and
// HTTP statuses without string matching.
type ErrorCategory string

const (
	CategoryUnknown      ErrorCategory = "unknown"
	CategoryInvalidURL   ErrorCategory = "invalid_url"
	CategoryInvalidInput ErrorCategory = "invalid_input"
	CategoryNotFound     ErrorCategory = "not_found"
	CategoryUnsupported  ErrorCategory = "unsupported"
	CategoryNetwork      ErrorCategory = "network"
	CategoryFilesystem   ErrorCategory = "filesystem"
	CategoryTool         ErrorCategory = "tool"
)

// CategorizedError attaches an ErrorCategory to an underlying error.
type CategorizedError struct {
	Category ErrorCategory
	Err      error
}

func (e CategorizedError) Error() string {
	if e.Err == nil {
		return string(e.Category)
	}
	return e.Err.Error()
}

func (e CategorizedError) Unwrap() error {
	return e.Err
}

func wrapCategory(category ErrorCategory, err error) error {
	if err == nil {
		return nil
	}
	var existing CategorizedError
	if errors.As(err, &existing) {
		return err
	}
	return CategorizedError{Category: category, Err: err}
}

// CategoryOf returns the category attached to err, or CategoryUnknown.
func CategoryOf(err error) ErrorCategory {
	var ce CategorizedError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return CategoryUnknown
}

// ExitCode maps an error to a process exit code for the CLI.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch CategoryOf(err) {
	case CategoryInvalidURL, CategoryInvalidInput:
		return 2
	case CategoryNotFound, CategoryUnsupported:
		return 3
	case CategoryNetwork:
		return 4
	case CategoryFilesystem:
		return 5
	case CategoryTool:
		return 6
	default:
		return 1
	}
}

// HTTPStatus maps an error to the status code used by the web handlers.
// Extractor and tool failures keep 200 so the front-end reads the error body.
func HTTPStatus(err error) int {
	switch CategoryOf(err) {
	case CategoryInvalidURL, CategoryInvalidInput:
		return http.StatusBadRequest
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryUnsupported:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusOK
	}
}

package downloader

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestWrapCategoryKeepsFirstCategory(t *testing.T) {
	inner := wrapCategory(CategoryNotFound, errors.New("format not found"))
	outer := wrapCategory(CategoryTool, fmt.Errorf("download: %w", inner))
	if CategoryOf(outer) != CategoryNotFound {
		t.Fatalf("expected not_found, got %s", CategoryOf(outer))
	}
	if wrapCategory(CategoryTool, nil) != nil {
		t.Fatalf("wrapping nil must return nil")
	}
	if CategoryOf(errors.New("plain")) != CategoryUnknown {
		t.Fatalf("plain errors are unknown")
	}
}

func TestExitCodeAndHTTPStatus(t *testing.T) {
	tests := []struct {
		category ErrorCategory
		exit     int
		status   int
	}{
		{category: CategoryInvalidURL, exit: 2, status: http.StatusBadRequest},
		{category: CategoryInvalidInput, exit: 2, status: http.StatusBadRequest},
		{category: CategoryNotFound, exit: 3, status: http.StatusNotFound},
		{category: CategoryUnsupported, exit: 3, status: http.StatusUnprocessableEntity},
		{category: CategoryNetwork, exit: 4, status: http.StatusOK},
		{category: CategoryFilesystem, exit: 5, status: http.StatusOK},
		{category: CategoryTool, exit: 6, status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			err := CategorizedError{Category: tt.category, Err: errors.New("x")}
			if got := ExitCode(err); got != tt.exit {
				t.Fatalf("ExitCode: expected %d, got %d", tt.exit, got)
			}
			if got := HTTPStatus(err); got != tt.status {
				t.Fatalf("HTTPStatus: expected %d, got %d", tt.status, got)
			}
		})
	}
	if ExitCode(nil) != 0 || ExitCode(errors.New("x")) != 1 {
		t.Fatalf("unexpected exit codes for nil/unknown")
	}
}

package storage

import (
	"fmt"
	"strings"
)

// ObjectPath helpers keep the bucket layout deterministic so workers and
// handlers can locate generated assets without a lookup table.

// CoverImagePath returns the object key for a book's cover artwork.
func CoverImagePath(bookID string) (string, error) {
	id, err := validateSegment("bookID", bookID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("books/%s/cover.png", id), nil
}

// PageImagePath returns the object key for the artwork of a single page.
func PageImagePath(bookID string, page int) (string, error) {
	id, err := validateSegment("bookID", bookID)
	if err != nil {
		return "", err
	}
	if page < 1 {
		return "", fmt.Errorf("storage: page number must be positive, got %d", page)
	}
	return fmt.Sprintf("books/%s/pages/%d.png", id, page), nil
}

// BookPDFPath returns the object key for the rendered book PDF.
func BookPDFPath(bookID string) (string, error) {
	id, err := validateSegment("bookID", bookID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("books/%s/book.pdf", id), nil
}

// BookPrefix returns the common prefix for all of a book's objects.
func BookPrefix(bookID string) (string, error) {
	id, err := validateSegment("bookID", bookID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("books/%s/", id), nil
}

// PublicBaseURL returns the HTTPS base URL under which bucket objects are
// served, without a trailing slash.
func PublicBaseURL(bucket string) string {
	return "https://storage.googleapis.com/" + strings.TrimSpace(bucket)
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}

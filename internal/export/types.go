// Package export renders a topic and its articles to PDF.
package export

import (
	"errors"
	"time"
)

// Request names the topic to export.
type Request struct {
	TopicID string
	// PublishedOnly leaves out unpublished articles.
	PublishedOnly bool
}

// Result contains the export output. When the PDF was uploaded, URL is a
// presigned download link and Data is still populated.
type Result struct {
	Data      []byte
	Filename  string
	MimeType  string
	URL       string
	ExpiresAt time.Time
}

var (
	// ErrPDFDependencyMissing indicates no Chromium binary is available.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrEmptyTopic indicates the topic has no exportable articles.
	ErrEmptyTopic = errors.New("topic has no exportable articles")
)

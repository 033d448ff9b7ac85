// Package media holds the ingestion rules for user-supplied videos.
package media

import (
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultMaxSize is the upload limit advertised to users.
const DefaultMaxSize int64 = 500 * 1024 * 1024

// SniffLen is how many leading bytes Detect looks at.
const SniffLen = 3072

var (
	ErrInvalidMediaType = errors.New("media type is not a video")
	ErrMediaTooLarge    = errors.New("media exceeds size limit")
	ErrEmptyMedia       = errors.New("media file is empty")
)

// AcceptedExtensions are the container formats offered in the upload picker.
var AcceptedExtensions = []string{".mp4", ".mov", ".avi", ".webm"}

// IsVideo reports whether a media type string names a video.
func IsVideo(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mediaType)), "video/")
}

// Detect resolves the media type of an upload. The declared type wins unless it
// is missing or generic, in which case the leading bytes are sniffed.
func Detect(declared string, head []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && !strings.HasPrefix(declared, "application/octet-stream") {
		return declared
	}
	return mimetype.Detect(head).String()
}

// Validate checks an upload against the ingestion rules. maxSize <= 0 disables
// the size check.
func Validate(contentType string, size, maxSize int64) error {
	if !IsVideo(contentType) {
		return fmt.Errorf("%w: %q", ErrInvalidMediaType, contentType)
	}
	if size == 0 {
		return ErrEmptyMedia
	}
	if maxSize > 0 && size > maxSize {
		return fmt.Errorf("%w: %d > %d bytes", ErrMediaTooLarge, size, maxSize)
	}
	return nil
}

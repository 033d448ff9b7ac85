package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/videotranslator/api/internal/client"
	"github.com/videotranslator/api/internal/media"
	"github.com/videotranslator/api/internal/model"
)

// MediaService ingests uploaded videos into object storage
type MediaService struct {
	storage   client.StorageClient
	maxSize   int64
	urlExpiry time.Duration
}

func NewMediaService(storage client.StorageClient, maxSize int64, urlExpiry time.Duration) *MediaService {
	if maxSize <= 0 {
		maxSize = media.DefaultMaxSize
	}
	if urlExpiry <= 0 {
		urlExpiry = time.Hour
	}
	return &MediaService{
		storage:   storage,
		maxSize:   maxSize,
		urlExpiry: urlExpiry,
	}
}

// MaxSize returns the upload limit in bytes
func (s *MediaService) MaxSize() int64 {
	return s.maxSize
}

// Ingest validates an upload and stores it. The declared content type is
// replaced by a sniffed one when it is missing or generic.
func (s *MediaService) Ingest(ctx context.Context, fileName, contentType string, size int64, body io.Reader) (*model.MediaSource, error) {
	br := bufio.NewReaderSize(body, media.SniffLen)
	head, err := br.Peek(media.SniffLen)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}

	contentType = media.Detect(contentType, head)
	if err := media.Validate(contentType, size, s.maxSize); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	key := fmt.Sprintf("uploads/%s/%s", id, safeFileName(fileName))

	url, err := s.storage.Upload(ctx, key, br, contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to store media: %w", err)
	}

	return &model.MediaSource{
		ID:          id,
		FileName:    fileName,
		ContentType: contentType,
		Size:        size,
		Key:         key,
		URL:         url,
		CreatedAt:   time.Now(),
	}, nil
}

// PlayableURL returns a time-limited URL for m
func (s *MediaService) PlayableURL(ctx context.Context, m *model.MediaSource) (string, error) {
	return s.storage.GetSignedURL(ctx, m.Key, s.urlExpiry)
}

// Delete removes the stored object of m
func (s *MediaService) Delete(ctx context.Context, m *model.MediaSource) error {
	if m == nil || m.Key == "" {
		return nil
	}
	return s.storage.Delete(ctx, m.Key)
}

func safeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == ".." || name == "/" || name == "" {
		return "video"
	}
	return name
}

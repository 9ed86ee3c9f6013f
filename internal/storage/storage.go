// Package storage uploads user-supplied images (company logos) to object
// storage and returns their public URL.
package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Upload describes a stored object.
type Upload struct {
	SecureURL   string
	Key         string
	ContentType string
	Size        int
}

// Uploader stores a base64-encoded image. The input may be a data URL
// ("data:image/png;base64,...") or bare base64.
type Uploader interface {
	Upload(ctx context.Context, image string) (Upload, error)
}

// Errors returned by DecodeImage and uploaders.
var (
	ErrNotConfigured = errors.New("object storage is not configured")
	ErrEmptyImage    = errors.New("image is empty")
	ErrNotImage      = errors.New("content is not an image")
	ErrTooLarge      = errors.New("image exceeds size limit")
)

// DecodeImage decodes a data URL or bare base64 payload and sniffs its
// content type. Anything that does not sniff as image/* is rejected.
// maxBytes <= 0 disables the size check.
func DecodeImage(s string, maxBytes int) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, "", ErrEmptyImage
	}
	declared := ""
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return nil, "", fmt.Errorf("malformed data URL")
		}
		meta := s[len("data:"):comma]
		if !strings.HasSuffix(meta, ";base64") {
			return nil, "", fmt.Errorf("data URL must be base64 encoded")
		}
		declared = strings.TrimSuffix(meta, ";base64")
		s = s[comma+1:]
	}

	if maxBytes > 0 && base64.StdEncoding.DecodedLen(len(s)) > maxBytes+2 {
		return nil, "", ErrTooLarge
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(s); err != nil {
			return nil, "", fmt.Errorf("decode base64: %w", err)
		}
	}
	if len(data) == 0 {
		return nil, "", ErrEmptyImage
	}
	if maxBytes > 0 && len(data) > maxBytes {
		return nil, "", ErrTooLarge
	}

	ct := http.DetectContentType(data)
	// SVG sniffs as text; trust the declared type only for that case.
	if declared == "image/svg+xml" && strings.HasPrefix(ct, "text/") {
		ct = declared
	}
	if !strings.HasPrefix(ct, "image/") {
		return nil, "", ErrNotImage
	}
	return data, ct, nil
}

func extension(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/svg+xml":
		return ".svg"
	case "image/x-icon", "image/vnd.microsoft.icon":
		return ".ico"
	}
	return ""
}

// Disabled is the Uploader used when no bucket is configured. Every upload
// fails with ErrNotConfigured.
type Disabled struct{}

// Upload implements Uploader.
func (Disabled) Upload(context.Context, string) (Upload, error) {
	return Upload{}, ErrNotConfigured
}

// Package media writes downloaded WhatsApp attachments to the receipts
// directory.
package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sipeed/wabridge/pkg/logger"
	"github.com/sipeed/wabridge/pkg/message"
)

type StoreError string

func (e StoreError) Error() string { return string(e) }

const (
	ErrEmptyMessageID  StoreError = "message id is empty"
	ErrUnsupportedKind StoreError = "unsupported media kind"
)

type Store struct {
	dir string
}

// NewStore returns a store rooted at dir. A relative dir is resolved against
// the working directory at save time.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the configured receipts directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save streams att into receipt_<messageID>.<ext> and returns the absolute
// path once the download completes. A failed download leaves no partial
// file and keeps any receipt already stored under the same ID.
func (s *Store) Save(ctx context.Context, messageID string, kind message.Kind, att message.Attachment) (string, error) {
	ext, err := extension(kind)
	if err != nil {
		return "", err
	}
	name := safeName(messageID)
	if name == "" {
		return "", ErrEmptyMessageID
	}

	dir, err := filepath.Abs(s.dir)
	if err != nil {
		return "", fmt.Errorf("resolve receipts dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create receipts dir: %w", err)
	}

	path := filepath.Join(dir, "receipt_"+name+ext)
	// The download lands in a temp file so a failed redelivery cannot touch
	// a receipt that is already stored. whatsmeow's DownloadToFile needs a
	// seekable, readable file.
	f, err := os.CreateTemp(dir, "receipt_*.part")
	if err != nil {
		return "", fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmp := f.Name()

	complete := false
	defer func() {
		if complete {
			return
		}
		f.Close()
		if rmErr := os.Remove(tmp); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.WarnCF("media", "Failed to remove partial file", map[string]interface{}{
				"path":  tmp,
				"error": rmErr,
			})
		}
	}()

	if err := att.DownloadTo(ctx, f); err != nil {
		return "", fmt.Errorf("download %s: %w", kind, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		return "", fmt.Errorf("chmod %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("rename %s: %w", path, err)
	}
	complete = true

	logger.DebugCF("media", "Attachment stored", map[string]interface{}{
		"message_id": messageID,
		"path":       path,
	})
	return path, nil
}

func extension(kind message.Kind) (string, error) {
	switch kind {
	case message.KindImage:
		return ".jpg", nil
	case message.KindPDF:
		return ".pdf", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
}

// safeName keeps letters, digits, '-' and '_' so an ID cannot leave the
// receipts directory.
func safeName(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

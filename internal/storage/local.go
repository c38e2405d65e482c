// Package storage keeps uploaded files on the local disk.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrUnsupportedType = errors.New("only jpeg, png and webp images are accepted")
	ErrTooLarge        = errors.New("file is too large")
	ErrUnknownCategory = errors.New("unknown upload type")
)

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// Categories are the sub directories uploads may be stored in.
var Categories = map[string]bool{
	"profile": true,
}

// Local stores files under root and exposes them below urlPath.
type Local struct {
	root     string
	urlPath  string
	maxBytes int64
}

// NewLocal creates root if needed.
func NewLocal(root, urlPath string, maxBytes int64) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir %s: %w", root, err)
	}
	return &Local{root: root, urlPath: "/" + strings.Trim(urlPath, "/"), maxBytes: maxBytes}, nil
}

// Root is the directory files are written to.
func (l *Local) Root() string {
	return l.root
}

// URLPath is the prefix stored files are served under.
func (l *Local) URLPath() string {
	return l.urlPath
}

// MaxBytes is the largest accepted file.
func (l *Local) MaxBytes() int64 {
	return l.maxBytes
}

// SaveImage sniffs the content type of r, writes it under category with a
// random name and returns its public URL.
func (l *Local) SaveImage(category string, r io.Reader) (string, error) {
	if !Categories[category] {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	head = head[:n]
	ext, ok := imageExtensions[http.DetectContentType(head)]
	if !ok {
		return "", ErrUnsupportedType
	}

	dir := filepath.Join(l.root, category)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	name := uuid.NewString() + ext
	full := filepath.Join(dir, name)

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	// One byte past the limit tells an oversized file from one exactly at it.
	written, err := io.Copy(f, io.LimitReader(io.MultiReader(bytes.NewReader(head), r), l.maxBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && written > l.maxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		os.Remove(full)
		if errors.Is(err, ErrTooLarge) {
			return "", err
		}
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return path.Join(l.urlPath, category, name), nil
}

// Handler serves stored files.
func (l *Local) Handler() http.Handler {
	return http.StripPrefix(l.urlPath+"/", http.FileServer(noListing{http.Dir(l.root)}))
}

// noListing hides directory indexes.
type noListing struct {
	fs http.FileSystem
}

func (n noListing) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if stat.IsDir() {
		f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}

// Package storage keeps uploaded files on local disk, one folder per
// category, under generated UUID names.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"trackflow/internal/apperr"
)

// Categories
const (
	Avatars     = "avatars"
	Attachments = "attachments"
	Reports     = "reports"
)

const sniffLen = 3072

var imageTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

// Rule limits what a category accepts.
type Rule struct {
	MaxSize int64
	Types   []string
}

// Rules per category. Both the declared and the sniffed content type must
// appear in Types.
var Rules = map[string]Rule{
	Avatars: {MaxSize: 5 << 20, Types: imageTypes},
	Attachments: {MaxSize: 50 << 20, Types: append([]string{
		"application/pdf",
		"text/plain",
		"text/csv",
		"text/markdown",
		"application/json",
		"application/zip",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.ms-excel",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.ms-powerpoint",
		"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	}, imageTypes...)},
	Reports: {MaxSize: 10 << 20, Types: []string{"application/pdf"}},
}

// Saved describes a stored file.
type Saved struct {
	Category     string `json:"category"`
	Filename     string `json:"filename"`
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
	URL          string `json:"url"`
}

// Store is a local-disk file store.
type Store struct {
	root   string
	logger *zap.Logger
}

// New creates the category folders under root.
func New(root string, logger *zap.Logger) (*Store, error) {
	for category := range Rules {
		if err := os.MkdirAll(filepath.Join(root, category), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create upload directory: %w", err)
		}
	}
	return &Store{root: root, logger: logger}, nil
}

// Root returns the upload directory.
func (s *Store) Root() string {
	return s.root
}

// Save validates and writes r. size is the client-declared length, or -1
// when unknown; declaredType is the part's Content-Type header. Nothing is
// written when the category rules reject the file.
func (s *Store) Save(category, originalName, declaredType string, size int64, r io.Reader) (*Saved, error) {
	rule, ok := Rules[category]
	if !ok {
		return nil, apperr.Validation("invalid file category")
	}
	if size > rule.MaxSize {
		return nil, apperr.Validation(fmt.Sprintf("file exceeds the %d MB limit for %s", rule.MaxSize>>20, category))
	}
	if size == 0 {
		return nil, apperr.Validation("file is empty")
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	head = head[:n]
	if n == 0 {
		return nil, apperr.Validation("file is empty")
	}

	detected := mimetype.Detect(head)
	if !allowed(rule, detected) {
		return nil, apperr.Validation(fmt.Sprintf("file type %s is not allowed for %s", detected.String(), category))
	}
	if declared := baseType(declaredType); declared != "" && declared != "application/octet-stream" &&
		!mimetype.EqualsAny(declared, rule.Types...) {
		return nil, apperr.Validation(fmt.Sprintf("file type %s is not allowed for %s", declared, category))
	}

	ext := strings.ToLower(filepath.Ext(originalName))
	if t := baseType(mime.TypeByExtension(ext)); ext == "" || t == "" || !detected.Is(t) {
		ext = detected.Extension()
	}
	filename := uuid.NewString() + ext

	dir := filepath.Join(s.root, category)
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, io.LimitReader(io.MultiReader(bytes.NewReader(head), r), rule.MaxSize+1))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if written > rule.MaxSize {
		return nil, apperr.Validation(fmt.Sprintf("file exceeds the %d MB limit for %s", rule.MaxSize>>20, category))
	}

	if err := os.Rename(tmp.Name(), filepath.Join(dir, filename)); err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	s.logger.Debug("Stored upload",
		zap.String("category", category),
		zap.String("filename", filename),
		zap.Int64("size", written))

	return &Saved{
		Category:     category,
		Filename:     filename,
		OriginalName: filepath.Base(originalName),
		MimeType:     baseType(detected.String()),
		Size:         written,
		URL:          URL(category, filename),
	}, nil
}

// Open returns the stored file, or nil with a nil error when it does not
// exist. Names that are not generated upload names are treated as missing.
func (s *Store) Open(category, filename string) (*os.File, error) {
	if !ValidName(category, filename) {
		return nil, nil
	}
	f, err := os.Open(filepath.Join(s.root, category, filename))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

// Delete removes a stored file and reports whether it existed.
func (s *Store) Delete(category, filename string) (bool, error) {
	if !ValidName(category, filename) {
		return false, nil
	}
	err := os.Remove(filepath.Join(s.root, category, filename))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete file: %w", err)
	}
	return true, nil
}

// ValidName reports whether filename is a generated "<uuid>.<ext>" name in a
// known category. Anything else, path separators included, is rejected.
func ValidName(category, filename string) bool {
	if _, ok := Rules[category]; !ok {
		return false
	}
	if filename != filepath.Base(filename) || strings.ContainsAny(filename, `/\`) {
		return false
	}
	stem, ext, _ := strings.Cut(filename, ".")
	if strings.Contains(ext, ".") {
		return false
	}
	if len(stem) != 36 || stem != strings.ToLower(stem) {
		return false
	}
	_, err := uuid.Parse(stem)
	return err == nil
}

// ContentType infers the served Content-Type from the extension.
func ContentType(filename string) string {
	if t := mime.TypeByExtension(filepath.Ext(filename)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// URL is the API path serving a stored file.
func URL(category, filename string) string {
	return "/api/files/" + category + "/" + filename
}

func allowed(rule Rule, detected *mimetype.MIME) bool {
	for _, t := range rule.Types {
		if detected.Is(t) {
			return true
		}
	}
	return false
}

func baseType(contentType string) string {
	t, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return t
}

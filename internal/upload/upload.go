package upload

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/text/unicode/norm"

	"github.com/knowledge-engine/kwic/internal/config"
	"github.com/knowledge-engine/kwic/internal/search"
)

var (
	ErrNoFiles             = errors.New("no files uploaded")
	ErrTooManyFiles        = errors.New("too many files")
	ErrExtensionNotAllowed = errors.New("file extension not allowed")
	ErrTooLarge            = errors.New("upload too large")
	ErrNotText             = errors.New("file is not plain text")
)

// Validator checks uploaded files before they reach the tokenizer
type Validator struct {
	config config.UploadConfig
}

func NewValidator(cfg config.UploadConfig) *Validator {
	return &Validator{config: cfg}
}

// ReadMultipart validates and reads every uploaded file. Any invalid file
// rejects the whole upload.
func (v *Validator) ReadMultipart(files []*multipart.FileHeader) ([]search.Document, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	if v.config.MaxFiles > 0 && len(files) > v.config.MaxFiles {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyFiles, len(files), v.config.MaxFiles)
	}

	// names first, matching the order the form listed them
	for _, fh := range files {
		if err := v.CheckName(fh.Filename); err != nil {
			return nil, err
		}
	}

	docs := make([]search.Document, 0, len(files))
	var total int64
	for _, fh := range files {
		total += fh.Size
		if v.config.MaxTotalBytes > 0 && total > v.config.MaxTotalBytes {
			return nil, fmt.Errorf("%w: more than %d bytes in total", ErrTooLarge, v.config.MaxTotalBytes)
		}
		content, err := v.read(fh)
		if err != nil {
			return nil, err
		}
		docs = append(docs, search.Document{ID: fh.Filename, Content: content})
	}
	return docs, nil
}

func (v *Validator) read(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", fh.Filename, err)
	}
	defer f.Close()

	limit := v.config.MaxFileBytes
	var r io.Reader = f
	if limit > 0 {
		r = io.LimitReader(f, limit+1)
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", fh.Filename, err)
	}
	if limit > 0 && int64(len(content)) > limit {
		return nil, fmt.Errorf("%w: %q exceeds %d bytes", ErrTooLarge, fh.Filename, limit)
	}
	if err := CheckContent(fh.Filename, content); err != nil {
		return nil, err
	}
	return content, nil
}

// CheckName verifies the sanitized filename carries an allowed extension
func (v *Validator) CheckName(name string) error {
	ext := strings.ToLower(filepath.Ext(SecureFilename(name)))
	for _, allowed := range v.config.AllowedExtensions {
		if ext == strings.ToLower(allowed) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrExtensionNotAllowed, name)
}

// CheckContent rejects binary payloads. Text in any charset passes; charset
// problems are reported later by the tokenizer per document.
func CheckContent(name string, content []byte) error {
	if len(content) == 0 {
		return nil
	}
	for m := mimetype.Detect(content); m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrNotText, name)
}

var filenameStrip = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SecureFilename flattens name into a safe ASCII filename. Path separators
// become spaces, runs of whitespace become underscores and leading or
// trailing dots and underscores are dropped.
func SecureFilename(name string) string {
	var b strings.Builder
	for _, r := range norm.NFKD.String(name) {
		if r < unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	name = b.String()
	name = strings.NewReplacer("/", " ", "\\", " ").Replace(name)
	name = strings.Join(strings.Fields(name), "_")
	name = filenameStrip.ReplaceAllString(name, "")
	return strings.Trim(name, "._")
}

// Package mediastore lays out and persists media binaries under a content
// root. All paths it accepts and returns are relative to that root.
package mediastore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const (
	InboundDir = "whatsapp"
	UploadDir  = "uploads"

	ThumbnailName = "thumb.jpg"
	PreviewName   = "preview.jpg"

	maxNameLength = 100
)

var (
	ErrPathTraversal = errors.New("path escapes media root")
	ErrNotFound      = errors.New("media file not found")
)

type Store struct {
	fs afero.Fs
}

// New wraps an existing filesystem, typically afero.NewMemMapFs in tests.
func New(fs afero.Fs) *Store {
	return &Store{fs: fs}
}

// NewOnDisk roots the store at dir on the local filesystem.
func NewOnDisk(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media root: %w", err)
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), dir)), nil
}

// InboundLayout is the set of paths reserved for one inbound media item.
type InboundLayout struct {
	Original  string
	Thumbnail string
	Preview   string
}

// InboundPaths derives whatsapp/<yyyy>/<mm>/<messageID>/<name><ext>. The
// name comes from the sanitized filename, or from the message id when
// nothing safe is left.
func (s *Store) InboundPaths(messageID int64, filename, ext string, now time.Time) InboundLayout {
	dir := path.Join(InboundDir, now.UTC().Format("2006"), now.UTC().Format("01"), strconv.FormatInt(messageID, 10))

	ext = normalizeExt(ext)
	name := SanitizeFilename(strings.TrimSuffix(filename, path.Ext(filename)))
	if ext == "" {
		ext = normalizeExt(path.Ext(filename))
	}
	if name == "" {
		name = "message-" + strconv.FormatInt(messageID, 10)
	}

	return InboundLayout{
		Original:  path.Join(dir, name+ext),
		Thumbnail: path.Join(dir, ThumbnailName),
		Preview:   path.Join(dir, PreviewName),
	}
}

// UploadPath derives uploads/<yyyy>/<mm>/<uuid>-<name><ext> with the
// extension lowercased.
func (s *Store) UploadPath(filename string, now time.Time) string {
	ext := normalizeExt(path.Ext(filename))
	name := SanitizeFilename(strings.TrimSuffix(filename, path.Ext(filename)))
	if ext == "" {
		name = SanitizeFilename(filename)
	}
	if name == "" {
		name = "file"
	}
	return path.Join(UploadDir, now.UTC().Format("2006"), now.UTC().Format("01"), uuid.NewString()+"-"+name+ext)
}

// Write stores r at rel through a temporary sibling and a rename, so readers
// never observe a partial file.
func (s *Store) Write(rel string, r io.Reader) (int64, error) {
	rel, err := Clean(rel)
	if err != nil {
		return 0, err
	}

	dir := path.Dir(rel)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create media directory: %w", err)
	}

	tmp, err := afero.TempFile(s.fs, dir, ".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = s.fs.Remove(tmpName)
		return 0, fmt.Errorf("failed to write media: %w", err)
	}

	if err := s.fs.Rename(tmpName, rel); err != nil {
		_ = s.fs.Remove(tmpName)
		return 0, fmt.Errorf("failed to move media into place: %w", err)
	}

	return n, nil
}

// Open returns the stored file. The caller closes it.
func (s *Store) Open(rel string) (afero.File, error) {
	rel, err := Clean(rel)
	if err != nil {
		return nil, err
	}

	f, err := s.fs.Open(rel)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open media: %w", err)
	}
	return f, nil
}

func (s *Store) Stat(rel string) (os.FileInfo, error) {
	rel, err := Clean(rel)
	if err != nil {
		return nil, err
	}

	info, err := s.fs.Stat(rel)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to stat media: %w", err)
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}
	return info, nil
}

// Exists reports whether rel names a regular file.
func (s *Store) Exists(rel string) bool {
	_, err := s.Stat(rel)
	return err == nil
}

// Remove deletes a file. Missing files are not an error.
func (s *Store) Remove(rel string) error {
	rel, err := Clean(rel)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(rel); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove media: %w", err)
	}
	return nil
}

// Clean normalizes rel and rejects absolute paths and paths that leave the
// root.
func Clean(rel string) (string, error) {
	if rel == "" || strings.ContainsRune(rel, 0) || strings.Contains(rel, `\`) {
		return "", ErrPathTraversal
	}
	if path.IsAbs(rel) {
		return "", ErrPathTraversal
	}

	cleaned := path.Clean(rel)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrPathTraversal
	}
	return cleaned, nil
}

// SanitizeFilename keeps [A-Za-z0-9._-], folds runs of anything else into a
// single underscore and strips leading dots. It returns "" when nothing
// usable remains.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(name)

	var b strings.Builder
	lastUnderscore := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	out := strings.Trim(b.String(), "._")
	if len(out) > maxNameLength {
		out = out[len(out)-maxNameLength:]
		out = strings.TrimLeft(out, "._")
	}
	return out
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" || len(ext) > 10 {
		return ""
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return "." + ext
}

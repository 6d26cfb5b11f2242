// Package archive stores archived recordings on the local filesystem.
//
// Each archive is a pair of files in the archive directory:
//
//	<name>.jfr   recording data
//	<name>.json  metadata (target, labels, size, time)
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"evalgo.org/flightdeck/models"
)

const (
	dataExt = ".jfr"
	metaExt = ".json"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// Store is a directory of archived recordings.
type Store struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

// New creates the directory if needed and returns a store rooted at it.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// Dir returns the archive directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes data as a new archive named
// <target alias>_<recording>_<UTC timestamp>.
func (s *Store) Save(target models.Target, recording string, data io.Reader, labels map[string]string) (models.ArchivedRecording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	base := fmt.Sprintf("%s_%s_%s", sanitize(target.DisplayName()), sanitize(recording), now.Format("20060102T150405Z"))
	name := base
	for i := 1; s.exists(name); i++ {
		name = fmt.Sprintf("%s.%d", base, i)
	}

	f, err := os.OpenFile(s.path(name, dataExt), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return models.ArchivedRecording{}, fmt.Errorf("failed to create archive: %w", err)
	}
	size, err := io.Copy(f, data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(s.path(name, dataExt))
		return models.ArchivedRecording{}, fmt.Errorf("failed to write archive: %w", err)
	}

	rec := models.ArchivedRecording{
		Name:         name + dataExt,
		JvmID:        target.JvmID,
		ConnectURL:   target.ConnectURL,
		Size:         size,
		ArchivedTime: now.UnixMilli(),
		Metadata:     models.Metadata{Labels: map[string]string{}},
	}
	for k, v := range labels {
		rec.Metadata.Labels[k] = v
	}
	meta, err := json.Marshal(rec)
	if err == nil {
		err = os.WriteFile(s.path(name, metaExt), meta, 0o640)
	}
	if err != nil {
		_ = os.Remove(s.path(name, dataExt))
		return models.ArchivedRecording{}, fmt.Errorf("failed to write archive metadata: %w", err)
	}
	return rec, nil
}

// Open returns the data of an archive.
func (s *Store) Open(name string) (io.ReadCloser, error) {
	base, err := s.base(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(base, dataExt))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: archive %q", models.ErrNotFound, name)
	}
	return f, err
}

// Delete removes an archive and its metadata.
func (s *Store) Delete(name string) error {
	base, err := s.base(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(base, dataExt)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: archive %q", models.ErrNotFound, name)
		}
		return err
	}
	if err := os.Remove(s.path(base, metaExt)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// List returns every archive, oldest first.
func (s *Store) List() ([]models.ArchivedRecording, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	out := []models.ArchivedRecording{}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != metaExt {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var rec models.ArchivedRecording
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ArchivedTime != out[j].ArchivedTime {
			return out[i].ArchivedTime < out[j].ArchivedTime
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) base(name string) (string, error) {
	base := strings.TrimSuffix(name, dataExt)
	if base == "" || base != filepath.Base(base) || strings.Contains(base, "..") {
		return "", fmt.Errorf("%w: bad archive name %q", models.ErrInvalid, name)
	}
	return base, nil
}

func (s *Store) exists(base string) bool {
	_, err := os.Stat(s.path(base, dataExt))
	return err == nil
}

func (s *Store) path(base, ext string) string {
	return filepath.Join(s.dir, base+ext)
}

func sanitize(s string) string {
	s = unsafeChars.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

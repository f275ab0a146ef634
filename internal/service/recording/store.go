package recording

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	model "github.com/SeanZCai/treehacks-agentic-surgeon/internal/model/recording"
)

// ErrEmptyRecording is returned when an upload has no content.
var ErrEmptyRecording = errors.New("recording is empty")

// URLPrefix is where recordings are served from.
const URLPrefix = "/videos/"

// Store 管理录屏文件目录。
type Store struct {
	dir string
	now func() time.Time
}

// NewStore creates the directory if missing.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recordings dir: %w", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// Dir returns the directory served under URLPrefix.
func (s *Store) Dir() string {
	return s.dir
}

// List returns .webm recordings, newest first.
func (s *Store) List() ([]model.Recording, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read recordings dir: %w", err)
	}

	recordings := make([]model.Recording, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".webm") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		recordings = append(recordings, model.Recording{
			ID:        strings.TrimSuffix(entry.Name(), ".webm"),
			Filename:  entry.Name(),
			Timestamp: info.ModTime().UTC(),
			URL:       URLPrefix + entry.Name(),
		})
	}

	sort.SliceStable(recordings, func(i, j int) bool {
		return recordings[i].Timestamp.After(recordings[j].Timestamp)
	})
	return recordings, nil
}

// Save writes an uploaded recording as recording_{millis}.webm.
func (s *Store) Save(r io.Reader) (model.Recording, error) {
	now := s.now().UTC()
	filename := fmt.Sprintf("recording_%d.webm", now.UnixMilli())
	target := filepath.Join(s.dir, filename)

	f, err := createExclusive(target)
	if errors.Is(err, os.ErrExist) {
		// 同一毫秒内的重复上传
		filename = fmt.Sprintf("recording_%d_%s.webm", now.UnixMilli(), uuid.NewString()[:8])
		target = filepath.Join(s.dir, filename)
		f, err = createExclusive(target)
	}
	if err != nil {
		return model.Recording{}, fmt.Errorf("create recording: %w", err)
	}

	n, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr == nil && n == 0 {
		copyErr = ErrEmptyRecording
	}
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(target)
		if copyErr != nil {
			return model.Recording{}, fmt.Errorf("write recording: %w", copyErr)
		}
		return model.Recording{}, fmt.Errorf("close recording: %w", closeErr)
	}

	return model.Recording{
		ID:        strings.TrimSuffix(filename, ".webm"),
		Filename:  filename,
		Timestamp: now,
		URL:       URLPrefix + filename,
	}, nil
}

func createExclusive(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
}

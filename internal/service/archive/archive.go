package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/model/conversation"
)

// ErrKeyExists is returned by Put when an object is already stored under key.
var ErrKeyExists = errors.New("archive key already exists")

// maxKeyAttempts bounds how far PutSnapshot advances the millis on collisions.
const maxKeyAttempts = 1000

// Archive 是只写的快照存储，Put 不得覆盖已有对象。
type Archive interface {
	Put(ctx context.Context, key string, body []byte) error
}

// SnapshotKey returns "{conversationId}/{epochMillis}.json".
func SnapshotKey(conversationID string, at time.Time) string {
	return snapshotKey(conversationID, at.UnixMilli())
}

func snapshotKey(conversationID string, millis int64) string {
	return fmt.Sprintf("%s/%d.json", conversationID, millis)
}

// PutSnapshot encodes the annotation snapshot and writes it under its key.
// When another snapshot already holds that millisecond, the next free one is used.
func PutSnapshot(ctx context.Context, a Archive, annotation conversation.ComplianceAnnotation) (string, error) {
	body, err := json.Marshal(annotation.Snapshot())
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	millis := annotation.ProducedAt.UnixMilli()
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		key := snapshotKey(annotation.ConversationID, millis+int64(attempt))
		err := a.Put(ctx, key, body)
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, ErrKeyExists) {
			return "", err
		}
	}
	return "", fmt.Errorf("no free snapshot key after %d attempts: %w", maxKeyAttempts, ErrKeyExists)
}

// DirArchive writes snapshots below a local directory.
type DirArchive struct {
	root string
}

// NewDirArchive creates the root directory if needed.
func NewDirArchive(root string) (*DirArchive, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &DirArchive{root: root}, nil
}

// Put writes body to root/key, refusing keys that escape the root. The file
// is written to a private temp file and linked into place, so an existing
// snapshot is never replaced.
func (a *DirArchive) Put(ctx context.Context, key string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	clean := path.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return fmt.Errorf("invalid archive key %q", key)
	}

	target := filepath.Join(a.root, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create archive subdir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	_, writeErr := tmp.Write(body)
	closeErr := tmp.Close()
	if writeErr != nil {
		return fmt.Errorf("write snapshot: %w", writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close snapshot: %w", closeErr)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod snapshot: %w", err)
	}

	if err := os.Link(tmp.Name(), target); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrKeyExists, key)
		}
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

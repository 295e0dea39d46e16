// Package snapshot wraps the renderer's snapshot load and save calls with file checks and a content digest, so
// runs can record exactly which trained state they evaluated.
package snapshot

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"

	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/common"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/log"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/renderer"
)

// ErrSnapshotNotFound is returned when a snapshot to load does not exist.
var ErrSnapshotNotFound = fmt.Errorf("%w: snapshot not found", common.ErrIO)

// Handle identifies a snapshot file. Digest is the hex BLAKE2b-256 of its contents, empty when the file
// could not be read back (the renderer may write it lazily).
type Handle struct {
	Path   string `json:"path" bson:"path"`
	Digest string `json:"digest,omitempty" bson:"digest,omitempty"`
}

// Store loads and saves snapshots through a Renderer.
type Store struct {
	renderer renderer.Renderer
	logger   *log.Logger
}

func NewStore(r renderer.Renderer, logger *log.Logger) *Store {
	return &Store{renderer: r, logger: logger}
}

// Load checks that path exists, digests it and asks the renderer to load it.
func (s *Store) Load(ctx context.Context, path string) (Handle, error) {
	digest, err := Digest(path)
	if err != nil {
		return Handle{}, err
	}
	if err := s.renderer.LoadSnapshot(ctx, path); err != nil {
		return Handle{}, fmt.Errorf("failed to load snapshot %s: %w", path, err)
	}
	s.logger.Infow("snapshot loaded", "path", path, "digest", digest)
	return Handle{Path: path, Digest: digest}, nil
}

// Save creates the parent directory, asks the renderer to write the snapshot without optimizer state
// and digests the result.
func (s *Store) Save(ctx context.Context, path string) (Handle, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return Handle{}, fmt.Errorf("%w: failed to create directory %s: %v", common.ErrIO, dir, err)
		}
	}
	if err := s.renderer.SaveSnapshot(ctx, path, false); err != nil {
		return Handle{}, fmt.Errorf("failed to save snapshot %s: %w", path, err)
	}

	h := Handle{Path: path}
	digest, err := Digest(path)
	if err != nil {
		s.logger.Warnw("snapshot saved but not readable for digest", "path", path, "error", err)
		return h, nil
	}
	h.Digest = digest
	s.logger.Infow("snapshot saved", "path", path, "digest", digest)
	return h, nil
}

// Digest returns the hex BLAKE2b-256 of the file at path.
func Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrSnapshotNotFound, path)
		}
		return "", fmt.Errorf("%w: failed to open snapshot %s: %v", common.ErrIO, path, err)
	}
	defer f.Close()

	hash, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(hash, f); err != nil {
		return "", fmt.Errorf("%w: failed to read snapshot %s: %v", common.ErrIO, path, err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

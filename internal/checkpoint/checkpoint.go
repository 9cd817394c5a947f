// Package checkpoint persists crawl run records so that an interrupted run
// can continue after its last confirmed page.
package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/romangod6/listing-harvester/internal/models"
	"github.com/romangod6/listing-harvester/internal/storage"
	"github.com/romangod6/listing-harvester/internal/utils"
)

// Store loads and saves run records by run key. Load returns (nil, nil) when
// no record exists.
type Store interface {
	Load(ctx context.Context, runKey string) (*models.RunRecord, error)
	Save(ctx context.Context, rec *models.RunRecord) error
}

// Resume reports where a run continues. Only a failed run with at least one
// confirmed page is resumed, at the page after it. Completed and started
// runs, and failed runs with no confirmed page, start over.
func Resume(rec *models.RunRecord) (startPage int, ok bool) {
	if rec == nil || rec.Status != models.StatusFailed || rec.LastCompletedPage == nil {
		return 1, false
	}
	return *rec.LastCompletedPage + 1, true
}

// GatewayStore keeps run records in the checkpoints collection.
type GatewayStore struct {
	gateway *storage.Gateway
}

func NewGatewayStore(g *storage.Gateway) *GatewayStore {
	return &GatewayStore{gateway: g}
}

func (s *GatewayStore) Load(ctx context.Context, runKey string) (*models.RunRecord, error) {
	return s.gateway.LoadCheckpoint(ctx, runKey)
}

func (s *GatewayStore) Save(ctx context.Context, rec *models.RunRecord) error {
	return s.gateway.SaveCheckpoint(ctx, rec)
}

// FileStore keeps one JSON document per run key in a directory. Writes go to
// a temporary file that is renamed over the old record, so a crash leaves
// either the previous or the new record.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(runKey string) string {
	return filepath.Join(s.dir, fileName(runKey))
}

// fileName keeps run keys readable while staying inside the directory.
func fileName(runKey string) string {
	sum := sha256.Sum256([]byte(runKey))
	return utils.Slug(runKey) + "-" + hex.EncodeToString(sum[:4]) + ".json"
}

func (s *FileStore) Load(ctx context.Context, runKey string) (*models.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path(runKey))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var rec models.RunRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", runKey, err)
	}
	return &rec, nil
}

func (s *FileStore) Save(ctx context.Context, rec *models.RunRecord) error {
	if rec == nil || rec.RunKey == "" {
		return errors.New("checkpoint has no run key")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := json.MarshalIndent(rec, "", "    ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(rec.RunKey)); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

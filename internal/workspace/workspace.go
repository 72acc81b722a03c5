package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/seantiz/webgen/internal/model"
)

// Store allocates and looks up job workspaces.
//
// Identifiers come from an in-memory counter seeded from the highest
// workspace found on disk. The counter is guarded by mu, so concurrent
// Allocate calls always receive distinct identifiers.
type Store struct {
	baseDir     string
	templateDir string

	mu   sync.Mutex
	last int
}

// New creates a Store rooted at baseDir. floor is an externally known
// high-water mark (for example from the job index); the first allocated
// identifier is greater than both floor and every workspace on disk.
func New(baseDir, templateDir string, floor int) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}

	s := &Store{baseDir: baseDir, templateDir: templateDir}
	ids, err := s.List()
	if err != nil {
		return nil, err
	}
	s.last = floor
	if len(ids) > 0 {
		n, _ := model.ParseJobID(ids[len(ids)-1])
		s.last = max(s.last, n)
	}
	return s, nil
}

// BaseDir returns the directory holding all workspaces.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// CheckTemplate returns ErrTemplateMissing unless the template is a directory.
func (s *Store) CheckTemplate() error {
	info, err := os.Stat(s.templateDir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", model.ErrTemplateMissing, s.templateDir)
	}
	return nil
}

// List returns the identifiers of all workspaces on disk in ascending order.
// Entries that are not canonical job identifiers (the template, the index
// database) are skipped.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read base dir: %w", err)
	}

	var seqs []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if n, ok := model.ParseJobID(e.Name()); ok {
			seqs = append(seqs, n)
		}
	}
	slices.Sort(seqs)

	ids := make([]string, len(seqs))
	for i, n := range seqs {
		ids[i] = model.FormatJobID(n)
	}
	return ids, nil
}

// Allocate creates a new workspace seeded from the template and returns its
// identifier and path. The directory is created exclusively: an existing
// directory with the chosen name yields ErrAllocationConflict and is left
// untouched.
func (s *Store) Allocate(ctx context.Context) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	if err := s.CheckTemplate(); err != nil {
		return "", "", err
	}

	s.mu.Lock()
	s.last++
	id := model.FormatJobID(s.last)
	dir := filepath.Join(s.baseDir, id)
	err := os.Mkdir(dir, 0o755)
	s.mu.Unlock()

	if errors.Is(err, fs.ErrExist) {
		return "", "", fmt.Errorf("allocate %s: %w", id, model.ErrAllocationConflict)
	}
	if err != nil {
		return "", "", fmt.Errorf("create workspace %s: %w", id, err)
	}

	if err := copyTree(s.templateDir, dir); err != nil {
		os.RemoveAll(dir)
		return "", "", fmt.Errorf("%w: copy into %s: %v", model.ErrTemplateMissing, id, err)
	}

	return id, dir, nil
}

// Locate returns the workspace path for id, or ErrNotFound.
func (s *Store) Locate(id string) (string, error) {
	if _, ok := model.ParseJobID(id); !ok {
		return "", model.ErrNotFound
	}
	dir := filepath.Join(s.baseDir, id)
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return "", model.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("stat workspace: %w", err)
	}
	if !info.IsDir() {
		return "", model.ErrNotFound
	}
	return dir, nil
}

// ReadMeta reads the metadata record of job id. A missing workspace or record
// is ErrNotFound; an undecodable record is ErrInvalidMetadata.
func (s *Store) ReadMeta(ctx context.Context, id string) (model.Meta, error) {
	dir, err := s.Locate(id)
	if err != nil {
		return model.Meta{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.Meta{}, err
	}

	data, err := os.ReadFile(filepath.Join(dir, model.MetaFile))
	if errors.Is(err, fs.ErrNotExist) {
		return model.Meta{}, model.ErrNotFound
	}
	if err != nil {
		return model.Meta{}, fmt.Errorf("read metadata: %w", err)
	}

	var meta model.Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return model.Meta{}, fmt.Errorf("%w: %v", model.ErrInvalidMetadata, err)
	}
	return meta, nil
}

// WriteMeta durably writes the metadata record into dir. The record is
// staged in a temporary file, synced, then hard-linked into place, so
// readers never see a partial record and a second write fails instead of
// replacing the first.
func WriteMeta(dir string, meta model.Meta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".process-*.json")
	if err != nil {
		return fmt.Errorf("create temp metadata: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close metadata: %w", err)
	}

	if err := os.Link(tmpName, filepath.Join(dir, model.MetaFile)); err != nil {
		return fmt.Errorf("publish metadata: %w", err)
	}
	return syncDir(dir)
}

// Remove recursively deletes the workspace of job id.
func (s *Store) Remove(id string) error {
	dir, err := s.Locate(id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove workspace: %w", err)
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open workspace dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync workspace dir: %w", err)
	}
	return nil
}

// Package archive packages a finished workspace's result file as a zip.
// Packaging runs on a bounded set of worker goroutines so a large archive
// never holds up the goroutines serving status polls.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/seantiz/webgen/internal/model"
)

// DefaultWorkers is the packaging concurrency used when none is configured.
const DefaultWorkers = 2

// Packager builds result archives.
type Packager struct {
	sem *semaphore.Weighted
}

// NewPackager creates a Packager running at most workers archives at once.
func NewPackager(workers int) *Packager {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Packager{sem: semaphore.NewWeighted(int64(workers))}
}

type result struct {
	data []byte
	err  error
}

// Package zips the result file of the workspace at dir. The archive holds
// exactly one entry, the result file under its own name; logs, metadata and
// generator inputs are left out. It fails with ErrMissingOutput when the
// result file does not exist.
//
// The work runs on a worker goroutine. If ctx ends first Package returns
// ctx.Err() and the worker finishes in the background.
func (p *Packager) Package(ctx context.Context, dir string) ([]byte, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	done := make(chan result, 1)
	packageInflight.Inc()
	go func() {
		defer p.sem.Release(1)
		defer packageInflight.Dec()

		start := time.Now()
		data, err := zipResult(dir)
		packageDuration.Observe(time.Since(start).Seconds())
		done <- result{data: data, err: err}
	}()

	select {
	case r := <-done:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func zipResult(dir string) ([]byte, error) {
	path := filepath.Join(dir, model.ResultFile)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.Mode().IsRegular()) {
		return nil, fmt.Errorf("%w: %s", model.ErrMissingOutput, model.ResultFile)
	}
	if err != nil {
		return nil, fmt.Errorf("stat result file: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open result file: %w", err)
	}
	defer f.Close()

	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return nil, fmt.Errorf("build zip header: %w", err)
	}
	hdr.Name = model.ResultFile
	hdr.Method = zip.Deflate

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return nil, fmt.Errorf("create zip entry: %w", err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return nil, fmt.Errorf("compress result file: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finish zip: %w", err)
	}
	return buf.Bytes(), nil
}

package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"

	"github.com/seantiz/webgen/internal/model"
)

// handleStreamLogs follows the generator log of a job as server-sent events.
// Each complete line is sent as a data event; once the job is no longer
// running the rest of the log is flushed and a "done" event carrying the
// final status ends the stream. Writes to the log wake the stream early; the
// poll interval bounds how late the end of the job is noticed.
func (s *Server) handleStreamLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	path, err := s.jobs.LogPath(id)
	if err != nil {
		s.writeJobError(w, err, "stream logs", id)
		return
	}

	t := &logTail{path: path}
	defer t.close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	flush := func() {
		if canFlush {
			flusher.Flush()
		}
	}
	flush()

	ticker := time.NewTicker(s.logPoll)
	defer ticker.Stop()

	var (
		changed   <-chan fsnotify.Event
		watchErrs <-chan error
	)
	if watcher, err := fsnotify.NewWatcher(); err != nil {
		s.logger.Warn("watch log, falling back to polling", "website_id", id, "error", err)
	} else {
		defer watcher.Close()
		// Watch the directory so a log created after this point is seen.
		if err := watcher.Add(filepath.Dir(path)); err != nil {
			s.logger.Warn("watch log, falling back to polling", "website_id", id, "error", err)
		} else {
			changed, watchErrs = watcher.Events, watcher.Errors
		}
	}

	for {
		// Sample the status before reading so output written just before
		// the generator exited is still picked up by this pass.
		status, err := s.jobs.Status(r.Context(), id)
		if errors.Is(err, model.ErrNotFound) {
			status = model.StatusDeleted
		} else if err != nil {
			if r.Context().Err() == nil {
				s.logger.Error("status for log stream", "website_id", id, "error", err)
			}
			return
		}

		lines, err := t.next()
		if err != nil {
			s.logger.Error("read log", "website_id", id, "error", err)
		}
		for _, line := range lines {
			if err := writeSSEData(w, line); err != nil {
				return // Write failed (e.g. client gone).
			}
		}

		if status != model.StatusRunning {
			if rest := t.rest(); rest != "" {
				_ = writeSSEData(w, rest)
			}
			_ = writeSSEEvent(w, "done", status)
			flush()
			return
		}
		flush()

	wait:
		for {
			select {
			case <-ticker.C:
				break wait
			case ev := <-changed:
				if ev.Name == path && ev.Has(fsnotify.Write|fsnotify.Create) {
					break wait
				}
			case err := <-watchErrs:
				s.logger.Warn("log watcher", "website_id", id, "error", err)
			case <-r.Context().Done():
				return // Client disconnected.
			}
		}
	}
}

// logTail reads a log file that may still be growing, or not exist yet.
type logTail struct {
	path    string
	f       *os.File
	pending []byte
}

// next returns the complete lines appended since the last call.
func (t *logTail) next() ([]string, error) {
	if t.f == nil {
		f, err := os.Open(t.path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		t.f = f
	}

	data, err := io.ReadAll(t.f)
	t.pending = append(t.pending, data...)
	if err != nil {
		return nil, err
	}

	var lines []string
	for {
		i := bytes.IndexByte(t.pending, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, strings.TrimSuffix(string(t.pending[:i]), "\r"))
		t.pending = t.pending[i+1:]
	}
	return lines, nil
}

// rest returns and clears an unterminated trailing line.
func (t *logTail) rest() string {
	s := string(t.pending)
	t.pending = nil
	return s
}

func (t *logTail) close() {
	if t.f != nil {
		t.f.Close()
	}
}

// writeSSEData writes a log line as an SSE data event. Multi-line strings are
// split so that each segment gets its own "data:" prefix, per the SSE spec.
func writeSSEData(w http.ResponseWriter, line string) error {
	for seg := range strings.SplitSeq(line, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	// Blank line terminates the event.
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}

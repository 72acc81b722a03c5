package e2e

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/seantiz/webgen/internal/api"
	"github.com/seantiz/webgen/internal/archive"
	"github.com/seantiz/webgen/internal/jobs"
	"github.com/seantiz/webgen/internal/launcher"
	"github.com/seantiz/webgen/internal/probe"
	"github.com/seantiz/webgen/internal/store"
	"github.com/seantiz/webgen/internal/workspace"
)

// generator copies the task file into index.html, standing in for the real
// site generator.
const generator = `echo "reading $PROMPT_FILE"; sleep 0.5; ` +
	`{ echo '<html>'; cat "$PROMPT_FILE"; echo '</html>'; } > index.html; echo finished`

// stack is a full webgen server over one base directory.
type stack struct {
	ts   *httptest.Server
	base string
	db   *store.SQLiteStore
}

func newStack(t *testing.T, base, command string) *stack {
	t.Helper()

	tmpl := filepath.Join(base, "webgen_template")
	if err := os.MkdirAll(filepath.Join(tmpl, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmpl, "src", "app.js"), []byte("// app\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	db, err := store.NewSQLiteStore(filepath.Join(base, "webgen.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}

	floor, err := db.MaxSeq(context.Background())
	if err != nil {
		t.Fatalf("MaxSeq: %v", err)
	}
	ws, err := workspace.New(base, tmpl, floor)
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}
	p, err := probe.NewDefault()
	if err != nil {
		t.Fatalf("probe.NewDefault: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	ex, err := launcher.NewExec(launcher.Config{Shell: "/bin/sh", Command: command}, p, logger)
	if err != nil {
		t.Fatalf("NewExec: %v", err)
	}

	mgr := jobs.NewManager(jobs.Deps{
		Workspaces: ws,
		Launcher:   ex,
		Prober:     p,
		Packager:   archive.NewPackager(2),
		Index:      db,
		Logger:     logger,
	})
	srv := api.NewServer(":0", mgr, logger)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		ex.Wait()
		db.Close()
	})
	return &stack{ts: ts, base: base, db: db}
}

func (s *stack) start(t *testing.T, snapshot string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"snapshot": snapshot})
	resp, err := http.Post(s.ts.URL+"/start", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /start: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want 202\nbody: %s", resp.StatusCode, b)
	}
	var result map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return result["website_id"]
}

func (s *stack) status(t *testing.T, id string) (int, string) {
	t.Helper()
	resp, err := http.Get(s.ts.URL + "/status/" + id)
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	var result map[string]string
	json.NewDecoder(resp.Body).Decode(&result)
	return resp.StatusCode, result["status"]
}

func (s *stack) waitDone(t *testing.T, id string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if _, st := s.status(t, id); st == "done" {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("%s did not finish", id)
}

func (s *stack) del(t *testing.T, id string) int {
	t.Helper()
	req, _ := http.NewRequest(http.MethodDelete, s.ts.URL+"/delete/"+id, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestFullLifecycle(t *testing.T) {
	s := newStack(t, t.TempDir(), generator)
	snapshot := "intro ignored\nSource: https://a.com\nAlpha Inc\nSource: https://b.com/about\nBeta"

	id := s.start(t, snapshot)
	if id != "website_1" {
		t.Fatalf("id = %q, want website_1", id)
	}

	if code, st := s.status(t, id); code != http.StatusOK || st != "running" {
		t.Errorf("fresh status = %d %q, want 200 running", code, st)
	}

	resp, err := http.Get(s.ts.URL + "/download/" + id)
	if err != nil {
		t.Fatalf("GET /download: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("download while running = %d, want 409", resp.StatusCode)
	}

	s.waitDone(t, id)

	resp, err = http.Get(s.ts.URL + "/download/" + id)
	if err != nil {
		t.Fatalf("GET /download: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download = %d, want 200", resp.StatusCode)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("zip.NewReader: %v", err)
	}
	if len(zr.File) != 1 {
		t.Fatalf("entries = %d, want 1", len(zr.File))
	}
	rc, _ := zr.File[0].Open()
	page, _ := io.ReadAll(rc)
	rc.Close()

	onDisk, err := os.ReadFile(filepath.Join(s.base, id, "index.html"))
	if err != nil {
		t.Fatalf("read index.html: %v", err)
	}
	if !bytes.Equal(page, onDisk) {
		t.Error("archived index.html differs from workspace copy")
	}
	if !strings.Contains(string(page), "@https:__a_com, @https:__b_com_about") {
		t.Errorf("generated page does not reference both sources:\n%s", page)
	}

	for _, name := range []string{"https:__a_com.md", "https:__b_com_about.md", "src/app.js", "ccr.log", "process.json"} {
		if _, err := os.Stat(filepath.Join(s.base, id, name)); err != nil {
			t.Errorf("workspace missing %s: %v", name, err)
		}
	}

	if code := s.del(t, id); code != http.StatusOK {
		t.Fatalf("delete = %d, want 200", code)
	}
	if code, _ := s.status(t, id); code != http.StatusNotFound {
		t.Errorf("status after delete = %d, want 404", code)
	}
	if _, err := os.Stat(filepath.Join(s.base, id)); !os.IsNotExist(err) {
		t.Errorf("workspace still on disk: %v", err)
	}
}

func TestIDsSurviveRestart(t *testing.T) {
	base := t.TempDir()

	first := newStack(t, base, "true")
	first.start(t, "")
	id2 := first.start(t, "")
	if code := first.del(t, id2); code != http.StatusOK {
		t.Fatalf("delete = %d, want 200", code)
	}
	first.ts.Close()
	first.db.Close()

	// website_2 is gone from disk, but the index still remembers it.
	second := newStack(t, base, "true")
	if id := second.start(t, ""); id != "website_3" {
		t.Errorf("id after restart = %q, want website_3", id)
	}
}

func TestGeneratorSurvivesDelete(t *testing.T) {
	s := newStack(t, t.TempDir(), "sleep 30")
	id := s.start(t, "")

	raw, err := os.ReadFile(filepath.Join(s.base, id, "process.json"))
	if err != nil {
		t.Fatalf("read process.json: %v", err)
	}
	var meta struct {
		PID  int `json:"pid"`
		PGID int `json:"pgid"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		t.Fatalf("decode process.json: %v", err)
	}
	t.Cleanup(func() { syscall.Kill(-meta.PGID, syscall.SIGKILL) })

	if meta.PGID != meta.PID {
		t.Errorf("pgid = %d, want session leader pid %d", meta.PGID, meta.PID)
	}

	if code := s.del(t, id); code != http.StatusOK {
		t.Fatalf("delete = %d, want 200", code)
	}
	if err := syscall.Kill(meta.PID, 0); err != nil {
		t.Errorf("generator not running after delete: %v", err)
	}
}

func TestLogStreamEndsWithDone(t *testing.T) {
	s := newStack(t, t.TempDir(), generator)
	id := s.start(t, "")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, s.ts.URL+"/logs/"+id, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /logs: %v", err)
	}
	defer resp.Body.Close()

	var data, names []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if v, ok := strings.CutPrefix(line, "data: "); ok {
			data = append(data, v)
		}
		if v, ok := strings.CutPrefix(line, "event: "); ok {
			names = append(names, v)
		}
	}

	if len(names) != 1 || names[0] != "done" {
		t.Errorf("named events = %v, want [done]", names)
	}
	if len(data) < 2 || !strings.HasPrefix(data[0], "reading ") || data[len(data)-2] != "finished" {
		t.Errorf("log data = %v, want reading ... finished then done", data)
	}
}

func TestStatsAndEvents(t *testing.T) {
	s := newStack(t, t.TempDir(), "true")
	a := s.start(t, "")
	s.start(t, "")
	s.del(t, a)

	resp, err := http.Get(s.ts.URL + "/stats")
	if err != nil {
		t.Fatalf("GET /stats: %v", err)
	}
	var stats map[string]int
	json.NewDecoder(resp.Body).Decode(&stats)
	resp.Body.Close()
	if stats["total"] != 2 || stats["live"] != 1 || stats["deleted"] != 1 {
		t.Errorf("stats = %v, want total 2 live 1 deleted 1", stats)
	}

	resp, err = http.Get(s.ts.URL + "/jobs/" + a + "/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	var body struct {
		Events []struct {
			Kind string `json:"kind"`
		} `json:"events"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()

	var kinds []string
	for _, e := range body.Events {
		kinds = append(kinds, e.Kind)
	}
	if strings.Join(kinds, ",") != "created,launched,deleted" {
		t.Errorf("event kinds = %v", kinds)
	}
}

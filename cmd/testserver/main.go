// testserver starts a webgen API server whose generator is a short shell
// script, for E2E testing without the real site generator.
// Usage: go run ./cmd/testserver
package main

import (
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/seantiz/webgen/internal/api"
	"github.com/seantiz/webgen/internal/archive"
	"github.com/seantiz/webgen/internal/jobs"
	"github.com/seantiz/webgen/internal/launcher"
	"github.com/seantiz/webgen/internal/probe"
	"github.com/seantiz/webgen/internal/store"
	"github.com/seantiz/webgen/internal/workspace"
)

// stubGenerator logs a few lines, then writes index.html from the task file.
const stubGenerator = `echo "[stub] reading $PROMPT_FILE"; sleep 1; ` +
	`echo "[stub] writing index.html"; ` +
	`{ echo '<html><body><pre>'; cat "$PROMPT_FILE"; echo '</pre></body></html>'; } > index.html; ` +
	`echo "[stub] done"`

func main() {
	addr := ":8080"
	if v := os.Getenv("WEBGEN_LISTEN_ADDR"); v != "" {
		addr = v
	}

	base, err := os.MkdirTemp("", "webgen-testserver-")
	if err != nil {
		log.Fatalf("failed to create base directory: %v", err)
	}
	defer os.RemoveAll(base)

	tmpl := filepath.Join(base, "webgen_template")
	if err := os.Mkdir(tmpl, 0o755); err != nil {
		log.Fatalf("failed to create template: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tmpl, "README.md"), []byte("landing page template\n"), 0o644); err != nil {
		log.Fatalf("failed to seed template: %v", err)
	}

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ws, err := workspace.New(base, tmpl, 0)
	if err != nil {
		log.Fatalf("failed to open workspace store: %v", err)
	}
	prober, err := probe.NewDefault()
	if err != nil {
		log.Fatalf("failed to open procfs: %v", err)
	}
	exec, err := launcher.NewExec(launcher.Config{Shell: "/bin/sh", Command: stubGenerator}, prober, logger)
	if err != nil {
		log.Fatalf("failed to configure launcher: %v", err)
	}

	mgr := jobs.NewManager(jobs.Deps{
		Workspaces: ws,
		Launcher:   exec,
		Prober:     prober,
		Packager:   archive.NewPackager(archive.DefaultWorkers),
		Index:      db,
		Logger:     logger,
	})
	srv := api.NewServer(addr, mgr, logger)

	logger.Info("testserver: starting", "addr", addr, "base_dir", base)
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

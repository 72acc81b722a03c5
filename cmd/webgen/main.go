package main

import (
	"context"
	"log"
	"os"

	"github.com/seantiz/webgen/internal/api"
	"github.com/seantiz/webgen/internal/archive"
	"github.com/seantiz/webgen/internal/config"
	"github.com/seantiz/webgen/internal/jobs"
	"github.com/seantiz/webgen/internal/launcher"
	"github.com/seantiz/webgen/internal/probe"
	"github.com/seantiz/webgen/internal/store"
	"github.com/seantiz/webgen/internal/workspace"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("webgen: starting",
		"listen_addr", cfg.ListenAddr,
		"base_dir", cfg.BaseDir,
		"template_dir", cfg.TemplateDir,
		"db_path", cfg.DBPath,
		"run_as_user", cfg.RunAsUser,
	)

	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		log.Fatalf("failed to create base directory: %v", err)
	}

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	floor, err := db.MaxSeq(context.Background())
	if err != nil {
		log.Fatalf("failed to read job index: %v", err)
	}

	ws, err := workspace.New(cfg.BaseDir, cfg.TemplateDir, floor)
	if err != nil {
		log.Fatalf("failed to open workspace store: %v", err)
	}

	prober, err := probe.NewDefault()
	if err != nil {
		log.Fatalf("failed to open procfs: %v", err)
	}

	exec, err := launcher.NewExec(launcher.Config{
		Shell:     cfg.Shell,
		Command:   cfg.GeneratorCmd,
		RunAsUser: cfg.RunAsUser,
	}, prober, logger)
	if err != nil {
		log.Fatalf("failed to configure launcher: %v", err)
	}

	mgr := jobs.NewManager(jobs.Deps{
		Workspaces: ws,
		Launcher:   exec,
		Prober:     prober,
		Packager:   archive.NewPackager(cfg.PackWorkers),
		Index:      db,
		Logger:     logger,
	})

	srv := api.NewServer(cfg.ListenAddr, mgr, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

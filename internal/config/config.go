package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	defaultListenAddr   = ":8000"
	defaultBaseDir      = "/workspace"
	defaultTemplateName = "webgen_template"
	defaultDBName       = "webgen.db"
	defaultShell        = "/bin/bash"
	defaultPackWorkers  = 2

	// DefaultGeneratorCmd is run through the shell inside each workspace.
	// It loads nvm so an nvm-installed ccr is on PATH. HOME and
	// PROMPT_FILE are exported by the launcher.
	DefaultGeneratorCmd = `export NVM_DIR="$HOME/.nvm" && [ -s "$NVM_DIR/nvm.sh" ] && . "$NVM_DIR/nvm.sh" && ` +
		`NODE_NO_WARNINGS=1 ccr code --dangerously-skip-permissions --verbose ` +
		`--system-prompt-file "$PROMPT_FILE" --print "Customize this landing page"`

	envListenAddr   = "WEBGEN_LISTEN_ADDR"
	envBaseDir      = "WEBGEN_BASE_DIR"
	envTemplateDir  = "WEBGEN_TEMPLATE_DIR"
	envDBPath       = "WEBGEN_DB_PATH"
	envLogLevel     = "WEBGEN_LOG_LEVEL"
	envShell        = "WEBGEN_SHELL"
	envGeneratorCmd = "WEBGEN_GENERATOR_CMD"
	envRunAsUser    = "WEBGEN_RUN_AS_USER"
	envPackWorkers  = "WEBGEN_PACK_WORKERS"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr   string
	BaseDir      string
	TemplateDir  string
	DBPath       string
	LogLevel     slog.Level
	Shell        string
	GeneratorCmd string
	RunAsUser    string
	PackWorkers  int
}

// Load reads configuration from environment variables with sensible defaults.
// TemplateDir and DBPath default to locations inside BaseDir.
func Load() Config {
	cfg := Config{
		ListenAddr:   defaultListenAddr,
		BaseDir:      defaultBaseDir,
		LogLevel:     slog.LevelInfo,
		Shell:        defaultShell,
		GeneratorCmd: DefaultGeneratorCmd,
		PackWorkers:  defaultPackWorkers,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envBaseDir); v != "" {
		cfg.BaseDir = v
	}
	cfg.TemplateDir = filepath.Join(cfg.BaseDir, defaultTemplateName)
	cfg.DBPath = filepath.Join(cfg.BaseDir, defaultDBName)

	if v := os.Getenv(envTemplateDir); v != "" {
		cfg.TemplateDir = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envShell); v != "" {
		cfg.Shell = v
	}
	if v := os.Getenv(envGeneratorCmd); v != "" {
		cfg.GeneratorCmd = v
	}
	cfg.RunAsUser = os.Getenv(envRunAsUser)
	if v := os.Getenv(envPackWorkers); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PackWorkers = n
		}
	}

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

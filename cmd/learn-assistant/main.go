// ABOUTME: Entry point for the learn-assistant server
// ABOUTME: Subcommands: serve, init, keygen, health

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/MrYang2016/learn-assistant/internal/auth"
	"github.com/MrYang2016/learn-assistant/internal/chat"
	"github.com/MrYang2016/learn-assistant/internal/config"
	"github.com/MrYang2016/learn-assistant/internal/embedding"
	"github.com/MrYang2016/learn-assistant/internal/knowledge"
	"github.com/MrYang2016/learn-assistant/internal/mcp"
	"github.com/MrYang2016/learn-assistant/internal/store"
	"github.com/MrYang2016/learn-assistant/internal/web"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _                                          _     _              _
| | ___  __ _ _ __ _ __        __ _ ___ ___(_)___| |_ __ _ _ __ | |_
| |/ _ \/ _' | '__| '_ \ _____/ _' / __/ __| / __| __/ _' | '_ \| __|
| |  __/ (_| | |  | | | |_____| (_| \__ \__ \ \__ \ || (_| | | | | |_
|_|\___|\__,_|_|  |_| |_|      \__,_|___/___/_|___/\__\__,_|_| |_|\__|
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: learn-assistant <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                    Start the server")
		fmt.Println("  init                     Create a new config file")
		fmt.Println("  keygen --email EMAIL     Create an MCP API key for a user")
		fmt.Println("  health                   Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "keygen":
		err = runKeygen(ctx)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := config.DefaultPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	if cfg.Embedding.APIKey != "" {
		green.Print("    ▶ ")
		fmt.Printf("Search:   enabled\n")
	}
	if cfg.Chat.APIKey != "" {
		green.Print("    ▶ ")
		fmt.Printf("Chat:     enabled\n")
	}
	fmt.Println()

	logger.Info("starting learn-assistant",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	knowledgeSvc := knowledge.NewService(st, logger)
	tokens := auth.NewSessionTokens([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)
	authenticator := auth.NewAPIKeyAuthenticator(st, logger)

	var embedder *embedding.Client
	var searcher *chat.Searcher
	var chatSvc *chat.Service
	if cfg.Embedding.APIKey != "" {
		embedder = embedding.NewClient(embedding.Config{
			BaseURL: cfg.Embedding.BaseURL,
			APIKey:  cfg.Embedding.APIKey,
			Model:   cfg.Embedding.Model,
			Dim:     cfg.Embedding.Dim,
		})
		searcher = chat.NewSearcher(st, embedder)
		if cfg.Chat.APIKey != "" {
			completer := chat.NewLLMClient(chat.LLMConfig{
				BaseURL: cfg.Chat.BaseURL,
				APIKey:  cfg.Chat.APIKey,
				Model:   cfg.Chat.Model,
			})
			chatSvc = chat.NewService(searcher, completer, logger)
		}
	}

	registry := mcp.NewSessionRegistry(cfg.MCP.SessionLifetime, logger)
	defer registry.Shutdown()

	transport := mcp.NewTransport(mcp.TransportConfig{
		Verifier:          authenticator,
		Knowledge:         knowledgeSvc,
		Registry:          registry,
		Logger:            logger,
		HeartbeatInterval: cfg.MCP.HeartbeatInterval,
	})

	webCfg := web.Config{
		Store:     st,
		Knowledge: knowledgeSvc,
		Tokens:    tokens,
		MCP:       transport,
		Logger:    logger,
		Searcher:  searcher,
		Chat:      chatSvc,
	}
	if embedder != nil {
		webCfg.Embedder = embedder
	}
	server, err := web.NewServer(webCfg)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{level: level}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{level: h.level, attrs: newAttrs, groups: h.groups}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{level: h.level, attrs: h.attrs, groups: newGroups}
}

// runInit creates a config file with a random JWT secret at the default
// location. Refuses to overwrite an existing file.
func runInit() error {
	configPath := config.DefaultPath()

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	if _, err := os.Stat(configPath); err == nil {
		cyan.Printf("  Config already exists: %s\n", configPath)
		return nil
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	dbPath := filepath.Join(configDir, "learn.db")

	configContent := fmt.Sprintf(`# learn-assistant configuration
# Generated by learn-assistant init

server:
  http_addr: "localhost:8080"

database:
  path: "%s"

auth:
  jwt_secret: "%s"
  token_ttl: "168h"

mcp:
  session_lifetime: "1h"
  heartbeat_interval: "30s"

# Uncomment and fill in to enable semantic search and chat:
#
# embedding:
#   base_url: "https://api.openai.com/v1"
#   api_key: "${OPENAI_API_KEY}"
#   model: "text-embedding-3-small"
#
# chat:
#   base_url: "https://api.deepseek.com/v1"
#   api_key: "${DEEPSEEK_API_KEY}"
#   model: "deepseek-chat"

logging:
  level: "info"
  format: "text"
`, dbPath, jwtSecret)

	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green.Printf("  ✓ Created config: %s\n", configPath)
	return nil
}

// runKeygen creates an MCP API key for an existing user and prints it.
// The raw key is shown exactly once.
func runKeygen(ctx context.Context) error {
	var email, name string
	var expiresDays int

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--email" || arg == "-e":
			if i+1 >= len(args) {
				return fmt.Errorf("--email requires a value")
			}
			email = args[i+1]
			i++
		case strings.HasPrefix(arg, "--email="):
			email = strings.TrimPrefix(arg, "--email=")
		case arg == "--name" || arg == "-n":
			if i+1 >= len(args) {
				return fmt.Errorf("--name requires a value")
			}
			name = args[i+1]
			i++
		case strings.HasPrefix(arg, "--name="):
			name = strings.TrimPrefix(arg, "--name=")
		case strings.HasPrefix(arg, "--expires-days="):
			v, err := strconv.Atoi(strings.TrimPrefix(arg, "--expires-days="))
			if err != nil {
				return fmt.Errorf("invalid --expires-days value: %w", err)
			}
			expiresDays = v
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	if email == "" {
		return fmt.Errorf("--email flag is required")
	}
	if name == "" {
		name = "cli key"
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	user, err := st.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no user with email %s (sign up through the web app first)", email)
		}
		return fmt.Errorf("looking up user: %w", err)
	}

	var expiresAt *time.Time
	if expiresDays > 0 {
		t := time.Now().UTC().AddDate(0, 0, expiresDays)
		expiresAt = &t
	}

	key, err := auth.CreateAPIKey(ctx, st, user.ID, name, expiresAt)
	if err != nil {
		return fmt.Errorf("creating api key: %w", err)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Printf("  ✓ API key created for %s\n\n", email)
	fmt.Print("    ")
	color.New(color.FgCyan, color.Bold).Println(key.Key)
	fmt.Println()
	yellow.Println("  Store this key now; it cannot be shown again.")
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/healthz", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// Sable is a personal conversational agent.
//
// It keeps one conversation per user across every channel it listens
// on: an HTTP/WebSocket gateway and, optionally, an MQTT topic pair.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	sable serve              Start the gateway (and MQTT bridge if configured)
//	sable ask <question>     Ask a single question (for testing)
//	sable version            Print version and build information
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sable-ai/sable/internal/agent"
	"github.com/sable-ai/sable/internal/assembler"
	"github.com/sable-ai/sable/internal/buildinfo"
	"github.com/sable-ai/sable/internal/config"
	"github.com/sable-ai/sable/internal/events"
	"github.com/sable-ai/sable/internal/gateway"
	"github.com/sable-ai/sable/internal/llm"
	"github.com/sable-ai/sable/internal/memory"
	"github.com/sable-ai/sable/internal/mqtt"
	"github.com/sable-ai/sable/internal/persona"
	"github.com/sable-ai/sable/internal/react"
	"github.com/sable-ai/sable/internal/session"
	"github.com/sable-ai/sable/internal/tokens"
	"github.com/sable-ai/sable/internal/tools"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main constructs the OS-level environment and delegates to [run] so
// the full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand; the flag
// package relies on package-level globals that interfere with calling
// run concurrently from tests, and the surface here is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: sable ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "version":
		fmt.Fprintln(stdout, buildinfo.String())
		for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
			if v, ok := buildinfo.Info()[k]; ok {
				fmt.Fprintf(stdout, "  %-12s %s\n", k+":", v)
			}
		}
		return nil
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Sable - Personal Conversational Agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: sable [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the gateway server")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/sable/config.yaml, /etc/sable/config.yaml")
	return nil
}

// stack is everything runServe and runAsk share: the fully wired
// pipeline plus the handles needed for shutdown.
type stack struct {
	handler   *agent.Handler
	bus       *events.Bus
	persister *memory.Persister
	sessions  *session.SQLiteStore
	mem       *memory.SQLiteStore
	semantic  *memory.SemanticStore
	graph     *memory.GraphStore
}

func (s *stack) close() {
	// Let in-flight background writes land before their stores go away.
	if s.persister != nil {
		s.persister.Drain()
	}
	if s.graph != nil {
		s.graph.Close()
	}
	if s.semantic != nil {
		s.semantic.Close()
	}
	if s.mem != nil {
		s.mem.Close()
	}
	if s.sessions != nil {
		s.sessions.Close()
	}
}

// buildStack wires the whole pipeline from configuration: stores,
// tools, LLM client, reasoning loop, persistence fan-out, handler.
func buildStack(cfg *config.Config, logger *slog.Logger) (*stack, error) {
	if cfg.Anthropic.APIKey == "" {
		return nil, fmt.Errorf("anthropic.api_key is not configured")
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	st := &stack{}
	ok := false
	defer func() {
		if !ok {
			st.close()
		}
	}()

	var err error
	st.sessions, err = session.NewSQLiteStore(filepath.Join(cfg.DataDir, "sessions.db"))
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}
	st.mem, err = memory.NewSQLiteStore(filepath.Join(cfg.DataDir, "memory.db"))
	if err != nil {
		return nil, fmt.Errorf("open memory database: %w", err)
	}
	st.semantic, err = memory.NewSemanticStore(filepath.Join(cfg.DataDir, "facts.db"))
	if err != nil {
		return nil, fmt.Errorf("open fact database: %w", err)
	}
	st.graph, err = memory.NewGraphStore(filepath.Join(cfg.DataDir, "graph.db"))
	if err != nil {
		return nil, fmt.Errorf("open graph database: %w", err)
	}
	sessions, mem, semantic, graph := st.sessions, st.mem, st.semantic, st.graph

	bus := events.New()
	client := llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger)

	registry := tools.NewRegistry()
	tools.RegisterMemoryTools(registry, semantic)

	loop := react.New(client, tools.NewRunner(registry, logger), bus, react.Config{
		MaxIterations: cfg.Loop.MaxIterations,
		TotalTimeout:  cfg.Loop.TotalTimeout(),
		ToolTimeout:   cfg.Loop.ToolTimeout(),
		Model:         cfg.Anthropic.Model,
		MaxTokens:     cfg.Anthropic.MaxTokens,
	}, logger)

	stream := memory.NewStreamBuffer(0)
	provider := memory.NewProvider(mem, stream, semantic, graph, mem, mem, registry.Render)
	asm, err := assembler.New(provider, tokens.HeuristicCounter{}, cfg.Context, logger)
	if err != nil {
		return nil, fmt.Errorf("assembler: %w", err)
	}

	extractor := memory.NewLLMExtractor(client, cfg.Anthropic.Model, logger)
	st.persister = memory.NewPersister(stream, mem, mem, semantic, graph, extractor, bus, logger)

	base, err := loadPersona(cfg.PersonaFile)
	if err != nil {
		return nil, err
	}

	resolver := session.NewResolver(sessions, logger)
	st.handler = agent.NewHandler(resolver, persona.New(base), asm, loop, registry, st.persister, bus, logger)
	st.bus = bus

	ok = true
	return st, nil
}

// loadPersona reads the custom persona file if one is configured. An
// empty path means the built-in persona.
func loadPersona(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read persona file %s: %w", path, err)
	}
	return string(data), nil
}

func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Sable",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
	)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure now that the desired level is known. The initial
	// Info-level logger only covers the startup banner.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Anthropic.Model,
		"mqtt", cfg.MQTT.Enabled,
	)

	st, err := buildStack(cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	server := gateway.NewServer(cfg.Listen.Address, cfg.Listen.Port, st.handler, st.bus, logger)

	var bridge *mqtt.Bridge
	if cfg.MQTT.Enabled {
		bridge = mqtt.NewBridge(cfg.MQTT, st.handler, st.bus, logger)
		go func() {
			if err := bridge.Start(ctx); err != nil {
				logger.Error("mqtt bridge failed", "error", err)
			}
		}()
		logger.Info("mqtt bridge enabled",
			"broker", cfg.MQTT.BrokerURL,
			"inbound_topic", cfg.MQTT.InboundTopic,
		)
	} else {
		logger.Info("mqtt bridge disabled (not configured)")
	}

	// SIGINT/SIGTERM cancellation flows through the same ctx used by
	// all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if bridge != nil {
			if err := bridge.Stop(shutdownCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("gateway failed: %w", err)
		}
	}

	logger.Info("Sable stopped")
	return nil
}

// runAsk boots the full pipeline, processes one question on the cli
// channel, and prints the response.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn)
	question := strings.Join(args, " ")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	st, err := buildStack(cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	reply, err := st.handler.HandleRequest(ctx, agent.InboundMessage{
		UserID:    "default",
		ChannelID: "cli",
		Content:   question,
	}, nil)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, reply.Content)
	return nil
}

// newLogger creates a structured text logger. All log output goes
// through slog; this standardizes the handler configuration across
// subcommands.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

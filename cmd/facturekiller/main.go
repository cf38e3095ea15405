package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/evancuvelier/facturekiller-v3-sub001/internal/assetcache"
	"github.com/evancuvelier/facturekiller-v3-sub001/internal/assistant"
	"github.com/evancuvelier/facturekiller-v3-sub001/internal/capture"
	"github.com/evancuvelier/facturekiller-v3-sub001/internal/extraction"
	"github.com/evancuvelier/facturekiller-v3-sub001/internal/history"
	"github.com/evancuvelier/facturekiller-v3-sub001/internal/validation"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("facturekiller")
	var (
		port             = fs.IntLong("port", 8080, "HTTP server port")
		historyPath      = fs.StringLong("history-db", "facturekiller-history.db", "History database file path")
		cachePath        = fs.StringLong("cache-db", "facturekiller-assets.db", "Asset cache file path")
		storagePath      = fs.StringLong("storage", "./pages", "Page image storage directory")
		assetsVersion    = fs.StringLong("assets-version", version, "Asset cache generation tag")
		apiPrefix        = fs.StringLong("api-prefix", "/api/", "Dynamic API path prefix the asset cache never intercepts")
		extractorType    = fs.StringLong("extractor", "gemini", "Extractor type: 'gemini' or 'ollama'")
		geminiKey        = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel      = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL        = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel      = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, bakllava, qwen2-vl)")
		reminderInterval = fs.DurationLong("reminder-interval", 5*time.Minute, "Save reminder interval")
		authUser         = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass         = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion      = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("FACTUREKILLER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// Initialize history store
	slog.Info("Initializing history store...")
	historyStore, err := history.NewBoltStore(*historyPath)
	if err != nil {
		slog.Error("Failed to initialize history store", "error", err)
		os.Exit(1)
	}
	defer historyStore.Close()

	// Initialize asset cache
	slog.Info("Initializing asset cache...", "generation", *assetsVersion)
	cache, err := assetcache.Open(*cachePath, *assetsVersion, *apiPrefix)
	if err != nil {
		slog.Error("Failed to initialize asset cache", "error", err)
		os.Exit(1)
	}
	defer cache.Close()

	// Initialize extractor based on type
	var extractor extraction.Extractor
	switch *extractorType {
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini extractor...", "model", *geminiModel)
		extractor, err = extraction.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama extractor...", "url", *ollamaURL, "model", *ollamaModel)
		extractor, err = extraction.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid extractor type", "type", *extractorType, "valid", "gemini or ollama")
		os.Exit(1)
	}
	defer extractor.Close()

	// Initialize page storage
	slog.Info("Initializing page storage...")
	storage, err := capture.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize page storage", "error", err)
		os.Exit(1)
	}

	// Initialize workflow
	queue := capture.NewQueue()
	notifier := &assistant.LogNotifier{}
	pipeline := validation.NewPipelineWithDeps(queue, storage, extractor, historyStore, notifier, nil, *reminderInterval)
	service := assistant.NewService(queue, storage, pipeline, historyStore)

	// Initialize server
	basicAuth := assistant.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := assistant.NewServer(service, cache, basicAuth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}

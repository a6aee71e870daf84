package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/auth"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/bootstrap"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/chat"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/chatstore"
	chatpg "github.com/Yuucas/DeepSeek-Chat-WebApp/internal/chatstore/postgres"
	chatsqlite "github.com/Yuucas/DeepSeek-Chat-WebApp/internal/chatstore/sqlite"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/config"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/health"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/httpserver"
	ledgerasync "github.com/Yuucas/DeepSeek-Chat-WebApp/internal/ledger/async"
	ledgersql "github.com/Yuucas/DeepSeek-Chat-WebApp/internal/ledger/sqlite"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/logging"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/metrics"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/model"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/prompt"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/streamreg"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/userstore"
	userpg "github.com/Yuucas/DeepSeek-Chat-WebApp/internal/userstore/postgres"
	usersqlite "github.com/Yuucas/DeepSeek-Chat-WebApp/internal/userstore/sqlite"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/version"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "init":
			if err := runInit(os.Args[2:]); err != nil {
				log.Fatalf("chatd init failed: %v", err)
			}
			fmt.Println("chatd config initialised")
			return
		case "version", "--version":
			fmt.Println(version.FullInfo())
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	runDaemon()
}

func printUsage() {
	fmt.Print(`DeepSeek chat daemon

Usage:
  chatd                 Start the HTTP daemon
  chatd init [flags]    Generate config/setting.ini and environment overrides
  chatd version         Print build information

Flags for init:
  --root string          output directory (default '.')
  --env string           environment name (default 'dev')
  --listen-addr string   daemon bind address (default ':8000')
  --base-url string      public base URL (default 'http://localhost:8000')
  --model string         path to GGUF weights
  --adapter string       optional LoRA adapter path
  --model-family string  chat template family (default 'deepseek')
  --data-dir string      SQLite data directory (default ~/.deepseek-chat)
  --secret string        session signing secret (generated when empty)
  --force                overwrite existing files
`)
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	root := fs.String("root", ".", "config root")
	env := fs.String("env", "dev", "environment name")
	listenAddr := fs.String("listen-addr", ":8000", "daemon bind address")
	baseURL := fs.String("base-url", "http://localhost:8000", "public base URL")
	modelPath := fs.String("model", "", "path to GGUF weights")
	adapterPath := fs.String("adapter", "", "optional LoRA adapter path")
	modelFamily := fs.String("model-family", "deepseek", "chat template family")
	dataDir := fs.String("data-dir", "", "SQLite data directory")
	secret := fs.String("secret", "", "session signing secret")
	force := fs.Bool("force", false, "overwrite existing files")
	if err := fs.Parse(args); err != nil {
		return err
	}
	opts := bootstrap.InitOptions{
		Root:          *root,
		Environment:   *env,
		ListenAddr:    *listenAddr,
		BaseURL:       *baseURL,
		BaseModelPath: *modelPath,
		AdapterPath:   *adapterPath,
		ModelFamily:   *modelFamily,
		DataDir:       *dataDir,
		SecretKey:     *secret,
		Force:         *force,
	}
	if err := bootstrap.Validate(opts); err != nil {
		return err
	}
	return bootstrap.Init(opts)
}

func runDaemon() {
	cfg, err := config.LoadAppConfig(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if err := cfg.ValidateDaemon(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	// Initialize rotating file logging (default enabled when log_file provided)
	const maxLogBytes = int64(300 * 1024 * 1024) // 300MB
	logTarget := strings.TrimSpace(cfg.LogFileDaemon)
	if logTarget != "" && logTarget != "-" {
		rot, err := logging.NewRotatingWriter(logTarget, maxLogBytes)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		// Mirror to stdout as well for foreground runs
		log.SetOutput(io.MultiWriter(os.Stdout, rot))
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		log.SetPrefix("[chatd] ")
		defer rot.Close()
	}
	log.Printf("DeepSeek chat daemon %s", version.FullInfo())

	registry := prompt.NewRegistry()
	registry.SetLogger(log.Default())
	if cfg.TemplatesFile != "" {
		n, err := registry.Load(cfg.TemplatesFile)
		if err != nil {
			log.Fatalf("load chat templates: %v", err)
		}
		log.Printf("loaded %d chat templates from %s", n, cfg.TemplatesFile)
	}
	template, ok := registry.Lookup(cfg.ModelFamily)
	if !ok {
		log.Fatalf("no chat template for model family %q (known: %v)", cfg.ModelFamily, registry.Families())
	}

	engine := model.NewLlamaEngine(model.EngineConfig{
		ModelPath:   cfg.BaseModelPath,
		AdapterPath: cfg.AdapterPath,
		ContextSize: cfg.ContextSize,
		GPULayers:   cfg.GPULayers,
		Threads:     cfg.Threads,
	})
	runtime, err := model.NewRuntime(model.RuntimeConfig{
		ModelPath:   cfg.BaseModelPath,
		AdapterPath: cfg.AdapterPath,
		ModelName:   modelName(cfg.BaseModelPath),
		Template:    template,
		QueueDepth:  cfg.QueueDepth,
		Logger:      log.Default(),
	}, engine)
	if err != nil {
		log.Fatalf("start model runtime: %v", err)
	}
	defer runtime.Close()

	users, chats, usersDB, chatDB := openStores(cfg)
	defer users.Close()
	defer chats.Close()

	ledgerBase, err := ledgersql.New(cfg.LedgerPath)
	if err != nil {
		log.Fatalf("open ledger: %v", err)
	}
	ledgerStore := ledgerasync.New(ledgerBase, ledgerasync.Config{Logger: log.Default()})
	defer ledgerStore.Close()

	reg := streamreg.New()
	reg.SetLogger(log.Default())
	reg.StartJanitor(cfg.StreamTTL, 0)
	defer reg.StopJanitor()

	var collector *metrics.Collector
	if cfg.MetricsEnabled {
		collector = metrics.NewCollector()
	}

	chatCfg := chat.Config{
		MaxTurns:     cfg.MaxTurns,
		StallTimeout: cfg.StallTimeout,
		Logger:       log.Default(),
	}
	if collector != nil {
		chatCfg.Metrics = collector
	}
	chatSvc, err := chat.NewService(chatCfg, runtime, chats, reg, ledgerStore)
	if err != nil {
		log.Fatalf("build chat service: %v", err)
	}

	checker := health.New(health.Config{
		UsersDB:  usersDB,
		ChatDB:   chatDB,
		LedgerDB: ledgerBase.DB(),
		Runtime:  runtime,
	})

	httpSrv := httpserver.New(chatSvc, users, chats, auth.NewManager(cfg.AuthSecret))
	httpSrv.SetLogger(cfg.LogLevel, log.New(log.Writer(), "[chatd/http] ", log.LstdFlags|log.Lmicroseconds))
	httpSrv.SetHealthChecker(checker)
	if collector != nil {
		httpSrv.SetMetrics(collector)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpSrv.Router(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// SSE responses outlive any fixed write deadline; generation stalls
		// are bounded by the chat service instead.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("chat daemon listening on %s (env=%s, model=%s)", cfg.ListenAddr, cfg.Environment, modelName(cfg.BaseModelPath))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

// openStores selects PostgreSQL when DATABASE_URL is set and local SQLite
// files otherwise. The raw handles feed the health checker.
func openStores(cfg config.AppConfig) (userstore.Store, chatstore.Store, *sql.DB, *sql.DB) {
	if dsn := strings.TrimSpace(cfg.DatabaseURL); dsn != "" {
		users, err := userpg.New(dsn, userpg.DefaultConfig())
		if err != nil {
			log.Fatalf("open postgres user store: %v", err)
		}
		chats, err := chatpg.New(dsn, 25, 5, 5, 1)
		if err != nil {
			log.Fatalf("open postgres chat store: %v", err)
		}
		log.Printf("using PostgreSQL storage")
		return users, chats, users.DB(), chats.DB()
	}

	users, err := usersqlite.New(cfg.UsersPath)
	if err != nil {
		log.Fatalf("open user store: %v", err)
	}
	chats, err := chatsqlite.New(cfg.ChatPath)
	if err != nil {
		log.Fatalf("open chat store: %v", err)
	}
	log.Printf("using SQLite storage under %s", cfg.DataDir)
	return users, chats, users.DB(), chats.DB()
}

// modelName derives the reported model name from the weights file.
func modelName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/chatd.ini"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// AppConfig describes runtime options for the chat daemon and CLI.
//
// File values come from config/setting.ini merged with config/<env>/chatd.ini;
// environment variables take precedence. The model/auth keys keep their
// conventional unprefixed names (BASE_MODEL_ID, ADAPTER_PATH, SECRET_KEY,
// DATABASE_URL); everything else is prefixed DEEPSEEK_.
type AppConfig struct {
	Environment string

	// HTTP
	ListenAddr string
	BaseURL    string // CLI: where the daemon lives

	// Model runtime
	BaseModelPath string // path to GGUF weights; required for the daemon
	AdapterPath   string // optional LoRA adapter; must exist on disk when set
	ModelFamily   string // selects the chat-turn template
	ContextSize   int
	GPULayers     int
	Threads       int

	// Streaming pipeline
	MaxTurns     int           // conversation window size in user/assistant pairs
	QueueDepth   int           // pending generation jobs before initiate rejects
	StallTimeout time.Duration // max wait for the next fragment
	StreamTTL    time.Duration // registry eviction for never-opened streams

	// Prompt templates
	TemplatesFile string // optional YAML file with extra model-family templates

	// Persistence
	DatabaseURL string // postgres DSN; empty selects SQLite files under DataDir
	DataDir     string
	UsersPath   string
	ChatPath    string
	LedgerPath  string

	// Auth
	AuthSecret string // session token HMAC secret; required for the daemon

	// Observability
	MetricsEnabled bool // expose /metrics; on unless disabled

	// Logging. LogFile is the shared fallback when the per-binary ones are unset.
	LogFile       string
	LogFileCLI    string
	LogFileDaemon string
	LogLevel      string
}

// LoadAppConfig reads the current environment and loads the appropriate config file.
func LoadAppConfig(root string) (AppConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return AppConfig{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return AppConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}

	dataDir := firstNonEmpty(os.Getenv("DEEPSEEK_DATA_DIR"), merged["data_dir"], DefaultDataDir())

	cfg := AppConfig{
		Environment:   s.Environment,
		ListenAddr:    firstNonEmpty(os.Getenv("DEEPSEEK_ADDR"), merged["listen_addr"], ":8000"),
		BaseURL:       firstNonEmpty(os.Getenv("DEEPSEEK_BASE_URL"), merged["base_url"], "http://localhost:8000"),
		BaseModelPath: firstNonEmpty(os.Getenv("BASE_MODEL_ID"), merged["base_model_path"]),
		AdapterPath:   firstNonEmpty(os.Getenv("ADAPTER_PATH"), merged["adapter_path"]),
		ModelFamily:   firstNonEmpty(os.Getenv("DEEPSEEK_MODEL_FAMILY"), merged["model_family"], "deepseek"),
		ContextSize:   parseOptionalInt(firstNonEmpty(os.Getenv("DEEPSEEK_CONTEXT_SIZE"), merged["context_size"]), 4096),
		GPULayers:     parseOptionalInt(firstNonEmpty(os.Getenv("DEEPSEEK_GPU_LAYERS"), merged["gpu_layers"]), 0),
		Threads:       parseOptionalInt(firstNonEmpty(os.Getenv("DEEPSEEK_THREADS"), merged["threads"]), 0),
		MaxTurns:      parseOptionalInt(firstNonEmpty(os.Getenv("DEEPSEEK_MAX_TURNS"), merged["max_turns"]), 5),
		QueueDepth:    parseOptionalInt(firstNonEmpty(os.Getenv("DEEPSEEK_QUEUE_DEPTH"), merged["queue_depth"]), 8),
		TemplatesFile: firstNonEmpty(os.Getenv("DEEPSEEK_TEMPLATES_FILE"), merged["templates_file"]),
		DatabaseURL:   firstNonEmpty(os.Getenv("DATABASE_URL"), merged["database_url"]),
		DataDir:       dataDir,
		UsersPath:     firstNonEmpty(os.Getenv("DEEPSEEK_USERS_PATH"), merged["users_path"], filepath.Join(dataDir, "users.db")),
		ChatPath:      firstNonEmpty(os.Getenv("DEEPSEEK_CHAT_PATH"), merged["chat_path"], filepath.Join(dataDir, "chat.db")),
		LedgerPath:    firstNonEmpty(os.Getenv("DEEPSEEK_LEDGER_PATH"), merged["ledger_path"], filepath.Join(dataDir, "ledger.db")),
		AuthSecret:    firstNonEmpty(os.Getenv("SECRET_KEY"), merged["secret_key"]),
		LogFile:       firstNonEmpty(os.Getenv("DEEPSEEK_LOG_FILE"), merged["log_file"]),
		LogLevel:      firstNonEmpty(os.Getenv("DEEPSEEK_LOG_LEVEL"), merged["log_level"], "info"),
	}
	cfg.MetricsEnabled = parseOptionalBool(firstNonEmpty(os.Getenv("DEEPSEEK_METRICS"), merged["metrics_enabled"]), true)

	// Preferred separate log files with env override precedence
	cfg.LogFileCLI = firstNonEmpty(os.Getenv("DEEPSEEK_LOG_FILE_CLI"), os.Getenv("DEEPSEEK_LOG_FILE"), merged["log_file_cli"], merged["log_file"])
	cfg.LogFileDaemon = firstNonEmpty(os.Getenv("DEEPSEEK_LOG_FILE_DAEMON"), os.Getenv("DEEPSEEK_LOG_FILE"), merged["log_file_daemon"], merged["log_file"])

	cfg.StallTimeout, err = parseOptionalDuration(firstNonEmpty(os.Getenv("DEEPSEEK_STALL_TIMEOUT"), merged["stall_timeout"]), 5*time.Minute)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid stall_timeout: %w", err)
	}
	cfg.StreamTTL, err = parseOptionalDuration(firstNonEmpty(os.Getenv("DEEPSEEK_STREAM_TTL"), merged["stream_ttl"]), 5*time.Minute)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid stream_ttl: %w", err)
	}

	return cfg, nil
}

// ValidateDaemon checks the fields the daemon cannot start without.
func (c AppConfig) ValidateDaemon() error {
	if strings.TrimSpace(c.AuthSecret) == "" {
		return errors.New("config: SECRET_KEY (secret_key) is required")
	}
	if strings.TrimSpace(c.BaseModelPath) == "" {
		return errors.New("config: BASE_MODEL_ID (base_model_path) is required")
	}
	if p := strings.TrimSpace(c.AdapterPath); p != "" {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("config: adapter path %s: %w", p, err)
		}
	}
	return nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := values["environment"]
	if env == "" {
		env = defaultEnv
	}
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalBool(v string, fallback bool) bool {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return parseBool(v)
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func parseOptionalDuration(v string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	return time.ParseDuration(strings.TrimSpace(v))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// DefaultDataDir returns the fallback data directory under the user's home.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(home, ".deepseek-chat")
}

package bootstrap

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/config"
)

// InitOptions configures the bootstrap process for generating config files.
type InitOptions struct {
	Root          string
	Environment   string
	ListenAddr    string
	BaseURL       string
	BaseModelPath string
	AdapterPath   string
	ModelFamily   string
	DataDir       string
	SecretKey     string
	Force         bool
}

// Init scaffolds configuration files for the chat daemon. A missing secret
// key is generated so fresh installs never fall back to a guessable value.
func Init(opts InitOptions) error {
	if err := applyDefaults(&opts); err != nil {
		return err
	}
	if err := ensureDir(filepath.Join(opts.Root, "config", opts.Environment)); err != nil {
		return err
	}

	settingPath := filepath.Join(opts.Root, "config", "setting.ini")
	if err := writeFile(settingPath, settingTemplate(opts), opts.Force); err != nil {
		return err
	}

	daemonPath := filepath.Join(opts.Root, "config", opts.Environment, "chatd.ini")
	if err := writeFile(daemonPath, daemonTemplate(opts), opts.Force); err != nil {
		return err
	}

	return nil
}

func applyDefaults(opts *InitOptions) error {
	if strings.TrimSpace(opts.Root) == "" {
		opts.Root = "."
	}
	if strings.TrimSpace(opts.Environment) == "" {
		opts.Environment = "dev"
	}
	if strings.TrimSpace(opts.ListenAddr) == "" {
		opts.ListenAddr = ":8000"
	}
	if strings.TrimSpace(opts.BaseURL) == "" {
		opts.BaseURL = "http://localhost:8000"
	}
	if strings.TrimSpace(opts.ModelFamily) == "" {
		opts.ModelFamily = "deepseek"
	}
	if strings.TrimSpace(opts.DataDir) == "" {
		opts.DataDir = config.DefaultDataDir()
	}
	if strings.TrimSpace(opts.SecretKey) == "" {
		secret, err := generateSecret()
		if err != nil {
			return err
		}
		opts.SecretKey = secret
	}
	return nil
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func ensureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

func writeFile(path, contents string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("file already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(contents), 0o644)
}

func settingTemplate(opts InitOptions) string {
	return fmt.Sprintf(`# DeepSeek chat settings
environment=%s
log_level=info
metrics_enabled=true
secret_key=%s
`, opts.Environment, opts.SecretKey)
}

func daemonTemplate(opts InitOptions) string {
	return fmt.Sprintf(`# Environment specific overrides for %s
listen_addr=%s
base_url=%s
# Separate log files (CLI and daemon). Dash '-' disables file output.
log_file_cli=logs/chatctl.log
log_file_daemon=logs/chatd.log
# GGUF weights the daemon serves. Required before the first start.
base_model_path=%s
adapter_path=%s
model_family=%s
data_dir=%s
`, opts.Environment, opts.ListenAddr, opts.BaseURL, opts.BaseModelPath, opts.AdapterPath, opts.ModelFamily, opts.DataDir)
}

// Validate ensures required fields are present without modifying files.
func Validate(opts InitOptions) error {
	if err := applyDefaults(&opts); err != nil {
		return err
	}
	if len(opts.SecretKey) < 16 {
		return errors.New("secret key must be at least 16 characters")
	}
	if strings.TrimSpace(opts.AdapterPath) != "" && strings.TrimSpace(opts.BaseModelPath) == "" {
		return errors.New("adapter_path requires base_model_path")
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/bootstrap"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/client"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/config"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "init":
		if err := runInit(args); err != nil {
			log.Fatalf("chatctl init failed: %v", err)
		}
		fmt.Println("chatctl config initialised")
		return
	case "version", "--version":
		fmt.Println(version.FullInfo())
		return
	case "help", "--help", "-h":
		printUsage()
		return
	}

	env, cleanup, err := newEnv(cmd)
	if err != nil {
		log.Fatalf("chatctl: %v", err)
	}
	defer cleanup()

	ctx := context.Background()
	switch cmd {
	case "signup":
		err = runSignup(ctx, env, args)
	case "login":
		err = runLogin(ctx, env, args)
	case "logout":
		err = runLogout(ctx, env)
	case "me":
		err = runMe(ctx, env)
	case "sessions":
		err = runSessions(ctx, env)
	case "history":
		err = runHistory(ctx, env, args)
	case "delete":
		err = runDelete(ctx, env, args)
	case "chat":
		err = runChat(ctx, env, args)
	default:
		printUsage()
		os.Exit(2)
	}
	if err != nil {
		env.logger.Printf("%s failed: %v", cmd, err)
		fmt.Fprintf(os.Stderr, "chatctl %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`DeepSeek chat CLI

Usage:
  chatctl init [flags]                              Generate client config files
  chatctl signup --email <addr> [--password <pw>]   Register an account
  chatctl login --email <addr> [--password <pw>]    Log in and store the session
  chatctl logout                                    Log out and clear the session
  chatctl me                                        Show the authenticated account
  chatctl sessions                                  List conversations
  chatctl history --session <id>                    Show one conversation
  chatctl delete --session <id>                     Delete a conversation
  chatctl chat [--session <id>] <message>           Send a message and stream the reply
  chatctl version                                   Print build information

The password flags fall back to DEEPSEEK_PASSWORD. The daemon address comes
from config/setting.ini or DEEPSEEK_BASE_URL.
`)
}

// runInit scaffolds client-side config. Daemon knobs such as model paths
// belong to 'chatd init'.
func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	root := fs.String("root", ".", "config root")
	env := fs.String("env", "dev", "environment name")
	baseURL := fs.String("base-url", "http://localhost:8000", "daemon base URL")
	dataDir := fs.String("data-dir", "", "session and data directory")
	secret := fs.String("secret", "", "session signing secret")
	force := fs.Bool("force", false, "overwrite existing files")
	if err := fs.Parse(args); err != nil {
		return err
	}
	opts := bootstrap.InitOptions{
		Root:        *root,
		Environment: *env,
		BaseURL:     *baseURL,
		DataDir:     *dataDir,
		SecretKey:   *secret,
		Force:       *force,
	}
	if err := bootstrap.Validate(opts); err != nil {
		return err
	}
	return bootstrap.Init(opts)
}

type cliEnv struct {
	cfg    config.AppConfig
	client *client.ChatClient
	logger *log.Logger
}

// newEnv loads config, sets up CLI logging and restores a stored session.
func newEnv(cmd string) (*cliEnv, func(), error) {
	cfg, err := config.LoadAppConfig(".")
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	logOutput := io.Writer(os.Stdout)
	cleanup := func() {}
	logTarget := strings.TrimSpace(cfg.LogFileCLI)
	if logTarget != "" && logTarget != "-" {
		if !filepath.IsAbs(logTarget) {
			logTarget = filepath.Join(".", logTarget)
		}
		if err := os.MkdirAll(filepath.Dir(logTarget), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		file, err := os.OpenFile(logTarget, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		logOutput = io.MultiWriter(os.Stdout, file)
		cleanup = func() { _ = file.Close() }
	}

	levelTag := strings.ToUpper(cfg.LogLevel)
	logger := log.New(logOutput, fmt.Sprintf("[chatctl/main][%s][%s] ", cfg.Environment, levelTag), log.LstdFlags|log.Lmicroseconds)

	chatClient, err := client.NewChatClient(cfg.BaseURL, nil)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("create client: %w", err)
	}
	if token, err := os.ReadFile(sessionPath(cfg)); err == nil {
		chatClient.SetSession(strings.TrimSpace(string(token)))
	}

	logger.Printf("chatctl %s base_url=%s", cmd, cfg.BaseURL)
	return &cliEnv{cfg: cfg, client: chatClient, logger: logger}, cleanup, nil
}

// sessionPath is where login stores the captured session token.
func sessionPath(cfg config.AppConfig) string {
	return filepath.Join(cfg.DataDir, "session")
}

func credentialFlags(name string, args []string) (email, password string, err error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	emailFlag := fs.String("email", "", "account email")
	passwordFlag := fs.String("password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return "", "", err
	}
	email = strings.TrimSpace(*emailFlag)
	if email == "" {
		return "", "", errors.New("--email is required")
	}
	password = *passwordFlag
	if password == "" {
		password = os.Getenv("DEEPSEEK_PASSWORD")
	}
	if password == "" {
		return "", "", errors.New("--password or DEEPSEEK_PASSWORD is required")
	}
	return email, password, nil
}

func runSignup(ctx context.Context, env *cliEnv, args []string) error {
	email, password, err := credentialFlags("signup", args)
	if err != nil {
		return err
	}
	user, err := env.client.Signup(ctx, email, password)
	if err != nil {
		return err
	}
	fmt.Printf("account created id=%d email=%s\n", user.ID, user.Email)
	return nil
}

func runLogin(ctx context.Context, env *cliEnv, args []string) error {
	email, password, err := credentialFlags("login", args)
	if err != nil {
		return err
	}
	result, err := env.client.Login(ctx, email, password)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(env.cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	if err := os.WriteFile(sessionPath(env.cfg), []byte(env.client.SessionToken()), 0o600); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	fmt.Printf("logged in as %s\n", result.Email)
	return nil
}

func runLogout(ctx context.Context, env *cliEnv) error {
	if err := env.client.Logout(ctx); err != nil {
		env.logger.Printf("server logout failed: %v", err)
	}
	if err := os.Remove(sessionPath(env.cfg)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear session: %w", err)
	}
	fmt.Println("logged out")
	return nil
}

func runMe(ctx context.Context, env *cliEnv) error {
	user, err := env.client.Me(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("id=%d email=%s\n", user.ID, user.Email)
	return nil
}

func runSessions(ctx context.Context, env *cliEnv) error {
	sessions, err := env.client.Sessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("no sessions")
		return nil
	}
	for _, s := range sessions {
		fmt.Printf("%s  %s  %s\n", s.ID, s.LastUpdatedAt.Local().Format(time.RFC3339), s.Title)
	}
	return nil
}

func sessionIDFlag(name string, args []string) (string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	session := fs.String("session", "", "session id")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if strings.TrimSpace(*session) == "" {
		return "", errors.New("--session is required")
	}
	return *session, nil
}

func runHistory(ctx context.Context, env *cliEnv, args []string) error {
	sessionID, err := sessionIDFlag("history", args)
	if err != nil {
		return err
	}
	detail, err := env.client.Session(ctx, sessionID)
	if err != nil {
		return err
	}
	fmt.Printf("%s (%s)\n", detail.Title, detail.ID)
	for _, m := range detail.Messages {
		fmt.Printf("[%s] %s\n", m.Role, m.Content)
	}
	return nil
}

func runDelete(ctx context.Context, env *cliEnv, args []string) error {
	sessionID, err := sessionIDFlag("delete", args)
	if err != nil {
		return err
	}
	if err := env.client.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	fmt.Println("session deleted")
	return nil
}

func runChat(ctx context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	session := fs.String("session", "", "existing session id (new session when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	message := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if message == "" {
		return errors.New("message required")
	}

	initiated, err := env.client.Initiate(ctx, *session, message)
	if err != nil {
		return err
	}

	streamErr := env.client.Stream(ctx, initiated.StreamID, func(fragment string) error {
		fmt.Print(fragment)
		return nil
	})
	fmt.Println()
	if streamErr != nil {
		return streamErr
	}
	if *session == "" {
		fmt.Printf("session: %s\n", initiated.SessionID)
	}
	return nil
}

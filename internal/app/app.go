package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hitoshi/cortexsync/internal/config"
	"github.com/hitoshi/cortexsync/internal/database"
	"github.com/hitoshi/cortexsync/internal/integration"
	"github.com/hitoshi/cortexsync/internal/logger"
	"github.com/hitoshi/cortexsync/internal/model"
	"github.com/hitoshi/cortexsync/internal/session"
)

// 非対話ログイン用の環境変数
const (
	envLoginEmail    = "CORTEX_EMAIL"
	envLoginPassword = "CORTEX_PASSWORD"
)

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, slog.LevelInfo)

	// .envは任意。存在しなければ環境変数のみを使う
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, log, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。stdoutにはコマンドの結果、stderrにはログを出力する。
func Run(stdout, stderr io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return run(ctx, stdout, stderr, args)
}

func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "3000"
		}
		return runHealthcheck(port)
	}

	cfg, log, err := Init(stderr)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	log.Debug("アプリケーションを起動します",
		slog.String("command", string(cmd)),
		slog.String("backend_url", cfg.BackendURL),
		slog.String("credential_store", cfg.CredentialStore),
	)

	if cmd == CommandMigrate {
		return runMigrate(cfg, log)
	}

	var nav session.Navigator
	if cmd == CommandServe || cmd == CommandWatch {
		nav = session.NavigatorFunc(func(dest string) {
			log.Info("遷移先が変更されました", slog.String("dest", dest))
		})
	}

	c, err := buildComponents(ctx, cfg, log, nav)
	if err != nil {
		return err
	}

	switch cmd {
	case CommandWatch:
		err = runWatch(ctx, c)
	case CommandLogin:
		err = runLogin(ctx, c, stdout, args[1:])
	case CommandLogout:
		err = runLogout(ctx, c, stdout)
	case CommandStatus:
		err = runStatus(ctx, c, stdout)
	default:
		err = runServe(ctx, c)
	}

	if closeErr := c.Close(); closeErr != nil {
		log.Error("リソースの解放に失敗しました", slog.String("error", closeErr.Error()))
	}
	return err
}

// loginResult はloginコマンドの出力。
type loginResult struct {
	Session  model.Session `json:"session"`
	Redirect string        `json:"redirect"`
}

// runLogin はメールアドレスとパスワードでログインし、資格情報を保存する。
// 引数がない場合は CORTEX_EMAIL / CORTEX_PASSWORD を使う。
func runLogin(ctx context.Context, c *components, stdout io.Writer, args []string) error {
	email := os.Getenv(envLoginEmail)
	password := os.Getenv(envLoginPassword)
	if len(args) >= 1 {
		email = args[0]
	}
	if len(args) >= 2 {
		password = args[1]
	}
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return fmt.Errorf("usage: login <email> <password> (or set %s and %s)", envLoginEmail, envLoginPassword)
	}

	dest, err := c.sessions.LoginWithPassword(ctx, email, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	c.logger.Info("ログインしました", slog.String("email", email))
	return writeResult(stdout, loginResult{Session: c.sessions.Snapshot(), Redirect: dest})
}

// runLogout は資格情報を削除する。未ログインでも成功とする。
func runLogout(ctx context.Context, c *components, stdout io.Writer) error {
	dest, err := c.sessions.Logout(ctx)
	if err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}
	c.reconciler.Reset()

	c.logger.Info("ログアウトしました")
	return writeResult(stdout, map[string]string{"redirect": dest})
}

// statusResult はstatusコマンドの出力。
type statusResult struct {
	Session     model.Session      `json:"session"`
	Integration *integration.State `json:"integration,omitempty"`
	Scans       []model.Scan       `json:"scans,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// runStatus は保存済みの資格情報を検証し、セッション・連携・スキャンの状態を出力する。
func runStatus(ctx context.Context, c *components, stdout io.Writer) error {
	if err := c.sessions.Start(ctx); err != nil {
		return fmt.Errorf("failed to verify session: %w", err)
	}

	result := statusResult{Session: c.sessions.Snapshot()}
	if !result.Session.IsAuthenticated() {
		return writeResult(stdout, result)
	}

	state, err := c.reconciler.Load(ctx, nil)
	if err != nil {
		apiErr, ok := model.AsAPIError(err)
		if !ok || apiErr.Category == model.CategoryAuth {
			return fmt.Errorf("failed to load integration: %w", err)
		}
		result.Error = apiErr.Message
	}
	result.Integration = &state
	result.Scans = c.poller.Scans()
	// 連携状態の取得中に資格情報が失効した場合を反映する
	result.Session = c.sessions.Snapshot()

	return writeResult(stdout, result)
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, log *slog.Logger) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for migrate")
	}

	log.Info("データベースマイグレーションを実行します",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	status, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("データベースマイグレーションが完了しました",
		slog.Uint64("version", uint64(status.Version)),
		slog.Bool("applied", status.Applied),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	u.RawQuery = ""
	return u.String()
}

func writeResult(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}

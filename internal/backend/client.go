// Package backend はLogicortexスキャンバックエンドのREST APIクライアントを提供する。
// 資格情報は呼び出しごとに引数で受け取り、クライアント自身は保持しない。
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hitoshi/cortexsync/internal/metrics"
	"github.com/hitoshi/cortexsync/internal/model"
)

// maxResponseSize はレスポンスボディの読み取り上限（5MB）。
const maxResponseSize = 5 * 1024 * 1024

// ClientConfig はClientの生成パラメータ。
type ClientConfig struct {
	BaseURL   string
	RateLimit rate.Limit // 0以下の場合は無制限
	Burst     int
	Metrics   metrics.Recorder
}

// Client はバックエンドAPIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	limiter    *rate.Limiter
	metrics    metrics.Recorder
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, cfg ClientConfig) *Client {
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		limiter:    rate.NewLimiter(limit, burst),
		metrics:    metrics.OrNop(cfg.Metrics),
	}
}

// BaseURL はバックエンドのベースURLを返す。
func (c *Client) BaseURL() string {
	return c.baseURL
}

// request は1回のAPI呼び出しを表す。
type request struct {
	method   string
	path     string
	endpoint string // メトリクス用のルートパターン
	token    string // 空の場合はAuthorizationヘッダーを付与しない
	body     any
}

// do はリクエストを送信し、2xxの場合にレスポンスボディをoutへデコードする。
// 2xx以外の場合は (ステータスコード, detail, nil) を返し、分類は呼び出し元が行う。
// ネットワーク障害の場合はBackendUnavailableを返す。
func (c *Client) do(ctx context.Context, r request, out any) (int, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, "", fmt.Errorf("rate limiter wait: %w", err)
	}

	var body io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return 0, "", fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "cortexsync/1.0")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// 呼び出し元によるキャンセルはバックエンド障害として扱わない
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, "", ctxErr
		}
		c.metrics.RecordBackendFailure(r.endpoint)
		c.logger.Warn("バックエンドAPIの呼び出しに失敗しました",
			slog.String("endpoint", r.endpoint),
			slog.String("error", err.Error()),
		)
		return 0, "", model.NewBackendUnavailableError(0, err.Error())
	}
	defer resp.Body.Close()

	c.metrics.RecordBackendRequest(r.endpoint, resp.StatusCode, time.Since(start))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return resp.StatusCode, "", model.NewBackendUnavailableError(resp.StatusCode, "failed to read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := parseDetail(data)
		c.logger.Debug("バックエンドAPIがエラーステータスを返しました",
			slog.String("endpoint", r.endpoint),
			slog.Int("http_status", resp.StatusCode),
			slog.String("detail", detail),
		)
		return resp.StatusCode, detail, nil
	}

	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, "", model.NewBackendUnavailableError(resp.StatusCode,
				fmt.Sprintf("unexpected response from %s: %v", r.endpoint, err))
		}
	}
	return resp.StatusCode, "", nil
}

// call は認証付きエンドポイント共通のエラー分類を行う。
// 401はAuthExpired、5xxはBackendUnavailable、それ以外の4xxはValidationErrorとなる。
func (c *Client) call(ctx context.Context, r request, out any) error {
	status, detail, err := c.do(ctx, r, out)
	if err != nil {
		return err
	}
	return classify(status, detail, r.token != "")
}

func classify(status int, detail string, authenticated bool) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized && authenticated:
		return model.NewAuthExpiredError()
	case status >= 500:
		return model.NewBackendUnavailableError(status, detail)
	default:
		return model.NewValidationError(status, detail)
	}
}

// validationItem はFastAPIのバリデーションエラー1件。
type validationItem struct {
	Loc []any  `json:"loc"`
	Msg string `json:"msg"`
}

// parseDetail はFastAPI形式のエラーボディ {"detail": ...} からメッセージを取り出す。
// detailは文字列またはバリデーションエラーの配列のどちらか。
func parseDetail(data []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || len(envelope.Detail) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(envelope.Detail, &s); err == nil {
		return s
	}

	var items []validationItem
	if err := json.Unmarshal(envelope.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, item := range items {
			if item.Msg == "" {
				continue
			}
			if field := lastLoc(item.Loc); field != "" {
				msgs = append(msgs, fmt.Sprintf("%s: %s", field, item.Msg))
			} else {
				msgs = append(msgs, item.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}

	return string(envelope.Detail)
}

func lastLoc(loc []any) string {
	if len(loc) == 0 {
		return ""
	}
	if s, ok := loc[len(loc)-1].(string); ok && s != "body" {
		return s
	}
	return ""
}

// IsCanceled はerrが呼び出し元のキャンセルによるものかを判定する。
// キャンセルされた呼び出しの結果は破棄し、状態に反映しない。
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

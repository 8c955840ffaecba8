// Package slack はSlackプロフィールAPIへのステータス送信を提供する。
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// defaultEndpoint はSlackプロフィール更新APIのエンドポイント。
const defaultEndpoint = "https://slack.com/api/users.profile.set"

// ErrPublish はステータス送信の失敗を表す。
// トランスポート層の失敗とAPIの否定応答（ok: false）の両方を含む。
var ErrPublish = errors.New("slack: profile update failed")

// Client はSlack APIのクライアント。
// users.profile.setでユーザーのステータス絵文字と本文を更新する。
type Client struct {
	httpClient *http.Client
	token      string
	logger     *slog.Logger
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, token string, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		endpoint:   defaultEndpoint,
	}
}

// profilePayload はusers.profile.setのリクエストボディ。
type profilePayload struct {
	Profile profileFields `json:"profile"`
}

type profileFields struct {
	StatusEmoji string `json:"status_emoji"`
	StatusText  string `json:"status_text"`
}

// apiResponse はSlack APIの共通レスポンス。
type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// SetStatus はステータス絵文字と本文をユーザープロフィールへ設定する。
// 同一ペイロードの再送はlast-write-winsで冪等。
// 非2xx応答、トランスポート失敗、ok: falseのいずれもエラーを返す。
func (c *Client) SetStatus(ctx context.Context, emoji, text string) error {
	payload := profilePayload{
		Profile: profileFields{
			StatusEmoji: emoji,
			StatusText:  text,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode payload: %v", ErrPublish, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrPublish, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Slack APIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %v", ErrPublish, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Slack APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return fmt.Errorf("%w: status %d", ErrPublish, resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response body: %v", ErrPublish, err)
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("%w: parse response: %v", ErrPublish, err)
	}

	// okフィールドの欠落・falseは否定応答として扱う
	if !result.OK {
		c.logger.Error("Slack APIが否定応答を返しました",
			slog.String("api_error", result.Error),
		)
		return fmt.Errorf("%w: api error %q", ErrPublish, result.Error)
	}

	return nil
}

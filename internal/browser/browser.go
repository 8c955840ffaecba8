// Package browser はページ自動操作エンジンへの薄い抽象を提供する。
// セッション管理ロジックが実ブラウザなしでテストできるよう、
// 必要最小限の操作だけをインターフェースとして切り出している。
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// Session はブラウジングセッションに対する最小限の操作を表す。
// テスト時にフェイク実装に差し替え可能。
type Session interface {
	// Navigate は指定URLへ遷移し、ロード完了まで待機する。
	Navigate(ctx context.Context, url string) error
	// WaitVisible はセレクタに一致する要素が可視になるまで待機する。
	// タイムアウトした場合はエラーを返す。
	WaitVisible(ctx context.Context, sel string) error
	// SendKeys はセレクタに一致する入力要素へ文字列を入力する。
	SendKeys(ctx context.Context, sel, value string) error
	// Click はセレクタに一致する要素をクリックする。
	Click(ctx context.Context, sel string) error
	// Text はセレクタに一致する要素のテキストを返す。
	Text(ctx context.Context, sel string) (string, error)
	// SetExtraHeaders は以降のリクエストに付与するHTTPヘッダを設定する。
	SetExtraHeaders(ctx context.Context, headers map[string]string) error
	// Close はセッションを無条件に解放する。冪等で、失敗しない。
	Close()
}

// ChromeSession はchromedpによるSession実装。
// ブラウザプロセスは最初の操作時に起動される。
type ChromeSession struct {
	allocCancel context.CancelFunc
	browserCtx  context.Context
	cancel      context.CancelFunc
	timeout     time.Duration

	closeOnce sync.Once
}

var _ Session = (*ChromeSession)(nil)

// NewChromeSession は新しいChromeSessionを生成する。
// headlessがfalseの場合はデバッグ用に画面表示ありで起動する。
// timeoutは個々の操作（遷移・要素待機）の上限時間。
func NewChromeSession(headless bool, timeout time.Duration) *ChromeSession {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if !headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	return &ChromeSession{
		allocCancel: allocCancel,
		browserCtx:  browserCtx,
		cancel:      cancel,
		timeout:     timeout,
	}
}

// run は呼び出し元コンテキストのキャンセルを確認したうえで、
// 操作タイムアウト付きのブラウザコンテキストでアクションを実行する。
func (s *ChromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tctx, tcancel := context.WithTimeout(s.browserCtx, s.timeout)
	defer tcancel()

	return chromedp.Run(tctx, actions...)
}

func (s *ChromeSession) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (s *ChromeSession) WaitVisible(ctx context.Context, sel string) error {
	if err := s.run(ctx, chromedp.WaitVisible(sel, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %q: %w", sel, err)
	}
	return nil
}

func (s *ChromeSession) SendKeys(ctx context.Context, sel, value string) error {
	if err := s.run(ctx, chromedp.SendKeys(sel, value, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("send keys to %q: %w", sel, err)
	}
	return nil
}

func (s *ChromeSession) Click(ctx context.Context, sel string) error {
	if err := s.run(ctx, chromedp.Click(sel, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click %q: %w", sel, err)
	}
	return nil
}

func (s *ChromeSession) Text(ctx context.Context, sel string) (string, error) {
	var out string
	if err := s.run(ctx, chromedp.Text(sel, &out, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read text of %q: %w", sel, err)
	}
	return out, nil
}

func (s *ChromeSession) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	h := make(network.Headers, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	if err := s.run(ctx, network.Enable(), network.SetExtraHTTPHeaders(h)); err != nil {
		return fmt.Errorf("set extra headers: %w", err)
	}
	return nil
}

// Close はブラウザコンテキストとアロケータを解放する。
// ブラウザの起動に失敗していても安全に呼び出せる。
func (s *ChromeSession) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.allocCancel()
	})
}

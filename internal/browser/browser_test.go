package browser

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestChromeSession_CloseIsIdempotent はブラウザ未起動でもCloseが
// 安全に複数回呼び出せることを検証する。
func TestChromeSession_CloseIsIdempotent(t *testing.T) {
	s := NewChromeSession(true, 5*time.Second)

	s.Close()
	s.Close() // 2回目もpanicしないこと
}

// TestChromeSession_RespectsCallerCancellation はキャンセル済みコンテキストでの
// 操作がブラウザ起動前にエラーを返すことを検証する。
func TestChromeSession_RespectsCallerCancellation(t *testing.T) {
	s := NewChromeSession(true, 5*time.Second)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Navigate(ctx, "https://example.com/")
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

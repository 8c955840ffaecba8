package garmin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

// --- モック定義 ---

// fakePage はbrowser.Sessionのフェイク実装。
// URLごとの本文とセレクタごとの待機結果をスクリプトできる。
type fakePage struct {
	responses   map[string]string // URL -> body text
	waitErrs    map[string]error  // selector -> error
	navigateErr error

	navigated  []string
	typed      map[string]string
	clicked    []string
	setHeaders []map[string]string
	closeCount int

	currentURL string
}

func newFakePage() *fakePage {
	return &fakePage{
		responses: make(map[string]string),
		waitErrs:  make(map[string]error),
		typed:     make(map[string]string),
	}
}

func (f *fakePage) Navigate(ctx context.Context, url string) error {
	if f.navigateErr != nil {
		return f.navigateErr
	}
	f.navigated = append(f.navigated, url)
	f.currentURL = url
	return nil
}

func (f *fakePage) WaitVisible(ctx context.Context, sel string) error {
	if err, ok := f.waitErrs[sel]; ok {
		return err
	}
	return nil
}

func (f *fakePage) SendKeys(ctx context.Context, sel, value string) error {
	f.typed[sel] = value
	return nil
}

func (f *fakePage) Click(ctx context.Context, sel string) error {
	f.clicked = append(f.clicked, sel)
	return nil
}

func (f *fakePage) Text(ctx context.Context, sel string) (string, error) {
	body, ok := f.responses[f.currentURL]
	if !ok {
		return "", fmt.Errorf("no scripted response for %s", f.currentURL)
	}
	return body, nil
}

func (f *fakePage) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	f.setHeaders = append(f.setHeaders, headers)
	return nil
}

func (f *fakePage) Close() {
	f.closeCount++
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, nil))
}

// newTestClient はテスト用のSessionClientを生成する。
// リクエスト間隔の待機を無効化し、日付を2026-09-01に固定する。
func newTestClient(page *fakePage) *SessionClient {
	var buf bytes.Buffer
	c := NewSessionClient(page, "runner@example.com", "secret", newTestLogger(&buf))
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	c.now = func() time.Time {
		return time.Date(2026, 9, 1, 10, 30, 0, 0, time.Local)
	}
	return c
}

const (
	stressURLToday     = "https://connect.garmin.com/wellness-service/wellness/dailyStress/2026-09-01"
	stressURLYesterday = "https://connect.garmin.com/wellness-service/wellness/dailyStress/2026-08-31"
	hrURLToday         = "https://connect.garmin.com/wellness-service/wellness/dailyHeartRate?date=2026-09-01"
	hrURLYesterday     = "https://connect.garmin.com/wellness-service/wellness/dailyHeartRate?date=2026-08-31"
)

func stressBody(date string) string {
	return fmt.Sprintf(`{
		"calendarDate": %q,
		"startTimestampLocal": "%sT00:00:00.0",
		"stressValuesArray": [[1756684800000, 30], [1756684980000, 25]],
		"bodyBatteryValuesArray": [[1756684800000, "CHARGING", 80, 1.0], [1756684980000, "DRAINING", 54, 1.0]]
	}`, date, date)
}

func emptyStressBody(date string) string {
	return fmt.Sprintf(`{"calendarDate": %q, "stressValuesArray": [], "bodyBatteryValuesArray": []}`, date)
}

func hrBody(date string) string {
	return fmt.Sprintf(`{"calendarDate": %q, "heartRateValues": [[1756684800000, 58], [1756684920000, 62]]}`, date)
}

// --- Login ---

func TestLogin_Success(t *testing.T) {
	page := newFakePage()
	c := newTestClient(page)

	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if !c.LoggedIn() {
		t.Error("LoggedIn() = false after successful login")
	}
	if c.State() != StateLoggedIn {
		t.Errorf("State() = %v, want StateLoggedIn", c.State())
	}
	if got := page.typed[usernameSelector]; got != "runner@example.com" {
		t.Errorf("username typed = %q, want %q", got, "runner@example.com")
	}
	if got := page.typed[passwordSelector]; got != "secret" {
		t.Errorf("password typed = %q, want %q", got, "secret")
	}
	if len(page.clicked) != 1 || page.clicked[0] != submitSelector {
		t.Errorf("clicked = %v, want single click on %q", page.clicked, submitSelector)
	}
	if len(page.navigated) != 1 || page.navigated[0] != signInURL {
		t.Errorf("navigated = %v, want single navigation to sign-in page", page.navigated)
	}
}

func TestLogin_AuthFrameNotFound(t *testing.T) {
	page := newFakePage()
	page.waitErrs[authFrameSelector] = errors.New("context deadline exceeded")
	c := newTestClient(page)

	err := c.Login(context.Background())
	if err == nil {
		t.Fatal("expected login error when auth frame is missing")
	}
	if !errors.Is(err, ErrLogin) {
		t.Errorf("error = %v, want ErrLogin", err)
	}
	if !strings.Contains(err.Error(), "authentication form not found") {
		t.Errorf("error %q should mention the missing form", err.Error())
	}
	if c.State() != StateFresh {
		t.Errorf("State() = %v after failed login, want StateFresh", c.State())
	}
}

func TestLogin_PostLoginNavigationTimeout(t *testing.T) {
	page := newFakePage()
	page.waitErrs[loggedInSelector] = errors.New("context deadline exceeded")
	c := newTestClient(page)

	err := c.Login(context.Background())
	if !errors.Is(err, ErrLogin) {
		t.Fatalf("error = %v, want ErrLogin", err)
	}
	if c.LoggedIn() {
		t.Error("LoggedIn() = true after failed login")
	}
}

func TestLogin_AlreadyLoggedIn_IsNoOp(t *testing.T) {
	page := newFakePage()
	c := newTestClient(page)

	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	navCount := len(page.navigated)

	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("second Login() error = %v", err)
	}
	if len(page.navigated) != navCount {
		t.Error("second Login() should not navigate again")
	}
}

func TestLogin_OnClosedClient_Fails(t *testing.T) {
	page := newFakePage()
	c := newTestClient(page)
	c.Close()

	err := c.Login(context.Background())
	if !errors.Is(err, ErrLogin) {
		t.Fatalf("error = %v, want ErrLogin", err)
	}
}

// --- FetchLatestMetrics ---

func TestFetchLatestMetrics_Success(t *testing.T) {
	page := newFakePage()
	page.responses[stressURLToday] = stressBody("2026-09-01")
	page.responses[hrURLToday] = hrBody("2026-09-01")
	c := newTestClient(page)

	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	m, err := c.FetchLatestMetrics(context.Background())
	if err != nil {
		t.Fatalf("FetchLatestMetrics() error = %v", err)
	}

	if m.Date != "2026-09-01" {
		t.Errorf("Date = %q, want %q", m.Date, "2026-09-01")
	}
	if v, ok := m.Stress.LatestStress(); !ok || v != 25 {
		t.Errorf("LatestStress() = %d,%v, want 25,true", v, ok)
	}
	if rec, ok := m.Stress.LatestBodyBattery(); !ok || rec.Level != 54 {
		t.Errorf("LatestBodyBattery() = %+v,%v, want Level 54", rec, ok)
	}
	if v, ok := m.HeartRate.LatestHeartRate(); !ok || v != 62 {
		t.Errorf("LatestHeartRate() = %d,%v, want 62,true", v, ok)
	}
	if c.State() != StateLoggedIn {
		t.Errorf("State() = %v after successful fetch, want StateLoggedIn", c.State())
	}
}

func TestFetchLatestMetrics_SetsRecencyHeaders(t *testing.T) {
	page := newFakePage()
	page.responses[stressURLToday] = stressBody("2026-09-01")
	page.responses[hrURLToday] = hrBody("2026-09-01")
	c := newTestClient(page)

	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if _, err := c.FetchLatestMetrics(context.Background()); err != nil {
		t.Fatalf("FetchLatestMetrics() error = %v", err)
	}

	if len(page.setHeaders) == 0 {
		t.Fatal("expected extra headers to be set before fetching documents")
	}
	h := page.setHeaders[0]
	if h["NK"] != "NT" {
		t.Errorf("NK header = %q, want %q", h["NK"], "NT")
	}
	if h["Accept"] != "application/json" {
		t.Errorf("Accept header = %q, want %q", h["Accept"], "application/json")
	}
	if want := "https://connect.garmin.com/modern/daily-summary/2026-09-01"; h["Referer"] != want {
		t.Errorf("Referer header = %q, want %q", h["Referer"], want)
	}
}

func TestFetchLatestMetrics_NotLoggedIn_Fails(t *testing.T) {
	c := newTestClient(newFakePage())

	_, err := c.FetchLatestMetrics(context.Background())
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("error = %v, want ErrFetch", err)
	}
}

func TestFetchLatestMetrics_FallsBackToYesterdayOnce(t *testing.T) {
	page := newFakePage()
	page.responses[stressURLToday] = emptyStressBody("2026-09-01")
	page.responses[stressURLYesterday] = stressBody("2026-08-31")
	page.responses[hrURLYesterday] = hrBody("2026-08-31")
	c := newTestClient(page)

	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	m, err := c.FetchLatestMetrics(context.Background())
	if err != nil {
		t.Fatalf("FetchLatestMetrics() error = %v", err)
	}

	if m.Date != "2026-08-31" {
		t.Errorf("Date = %q, want fallback date %q", m.Date, "2026-08-31")
	}

	// 遷移はサインイン分を除き、当日ストレス→前日ストレス→前日心拍の3回であること
	docFetches := page.navigated[1:]
	want := []string{stressURLToday, stressURLYesterday, hrURLYesterday}
	if len(docFetches) != len(want) {
		t.Fatalf("document fetches = %v, want %v", docFetches, want)
	}
	for i := range want {
		if docFetches[i] != want[i] {
			t.Errorf("fetch[%d] = %q, want %q", i, docFetches[i], want[i])
		}
	}
}

func TestFetchLatestMetrics_FallbackNeverRecurses(t *testing.T) {
	page := newFakePage()
	page.responses[stressURLToday] = emptyStressBody("2026-09-01")
	page.responses[stressURLYesterday] = emptyStressBody("2026-08-31")
	c := newTestClient(page)

	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	_, err := c.FetchLatestMetrics(context.Background())
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("error = %v, want ErrFetch", err)
	}

	// 当日と前日のストレスドキュメント以外は要求しないこと
	docFetches := page.navigated[1:]
	if len(docFetches) != 2 {
		t.Errorf("document fetches = %v, want exactly 2 stress requests", docFetches)
	}
}

func TestFetchLatestMetrics_MalformedJSON_FailsAndClosesState(t *testing.T) {
	page := newFakePage()
	page.responses[stressURLToday] = "<html>maintenance</html>"
	c := newTestClient(page)

	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	_, err := c.FetchLatestMetrics(context.Background())
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("error = %v, want ErrFetch", err)
	}
	if c.State() != StateClosed {
		t.Errorf("State() = %v after fetch failure, want StateClosed", c.State())
	}

	// 終端状態での再ログインは許可しない
	if err := c.Login(context.Background()); !errors.Is(err, ErrLogin) {
		t.Errorf("Login() on closed client = %v, want ErrLogin", err)
	}
}

func TestFetchLatestMetrics_TransportFailure_Fails(t *testing.T) {
	page := newFakePage()
	c := newTestClient(page)

	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	page.navigateErr = errors.New("net::ERR_CONNECTION_RESET")
	_, err := c.FetchLatestMetrics(context.Background())
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("error = %v, want ErrFetch", err)
	}
}

// --- Close ---

func TestClose_IsIdempotent(t *testing.T) {
	page := newFakePage()
	c := newTestClient(page)

	c.Close()
	c.Close()

	if c.State() != StateClosed {
		t.Errorf("State() = %v, want StateClosed", c.State())
	}
	if page.closeCount < 1 {
		t.Error("underlying page should have been closed")
	}
}

func TestClose_BeforeLogin_IsSafe(t *testing.T) {
	c := newTestClient(newFakePage())
	c.Close() // セッション未確立でもpanicしないこと

	if c.LoggedIn() {
		t.Error("LoggedIn() = true after Close")
	}
}

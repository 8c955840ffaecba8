package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
// 各コンポーネントは環境変数を直接参照せず、このConfigを受け取る。
type Config struct {
	// Garmin Connect
	GarminUsername string
	GarminPassword string

	// Slack
	SlackToken string

	// Status
	EmojiBands string // 空の場合はデフォルトの10段階バンドを使用

	// Mode
	OneShot bool
	Debug   bool

	// Polling
	PollInterval   time.Duration
	BrowserTimeout time.Duration

	// Ops
	OpsPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.GarminUsername = os.Getenv("GARMIN_USERNAME")
	if cfg.GarminUsername == "" {
		missing = append(missing, "GARMIN_USERNAME")
	}

	cfg.GarminPassword = os.Getenv("GARMIN_PASSWORD")
	if cfg.GarminPassword == "" {
		missing = append(missing, "GARMIN_PASSWORD")
	}

	cfg.SlackToken = os.Getenv("SLACK_TOKEN")
	if cfg.SlackToken == "" {
		missing = append(missing, "SLACK_TOKEN")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.EmojiBands = getEnvString("EMOJI_BANDS", "")
	cfg.OneShot = getEnvBool("PULSEMAN_ONCE", false)
	cfg.Debug = getEnvBool("PULSEMAN_DEBUG", false)
	cfg.PollInterval = getEnvDuration("POLL_INTERVAL", 600*time.Second)
	cfg.BrowserTimeout = getEnvDuration("BROWSER_TIMEOUT", 30*time.Second)
	cfg.OpsPort = getEnvString("OPS_PORT", "8080")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

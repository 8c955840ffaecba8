// Package status は計測値からSlackステータス文字列と絵文字を導出する。
// 純粋関数のみで構成され、I/Oと状態を持たない。
package status

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/hitoshi/pulseman/internal/model"
)

// UnknownBand はボディバッテリーの計測値がない場合に返す絵文字。
const UnknownBand = ":question:"

// missingValue は欠測ストリームの表示値。
// 単一の計測値の欠測で送信全体を止めないためのセンチネル。
const missingValue = -1

// DefaultBands はデフォルトの10段階バンド。
// ボディバッテリーが低い状態から高い状態の順に並ぶ。
var DefaultBands = []string{
	":skull:",
	":tired_face:",
	":weary:",
	":confused:",
	":neutral_face:",
	":slightly_smiling_face:",
	":blush:",
	":smile:",
	":grin:",
	":zap:",
}

// ParseBands はコロンまたは空白区切りのバンド名リストを
// Slack絵文字識別子（:name:）の列に変換する。
// トークンがひとつもない場合はnilを返し、呼び出し側がデフォルトを使う。
func ParseBands(raw string) []string {
	tokens := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ':' || unicode.IsSpace(r)
	})
	if len(tokens) == 0 {
		return nil
	}

	bands := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		bands = append(bands, ":"+tok+":")
	}
	return bands
}

// SelectBand はボディバッテリーのレベルをバンド列へ比例配分で割り当てる。
// インデックスは floor(level/100*N) で、[0, N-1] にクランプする。
// レベル100はN-1に丸める（範囲外アクセスにしない）。
func SelectBand(level int, bands []string) string {
	if len(bands) == 0 {
		return UnknownBand
	}

	idx := level * len(bands) / 100
	if idx < 0 {
		idx = 0
	}
	if idx >= len(bands) {
		idx = len(bands) - 1
	}
	return bands[idx]
}

// Render は計測値一式からSlackステータスの絵文字と本文を導出する。
// 欠けている計測ストリームはセンチネル値で表示し、エラーにはしない。
// 本文はバッテリー→ストレス→心拍の固定順で並ぶ。
func Render(m *model.Metrics, bands []string) (emoji, text string) {
	battery := missingValue
	emoji = UnknownBand

	if rec, ok := m.Stress.LatestBodyBattery(); ok {
		battery = rec.Level
		emoji = SelectBand(rec.Level, bands)
	}

	stress := missingValue
	if v, ok := m.Stress.LatestStress(); ok {
		stress = v
	}

	heartRate := missingValue
	if v, ok := m.HeartRate.LatestHeartRate(); ok {
		heartRate = v
	}

	text = fmt.Sprintf("🔋%d 🧠%d ❤️%d", battery, stress, heartRate)
	return emoji, text
}

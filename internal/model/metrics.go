// Package model はドメインモデルを定義する。
package model

// StressSample はGarmin Connectの日次ストレスドキュメントを表す。
// stressValuesArrayは [タイムスタンプ(ms), ストレス値] の2要素配列の列、
// bodyBatteryValuesArrayは [タイムスタンプ(ms), 充電状態, レベル, バージョン] の
// 4要素配列の列。いずれも末尾の要素が最新の計測値を表す。
// データがまだ生成されていない日はStartTimestampLocalが空になる。
type StressSample struct {
	CalendarDate        string      `json:"calendarDate"`
	StartTimestampLocal string      `json:"startTimestampLocal"`
	EndTimestampLocal   string      `json:"endTimestampLocal"`
	MaxStressLevel      int         `json:"maxStressLevel"`
	AvgStressLevel      int         `json:"avgStressLevel"`
	StressValues        [][]float64 `json:"stressValuesArray"`
	BodyBatteryValues   [][]any     `json:"bodyBatteryValuesArray"`
}

// BodyBatteryRecord はボディバッテリーの1計測値を表す。
type BodyBatteryRecord struct {
	Timestamp int64
	Charging  string
	Level     int
	Version   float64
}

// HasData はポータルがこの日のデータを生成済みかどうかを返す。
// 日付切り替わり直後などデータ未生成の日はfalseになる。
func (s *StressSample) HasData() bool {
	return s != nil && s.StartTimestampLocal != ""
}

// LatestStress は最新のストレス値を返す。
// 計測列が空、または末尾要素が不正な場合はfalseを返す。
func (s *StressSample) LatestStress() (int, bool) {
	if s == nil || len(s.StressValues) == 0 {
		return 0, false
	}
	last := s.StressValues[len(s.StressValues)-1]
	if len(last) < 2 {
		return 0, false
	}
	return int(last[1]), true
}

// LatestBodyBattery は最新のボディバッテリー計測値を返す。
// 計測列が空、または末尾要素の型が想定外の場合はfalseを返す。
func (s *StressSample) LatestBodyBattery() (BodyBatteryRecord, bool) {
	if s == nil || len(s.BodyBatteryValues) == 0 {
		return BodyBatteryRecord{}, false
	}
	last := s.BodyBatteryValues[len(s.BodyBatteryValues)-1]
	if len(last) < 3 {
		return BodyBatteryRecord{}, false
	}

	var rec BodyBatteryRecord
	ts, ok := last[0].(float64)
	if !ok {
		return BodyBatteryRecord{}, false
	}
	rec.Timestamp = int64(ts)

	// 充電状態は文字列（"CHARGING"/"DRAINING"など）だが欠損することがある
	if charging, ok := last[1].(string); ok {
		rec.Charging = charging
	}

	level, ok := last[2].(float64)
	if !ok {
		return BodyBatteryRecord{}, false
	}
	rec.Level = int(level)

	if len(last) >= 4 {
		if version, ok := last[3].(float64); ok {
			rec.Version = version
		}
	}

	return rec, true
}

// HeartRateSample はGarmin Connectの日次心拍ドキュメントを表す。
// heartRateValuesは [タイムスタンプ(ms), 心拍数] の2要素配列の列で、
// 末尾の要素が最新の計測値を表す。
type HeartRateSample struct {
	CalendarDate     string      `json:"calendarDate"`
	MaxHeartRate     int         `json:"maxHeartRate"`
	MinHeartRate     int         `json:"minHeartRate"`
	RestingHeartRate int         `json:"restingHeartRate"`
	HeartRateValues  [][]float64 `json:"heartRateValues"`
}

// LatestHeartRate は最新の心拍数を返す。
// 計測列が空、末尾要素が不正、または欠測（0以下）の場合はfalseを返す。
func (h *HeartRateSample) LatestHeartRate() (int, bool) {
	if h == nil || len(h.HeartRateValues) == 0 {
		return 0, false
	}
	last := h.HeartRateValues[len(h.HeartRateValues)-1]
	if len(last) < 2 || last[1] <= 0 {
		return 0, false
	}
	return int(last[1]), true
}

// Metrics は1回のフェッチで取得した計測値一式を表す。
// SessionClientがフェッチごとに生成し、整形・送信後は破棄される。
type Metrics struct {
	Stress    *StressSample
	HeartRate *HeartRateSample
	// Date は実際に照会した日付（ISO 8601）。
	// 当日分のデータが未生成の場合は前日にフォールバックする。
	Date string
}

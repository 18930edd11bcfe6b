package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ScanStatus はスキャンジョブの状態。バックエンドのみが更新する。
type ScanStatus string

const (
	ScanPending    ScanStatus = "pending"
	ScanInProgress ScanStatus = "in_progress"
	ScanCompleted  ScanStatus = "completed"
	ScanFailed     ScanStatus = "failed"
)

// Scan はバックグラウンドで実行されるリポジトリスキャンを表す。
// クライアントは読み取りとポーリングのみを行う。
type Scan struct {
	ID             int64           `json:"id"`
	Status         ScanStatus      `json:"status"`
	RepositoryName string          `json:"repository_name"`
	OrganizationID int64           `json:"organization_id"`
	CreatedAt      Timestamp       `json:"created_at"`
	UpdatedAt      *Timestamp      `json:"updated_at,omitempty"`
	Results        json.RawMessage `json:"results,omitempty"`
}

// IsActive はスキャンがまだ実行中（pendingまたはin_progress）かを返す。
func (s *Scan) IsActive() bool {
	return s.Status == ScanPending || s.Status == ScanInProgress
}

// timestampLayouts はバックエンドが返しうる日時フォーマット。
// タイムゾーンなしの値はUTCとして解釈する。
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Timestamp はタイムゾーン表記の有無を問わずパースできる日時。
type Timestamp struct {
	time.Time
}

// UnmarshalJSON はJSON文字列をTimestampに変換する。
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unsupported timestamp format: %q", raw)
}

// MarshalJSON はRFC3339形式で出力する。
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// ScanReport は完了したスキャンのresultsを表す。
type ScanReport struct {
	Summary          ReportSummary    `json:"summary"`
	Files            []FileAnalysis   `json:"files"`
	SymbolicAnalysis SymbolicAnalysis `json:"symbolic_analysis"`
}

// ReportSummary はスキャン結果の集計。
type ReportSummary struct {
	ScannedFiles    int     `json:"scanned_files"`
	AnalyzedFiles   int     `json:"analyzed_files"`
	Timestamp       float64 `json:"timestamp"`
	HighRiskCount   int     `json:"high_risk_count"`
	MediumRiskCount int     `json:"medium_risk_count"`
	LowRiskCount    int     `json:"low_risk_count"`
}

// FileAnalysis はファイル単位の解析結果。
type FileAnalysis struct {
	File      string    `json:"file"`
	RiskLevel string    `json:"risk_level"`
	Analysis  []Finding `json:"analysis"`
}

// Finding は検出された問題1件。
type Finding struct {
	FunctionName *string `json:"function_name"`
	RequiredRole *string `json:"required_role"`
	Issue        string  `json:"issue"`
	Notes        string  `json:"notes"`
	Severity     string  `json:"severity"`
	CodeSnippet  string  `json:"code_snippet"`
}

// SymbolicAnalysis は記号的整合性チェックの結果。
type SymbolicAnalysis struct {
	Consistent bool    `json:"consistent"`
	Violation  *string `json:"violation"`
}

// ParseScanReport はresultsを解釈する。
// 戻り値は (レポート, 失敗メッセージ, エラー)。
// resultsが空の場合は (nil, "", nil)、{"error": ...} の場合は失敗メッセージを返す。
func ParseScanReport(raw json.RawMessage) (*ScanReport, string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, "", nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, "", fmt.Errorf("results must be a JSON object: %w", err)
	}
	if rawErr, ok := probe["error"]; ok {
		var msg string
		if err := json.Unmarshal(rawErr, &msg); err != nil {
			msg = string(rawErr)
		}
		return nil, msg, nil
	}
	if _, ok := probe["files"]; !ok {
		return nil, "", nil
	}

	var report ScanReport
	if err := json.Unmarshal(trimmed, &report); err != nil {
		return nil, "", fmt.Errorf("failed to decode scan report: %w", err)
	}
	return &report, "", nil
}

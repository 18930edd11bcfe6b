// Package scan はスキャン結果の詳細表示を提供する。
package scan

import (
	"context"
	"log/slog"

	"github.com/hitoshi/cortexsync/internal/model"
	"github.com/hitoshi/cortexsync/internal/security"
)

// Backend はスキャン詳細の取得インターフェース。
type Backend interface {
	GetScan(ctx context.Context, token string, id int64) (*model.Scan, error)
}

// Authorizer は認証付き呼び出しの経路。
type Authorizer interface {
	Authorized(ctx context.Context, fn func(ctx context.Context, token string) error) error
}

// ReportState はスキャン詳細の表示状態。
type ReportState string

const (
	ReportRunning   ReportState = "running"
	ReportFailed    ReportState = "failed"
	ReportNoResults ReportState = "no_results"
	ReportReady     ReportState = "ready"
)

// noResultsMessage は結果がない場合の表示メッセージ。
const noResultsMessage = "No results available for this scan."

// Detail はスキャン1件の表示用データ。
type Detail struct {
	ID             int64                `json:"id"`
	Status         model.ScanStatus     `json:"status"`
	RepositoryName string               `json:"repository_name"`
	CreatedAt      model.Timestamp      `json:"created_at"`
	State          ReportState          `json:"state"`
	Message        string               `json:"message,omitempty"`
	Summary        *model.ReportSummary `json:"summary,omitempty"`
	Consistent     *bool                `json:"consistent,omitempty"`
	Violation      string               `json:"violation,omitempty"`
	TotalFindings  int                  `json:"total_findings"`
	Files          []FileReport         `json:"files"`
}

// FileReport は指摘のあるファイル1件。
type FileReport struct {
	File      string         `json:"file"`
	RiskLevel string         `json:"risk_level"`
	Groups    []FindingGroup `json:"groups"`
}

// FindingGroup は同じコード断片に対する指摘のまとまり。
type FindingGroup struct {
	CodeSnippet string        `json:"code_snippet"`
	Findings    []FindingView `json:"findings"`
}

// FindingView はサニタイズ済みの指摘1件。
type FindingView struct {
	FunctionName string `json:"function_name,omitempty"`
	RequiredRole string `json:"required_role,omitempty"`
	Issue        string `json:"issue"`
	Notes        string `json:"notes,omitempty"`
	Severity     string `json:"severity,omitempty"`
}

// Service はスキャン詳細を組み立てる。
type Service struct {
	backend   Backend
	auth      Authorizer
	sanitizer *security.ReportSanitizer
	logger    *slog.Logger
}

// NewService はServiceを生成する。
func NewService(b Backend, auth Authorizer, sanitizer *security.ReportSanitizer, logger *slog.Logger) *Service {
	return &Service{backend: b, auth: auth, sanitizer: sanitizer, logger: logger}
}

// Detail はスキャンを取得し、表示用データを組み立てる。
func (s *Service) Detail(ctx context.Context, id int64) (*Detail, error) {
	var scan *model.Scan
	err := s.auth.Authorized(ctx, func(ctx context.Context, token string) error {
		var err error
		scan, err = s.backend.GetScan(ctx, token, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.Build(scan), nil
}

// Build はスキャンから表示用データを組み立てる。
// 指摘のないファイルは除外し、指摘はコード断片ごとに出現順でまとめる。
func (s *Service) Build(scan *model.Scan) *Detail {
	d := &Detail{
		ID:             scan.ID,
		Status:         scan.Status,
		RepositoryName: scan.RepositoryName,
		CreatedAt:      scan.CreatedAt,
		Files:          []FileReport{},
	}

	if scan.IsActive() {
		d.State = ReportRunning
		return d
	}

	report, failure, err := model.ParseScanReport(scan.Results)
	switch {
	case err != nil:
		s.logger.Warn("スキャン結果の解析に失敗しました",
			slog.Int64("scan_id", scan.ID),
			slog.String("error", err.Error()),
		)
		d.State = ReportNoResults
		d.Message = noResultsMessage
		return d
	case failure != "":
		d.State = ReportFailed
		d.Message = s.sanitizer.Text(failure)
		return d
	case report == nil:
		d.State = ReportNoResults
		d.Message = noResultsMessage
		return d
	}

	d.State = ReportReady
	summary := report.Summary
	d.Summary = &summary
	consistent := report.SymbolicAnalysis.Consistent
	d.Consistent = &consistent
	if report.SymbolicAnalysis.Violation != nil {
		d.Violation = s.sanitizer.Text(*report.SymbolicAnalysis.Violation)
	}

	for _, f := range report.Files {
		if len(f.Analysis) == 0 {
			continue
		}
		d.TotalFindings += len(f.Analysis)
		d.Files = append(d.Files, FileReport{
			File:      s.sanitizer.Text(f.File),
			RiskLevel: s.sanitizer.Text(f.RiskLevel),
			Groups:    s.group(f.Analysis),
		})
	}
	return d
}

func (s *Service) group(findings []model.Finding) []FindingGroup {
	index := make(map[string]int)
	var groups []FindingGroup
	for _, f := range findings {
		i, ok := index[f.CodeSnippet]
		if !ok {
			i = len(groups)
			index[f.CodeSnippet] = i
			groups = append(groups, FindingGroup{CodeSnippet: f.CodeSnippet})
		}
		groups[i].Findings = append(groups[i].Findings, s.view(f))
	}
	return groups
}

func (s *Service) view(f model.Finding) FindingView {
	v := FindingView{
		Issue:    s.sanitizer.Text(f.Issue),
		Notes:    s.sanitizer.Notes(f.Notes),
		Severity: s.sanitizer.Text(f.Severity),
	}
	if f.FunctionName != nil {
		v.FunctionName = s.sanitizer.Text(*f.FunctionName)
	}
	if f.RequiredRole != nil {
		v.RequiredRole = s.sanitizer.Text(*f.RequiredRole)
	}
	return v
}

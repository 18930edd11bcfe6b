package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ReportSanitizer はスキャン結果に含まれる自由記述テキストをサニタイズする。
// 解析結果はLLMが生成するため、HTMLが混入していても安全に表示できるようにする。
type ReportSanitizer struct {
	text  *bluemonday.Policy
	notes *bluemonday.Policy
}

// NewReportSanitizer はReportSanitizerを生成する。
// ポリシーの内容:
//   - Text: すべてのタグを除去（関数名、ロール、ファイル名、指摘事項）
//   - Notes: p, br, ul, ol, li, pre, code, strong, em のみ許可。リンクと画像は除去
func NewReportSanitizer() *ReportSanitizer {
	notes := bluemonday.NewPolicy()
	notes.AllowElements(
		"p", "br", "ul", "ol", "li",
		"pre", "code",
		"strong", "em",
	)

	return &ReportSanitizer{
		text:  bluemonday.StrictPolicy(),
		notes: notes,
	}
}

// Text はタグをすべて除去したテキストを返す。
// bluemondayが実体参照に変換した文字は元に戻さない。
func (s *ReportSanitizer) Text(raw string) string {
	return strings.TrimSpace(s.text.Sanitize(raw))
}

// Notes は限定されたタグのみを残したHTMLを返す。
func (s *ReportSanitizer) Notes(raw string) string {
	return strings.TrimSpace(s.notes.Sanitize(raw))
}

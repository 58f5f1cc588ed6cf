// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizer はギフトのテキスト項目（タイトル、メッセージ、キャプション等）を
// 保存前にサニタイズし、共同編集者同士のXSSを防ぐ。
// bluemondayライブラリを使用した許可リストベースのポリシーで、
// 安全なタグのみを通過させる。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/giftshare/internal/model"
)

// ContentSanitizerService はギフトのテキスト項目をサニタイズするインターフェース。
// 同一入力に対して常に同一出力を返す（冪等）。
type ContentSanitizerService interface {
	// SanitizeText はすべてのタグを除去したテキストを返す。
	SanitizeText(raw string) string
	// SanitizeMessage はメッセージ本文用に p, br, strong, em のみを残す。
	SanitizeMessage(raw string) string
	// SanitizeMetadata はメタデータの全テキスト項目をその場でサニタイズする。
	SanitizeMetadata(doc *model.GiftMetadata)
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフなので、複数のリクエストから共有してよい。
type contentSanitizer struct {
	text    *bluemonday.Policy
	message *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// ポリシーの内容:
//   - タイトル、宛名、テーマ、キャプション: タグをすべて除去（StrictPolicy）
//   - メッセージ: p, br, strong, em のみ許可、属性は一切許可しない
func NewContentSanitizer() *contentSanitizer {
	message := bluemonday.NewPolicy()
	message.AllowElements("p", "br", "strong", "em")

	return &contentSanitizer{
		text:    bluemonday.StrictPolicy(),
		message: message,
	}
}

func (s *contentSanitizer) SanitizeText(raw string) string {
	return strings.TrimSpace(s.text.Sanitize(raw))
}

func (s *contentSanitizer) SanitizeMessage(raw string) string {
	return strings.TrimSpace(s.message.Sanitize(raw))
}

func (s *contentSanitizer) SanitizeMetadata(doc *model.GiftMetadata) {
	doc.Title = s.SanitizeText(doc.Title)
	doc.Recipient = s.SanitizeText(doc.Recipient)
	doc.Theme = s.SanitizeText(doc.Theme)
	doc.Message = s.SanitizeMessage(doc.Message)
	for i := range doc.Photos {
		doc.Photos[i].Caption = s.SanitizeText(doc.Photos[i].Caption)
		doc.Photos[i].ContentID = s.SanitizeText(doc.Photos[i].ContentID)
	}
}

var _ ContentSanitizerService = (*contentSanitizer)(nil)

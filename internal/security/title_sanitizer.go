// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TitleSanitizerService はリモート由来のタイトルや説明文をサニタイズし、
// 通知メールのHTML本文に埋め込む前にXSSのリスクを除去する。
// bluemondayのStrictPolicyにより、タグはすべて除去されテキストのみが残る。
package security

import (
	"github.com/microcosm-cc/bluemonday"
)

// TitleSanitizerService はタイトル文字列のサニタイズ機能のインターフェースを定義する。
// 通知メールの本文組み立て時に使用される。
type TitleSanitizerService interface {
	// Sanitize は文字列からHTMLタグをすべて除去してテキストのみを返す。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// titleSanitizer はTitleSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type titleSanitizer struct {
	policy *bluemonday.Policy
}

// NewTitleSanitizer はTitleSanitizerServiceの新しいインスタンスを生成する。
// タイトルはプレーンテキストとして扱うべき値のため、
// 許可タグのないStrictPolicyを使用する。
func NewTitleSanitizer() *titleSanitizer {
	return &titleSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は文字列からHTMLタグをすべて除去してテキストのみを返す。
func (s *titleSanitizer) Sanitize(raw string) string {
	return s.policy.Sanitize(raw)
}

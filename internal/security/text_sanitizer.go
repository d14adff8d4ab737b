// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizerService はコメントのタイトル・本文・返信などの自由入力テキストを
// 永続化前にサニタイズし、XSS攻撃や制御文字の混入からユーザーを保護する。
// bluemondayライブラリの厳格ポリシーで全マークアップを除去・エスケープする。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService は自由入力テキストのサニタイズ機能のインターフェースを定義する。
// コメント保存前のpre-persistフックとして使用される。
type TextSanitizerService interface {
	// Sanitize はテキストから制御文字を除去し、マークアップをエスケープして返す。
	// 改行（\n, \r）は保持し、それ以外のC0制御文字とDELを除去する。
	// HTMLタグは全て除去され、残るテキストの特殊文字はエンティティ参照にエスケープされる。
	// 先頭・末尾の空白は除去される。
	// 空文字列の入力には空文字列を返す。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayの厳格ポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
// bluemonday.StrictPolicy（許可タグなし）を使用するため、
// script等の危険なタグだけでなく全てのマークアップが除去される。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はテキストから制御文字を除去し、マークアップをエスケープして返す。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}

	stripped := stripControlChars(raw)
	cleaned := s.policy.Sanitize(stripped)
	return strings.TrimSpace(cleaned)
}

// stripControlChars はC0制御文字（改行を除く）とDEL(0x7F)を除去する。
func stripControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

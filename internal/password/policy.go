// Package password はパスワード強度の検証とハッシュ化を提供します。
package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MinLength はパスワードの最小文字数です。
const MinLength = 12

// MaxBytes は bcrypt が扱えるパスワードの最大バイト数です。
const MaxBytes = 72

const (
	maxBytesLabel   = "at most 72 bytes"
	maxBytesMessage = "Password must be at most 72 bytes"
)

// Result は強度検証の結果です。
// Reason は最初に満たさなかったルールのメッセージ、Missing は満たさなかった全ルールの短い名前です。
type Result struct {
	OK      bool
	Reason  string
	Missing []string
}

type rule struct {
	label   string
	message string
	check   func(string) bool
}

// ルールはこの順で評価する
var rules = []rule{
	{
		label:   "at least 12 characters",
		message: "Password must be at least 12 characters",
		check:   func(p string) bool { return utf8.RuneCountInString(p) >= MinLength },
	},
	{
		label:   "lowercase letter",
		message: "Password must contain at least one lowercase letter",
		check:   func(p string) bool { return strings.IndexFunc(p, unicode.IsLower) >= 0 },
	},
	{
		label:   "uppercase letter",
		message: "Password must contain at least one uppercase letter",
		check:   func(p string) bool { return strings.IndexFunc(p, unicode.IsUpper) >= 0 },
	},
	{
		label:   "number",
		message: "Password must contain at least one number",
		check:   func(p string) bool { return strings.IndexFunc(p, unicode.IsDigit) >= 0 },
	},
	{
		label:   "special character",
		message: "Password must contain at least one special character",
		check:   func(p string) bool { return strings.IndexFunc(p, isSpecial) >= 0 },
	},
}

func isSpecial(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// Validate はパスワードがポリシーを満たすか検証します。
func Validate(p string) Result {
	if strings.TrimSpace(p) == "" {
		return Result{Reason: "Password is required", Missing: labels(rules)}
	}

	var res Result
	for _, r := range rules {
		if r.check(p) {
			continue
		}
		if res.Reason == "" {
			res.Reason = r.message
		}
		res.Missing = append(res.Missing, r.label)
	}
	// 文字種のルールとは別に、マルチバイト文字を含めたバイト長を見る
	if len(p) > MaxBytes {
		if res.Reason == "" {
			res.Reason = maxBytesMessage
		}
		res.Missing = append(res.Missing, maxBytesLabel)
	}
	if res.Reason == "" {
		return Result{OK: true, Reason: "Password is strong"}
	}
	return res
}

// Hint は満たしていないルールをまとめた表示用の文字列を返します。
func (r Result) Hint() string {
	if r.OK || len(r.Missing) == 0 {
		return ""
	}
	return "Missing: " + strings.Join(r.Missing, ", ")
}

func labels(rs []rule) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.label
	}
	return out
}

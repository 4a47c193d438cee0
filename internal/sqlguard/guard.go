// Package sqlguard enforces the read-only contract on model generated SQL.
//
// The guard is textual. It does not parse SQL, so a SELECT followed by a
// second statement or a payload hidden in comments is not detected here; the
// executors run inside read-only transactions or read-only connections.
package sqlguard

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var ErrUnsafeQuery = errors.New("unsafe query")

// GeneratedQuery is untrusted model output for one question.
type GeneratedQuery struct {
	RawText  string
	Question string
}

// ValidatedQuery can only be produced by Validate.
type ValidatedQuery struct {
	sql      string
	question string
}

func (q ValidatedQuery) SQL() string      { return q.sql }
func (q ValidatedQuery) Question() string { return q.question }
func (q ValidatedQuery) IsZero() bool     { return q.sql == "" }

// Validate strips formatting artifacts from the generated text and accepts it
// only when the first keyword is SELECT.
func Validate(generated GeneratedQuery) (ValidatedQuery, error) {
	sql := Sanitize(generated.RawText)
	if sql == "" {
		return ValidatedQuery{}, fmt.Errorf("%w: empty statement", ErrUnsafeQuery)
	}
	keyword := firstKeyword(sql)
	if keyword != "select" {
		if keyword == "" {
			return ValidatedQuery{}, fmt.Errorf("%w: statement does not start with a keyword", ErrUnsafeQuery)
		}
		return ValidatedQuery{}, fmt.Errorf("%w: %s statements are not allowed", ErrUnsafeQuery, strings.ToUpper(keyword))
	}
	return ValidatedQuery{sql: sql, question: generated.Question}, nil
}

// Sanitize removes markdown fences, backtick wrapping, surrounding whitespace
// and trailing statement terminators.
func Sanitize(raw string) string {
	text := strings.TrimSpace(raw)
	text = stripFence(text)
	text = stripBackticks(text)
	return stripTerminators(text)
}

func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	body := strings.TrimPrefix(text, "```")
	if newline := strings.IndexByte(body, '\n'); newline >= 0 {
		tag := strings.TrimSpace(body[:newline])
		if tag == "" || isLanguageTag(tag) {
			body = body[newline+1:]
		}
	} else {
		body = trimLanguagePrefix(body)
	}
	// Anything after the closing fence is commentary.
	if closing := strings.Index(body, "```"); closing >= 0 {
		body = body[:closing]
	}
	return strings.TrimSpace(body)
}

func isLanguageTag(tag string) bool {
	for _, r := range tag {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return false
		}
	}
	return true
}

// trimLanguagePrefix handles single line fences such as ```sql SELECT 1```.
func trimLanguagePrefix(body string) string {
	for _, tag := range []string{"sql", "postgresql", "postgres", "pgsql"} {
		if len(body) > len(tag) && strings.EqualFold(body[:len(tag)], tag) && unicode.IsSpace(rune(body[len(tag)])) {
			return body[len(tag):]
		}
	}
	return body
}

func stripBackticks(text string) string {
	for len(text) >= 2 && strings.HasPrefix(text, "`") && strings.HasSuffix(text, "`") {
		text = strings.TrimSpace(text[1 : len(text)-1])
	}
	return text
}

func stripTerminators(text string) string {
	text = strings.TrimSpace(text)
	for strings.HasSuffix(text, ";") {
		text = strings.TrimSpace(strings.TrimSuffix(text, ";"))
	}
	return text
}

func firstKeyword(sql string) string {
	end := 0
	for end < len(sql) && isASCIILetter(sql[end]) {
		end++
	}
	if end == 0 {
		return ""
	}
	if end < len(sql) && isIdentByte(sql[end]) {
		return strings.ToLower(sql[:end+1])
	}
	return strings.ToLower(sql[:end])
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isIdentByte(b byte) bool {
	return isASCIILetter(b) || (b >= '0' && b <= '9') || b == '_' || b == '$' || b >= 0x80
}

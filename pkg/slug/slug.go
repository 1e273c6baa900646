// Package slug 生成 URL 片段：小写，字母数字之外折叠为 '-'，前导 '#' 记为 "hash-"。
package slug

import (
	"strings"
	"unicode"
)

// Make 返回 s 的 slug；结果可能为空。
func Make(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	if strings.HasPrefix(s, "#") {
		b.WriteString("hash-")
		s = s[1:]
	}
	dash := b.Len() > 0
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

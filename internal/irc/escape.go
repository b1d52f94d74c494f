package irc

import "strings"

// UnescapeTagValue decodes \s, \n, \r and \\ in one pass. It also decodes
// \: to a semicolon so that Tags.Encode can escape semicolons without
// corrupting the tag block. Unknown escapes and a dangling backslash are
// kept verbatim.
func UnescapeTagValue(v string) string {
	if !strings.Contains(v, `\`) {
		return v
	}

	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c != '\\' || i+1 == len(v) {
			b.WriteByte(c)
			continue
		}

		i++
		switch v[i] {
		case 's':
			b.WriteByte(' ')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case '\\':
			b.WriteByte('\\')
		case ':':
			b.WriteByte(';')
		default:
			b.WriteByte('\\')
			b.WriteByte(v[i])
		}
	}
	return b.String()
}

var tagEscaper = strings.NewReplacer(
	`\`, `\\`,
	" ", `\s`,
	"\n", `\n`,
	"\r", `\r`,
	";", `\:`,
)

// EscapeTagValue is the inverse of UnescapeTagValue.
func EscapeTagValue(v string) string {
	return tagEscaper.Replace(v)
}

package patch

import (
	"strings"
)

// cleanDocstring normalises model-supplied docstring text: line endings are
// unified, a surrounding pair of triple quotes is removed, common leading
// whitespace is dedented and blank edges and trailing whitespace are
// stripped. It returns "" when nothing is left.
func cleanDocstring(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = stripQuotes(text)
	lines := dedent(strings.Split(text, "\n"))
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	for len(lines) > 0 && lines[0] == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

func stripQuotes(text string) string {
	trimmed := strings.TrimSpace(text)
	for _, q := range []string{`"""`, `'''`} {
		if len(trimmed) >= 2*len(q) && strings.HasPrefix(trimmed, q) && strings.HasSuffix(trimmed, q) {
			return trimmed[len(q) : len(trimmed)-len(q)]
		}
	}
	return text
}

// dedent removes the longest whitespace prefix shared by all non-blank lines.
// Whitespace-only lines become empty.
func dedent(lines []string) []string {
	var margin string
	first := true
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		if first {
			margin = indent
			first = false
			continue
		}
		margin = commonPrefix(margin, indent)
	}

	out := make([]string, len(lines))
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		out[i] = line[len(margin):]
	}
	return out
}

func commonPrefix(a, b string) string {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[:i]
		}
	}
	return a[:n]
}

// escapeDocstring makes text safe inside a triple-double-quoted literal.
// Backslashes are doubled so escapes render literally, and every quote in a
// run of three or more is escaped. When trailing is set, quotes at the very
// end are escaped too, since they would otherwise merge with the closing
// delimiter.
func escapeDocstring(text string, trailing bool) string {
	text = strings.ReplaceAll(text, `\`, `\\`)

	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); {
		if text[i] != '"' {
			b.WriteByte(text[i])
			i++
			continue
		}
		j := i
		for j < len(text) && text[j] == '"' {
			j++
		}
		run := j - i
		if run >= 3 || (trailing && j == len(text)) {
			b.WriteString(strings.Repeat(`\"`, run))
		} else {
			b.WriteString(text[i:j])
		}
		i = j
	}
	return b.String()
}

// renderDocstring returns the docstring literal for cleaned text. A single
// line renders inline; multiple lines render with the opening and closing
// quotes on their own lines and every body line indented by indent. The
// literal itself starts without indentation: the caller positions it.
func renderDocstring(text, indent, newline string) string {
	if !strings.Contains(text, "\n") {
		return `"""` + escapeDocstring(text, true) + `"""`
	}

	var b strings.Builder
	b.WriteString(`"""`)
	for _, line := range strings.Split(escapeDocstring(text, false), "\n") {
		b.WriteString(newline)
		if line != "" {
			b.WriteString(indent)
			b.WriteString(line)
		}
	}
	b.WriteString(newline)
	b.WriteString(indent)
	b.WriteString(`"""`)
	return b.String()
}

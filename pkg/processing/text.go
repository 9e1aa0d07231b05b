package processing

import (
	"regexp"
	"strings"
)

var wsRun = regexp.MustCompile(`\s+`)

// NormalizeWhitespace collapses whitespace runs to single spaces,
// leaving fenced code blocks untouched.
func NormalizeWhitespace(text string) string {
	if !strings.Contains(text, "```") {
		return strings.TrimSpace(wsRun.ReplaceAllString(text, " "))
	}

	var out []string
	var plain []string
	var fence []string
	inFence := false

	flushPlain := func() {
		if len(plain) == 0 {
			return
		}
		collapsed := strings.TrimSpace(wsRun.ReplaceAllString(strings.Join(plain, "\n"), " "))
		if collapsed != "" {
			out = append(out, collapsed)
		}
		plain = plain[:0]
	}

	for line := range strings.SplitSeq(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if inFence {
				fence = append(fence, line)
				out = append(out, strings.Join(fence, "\n"))
				fence = fence[:0]
				inFence = false
			} else {
				flushPlain()
				fence = append(fence, line)
				inFence = true
			}
			continue
		}
		if inFence {
			fence = append(fence, line)
		} else {
			plain = append(plain, line)
		}
	}
	if inFence {
		out = append(out, strings.Join(fence, "\n"))
	}
	flushPlain()

	return strings.Join(out, "\n")
}

// rowsToMarkdown renders a header row plus body rows as a Markdown
// table.
func rowsToMarkdown(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	header := rows[0]
	var b strings.Builder
	b.WriteString("| " + strings.Join(header, " | ") + " |\n")
	sep := make([]string, len(header))
	for i := range sep {
		sep[i] = "---"
	}
	b.WriteString("| " + strings.Join(sep, " | ") + " |")
	for _, row := range rows[1:] {
		b.WriteString("\n| " + strings.Join(row, " | ") + " |")
	}
	return b.String()
}

func rowsToCSVText(rows [][]string) string {
	lines := make([]string, len(rows))
	for i, row := range rows {
		lines[i] = strings.Join(row, ",")
	}
	return strings.Join(lines, "\n")
}

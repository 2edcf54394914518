package dialect

import "strings"

// SugarToCSS converts indentation-based SugarSS source into brace syntax.
// Every input line maps to the same output line, so positions reported
// against the result also hold for the original file.
//
// Nesting is expressed by indentation, declarations need no semicolons, and
// selector lists may span lines ending with a comma. Line comments ("//")
// become block comments.
func SugarToCSS(src []byte) []byte {
	text := strings.ReplaceAll(string(src), "\r\n", "\n")
	lines := strings.Split(text, "\n")
	out := make([]string, len(lines))

	kinds := classify(lines)

	var stack []int
	lastContent := -1

	closeTo := func(indent int) {
		for len(stack) > 0 && indent <= stack[len(stack)-1] {
			stack = stack[:len(stack)-1]
			if lastContent >= 0 {
				out[lastContent] += " }"
			}
		}
	}

	for i, line := range lines {
		switch kinds[i] {
		case lineBlank, lineBlockComment:
			out[i] = line
			continue
		}

		trimmed := strings.TrimSpace(line)
		if kinds[i] == lineComment {
			lead := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
			out[i] = lead + "/*" + strings.TrimPrefix(trimmed, "//") + " */"
			lastContent = i
			continue
		}

		indent := indentOf(line)
		closeTo(indent)

		switch {
		case nextIndent(lines, kinds, i) > indent:
			out[i] = strings.TrimRight(line, " \t") + " {"
			stack = append(stack, indent)
		case strings.HasSuffix(trimmed, ","),
			strings.HasSuffix(trimmed, ";"),
			strings.HasSuffix(trimmed, "{"),
			strings.HasSuffix(trimmed, "}"):
			out[i] = line
		default:
			out[i] = strings.TrimRight(line, " \t") + ";"
		}
		lastContent = i
	}
	closeTo(-1)

	return []byte(strings.Join(out, "\n"))
}

type lineKind int

const (
	lineCode lineKind = iota
	lineBlank
	lineComment
	lineBlockComment
)

func classify(lines []string) []lineKind {
	kinds := make([]lineKind, len(lines))
	inBlock := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case inBlock:
			kinds[i] = lineBlockComment
			if strings.Contains(trimmed, "*/") {
				inBlock = false
			}
		case trimmed == "":
			kinds[i] = lineBlank
		case strings.HasPrefix(trimmed, "//"):
			kinds[i] = lineComment
		case strings.HasPrefix(trimmed, "/*"):
			kinds[i] = lineBlockComment
			if !strings.Contains(trimmed[2:], "*/") {
				inBlock = true
			}
		}
	}
	return kinds
}

func nextIndent(lines []string, kinds []lineKind, i int) int {
	for j := i + 1; j < len(lines); j++ {
		if kinds[j] == lineCode {
			return indentOf(lines[j])
		}
	}
	return -1
}

func indentOf(line string) int {
	return len(line) - len(strings.TrimLeft(line, " \t"))
}

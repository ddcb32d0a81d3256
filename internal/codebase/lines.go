// internal/codebase/lines.go
package codebase

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrLineRange is returned when a line range does not fit the content.
var ErrLineRange = errors.New("line range out of bounds")

// splitLines splits content into lines. A trailing newline does not produce
// an extra empty line; it is reported separately so it can be restored.
func splitLines(content string) (lines []string, trailingNewline bool) {
	if content == "" {
		return []string{}, false
	}
	trailingNewline = strings.HasSuffix(content, "\n")
	if trailingNewline {
		content = content[:len(content)-1]
	}
	return strings.Split(content, "\n"), trailingNewline
}

func joinLines(lines []string, trailingNewline bool) string {
	out := strings.Join(lines, "\n")
	if trailingNewline {
		out += "\n"
	}
	return out
}

// LineCount returns the number of lines in content.
func LineCount(content string) int {
	lines, _ := splitLines(content)
	return len(lines)
}

// Lines returns lines start through end, 1-indexed and inclusive, joined with
// newlines.
func Lines(content string, start, end int) (string, error) {
	lines, _ := splitLines(content)
	if err := checkRange(start, end, len(lines)); err != nil {
		return "", err
	}
	return strings.Join(lines[start-1:end], "\n"), nil
}

// ReplaceLines replaces lines start through end (1-indexed, inclusive) with
// newText. An empty newText removes the range. Replacing a non-blank range
// with its own text returns content unchanged.
func ReplaceLines(content string, start, end int, newText string) (string, error) {
	lines, trailing := splitLines(content)
	if err := checkRange(start, end, len(lines)); err != nil {
		return "", err
	}

	var replacement []string
	if newText != "" {
		replacement = strings.Split(newText, "\n")
	}
	out := make([]string, 0, len(lines)-(end-start+1)+len(replacement))
	out = append(out, lines[:start-1]...)
	out = append(out, replacement...)
	out = append(out, lines[end:]...)
	if len(out) == 0 {
		return "", nil
	}
	return joinLines(out, trailing), nil
}

func checkRange(start, end, total int) error {
	if start < 1 || end < start || end > total {
		return fmt.Errorf("%w: lines %d-%d of %d", ErrLineRange, start, end, total)
	}
	return nil
}

// ContextWindow renders size lines around line with numbered gutters. The
// target line is marked with "-> ".
func ContextWindow(content string, line, size int) string {
	lines, _ := splitLines(content)
	if line <= 0 || line > len(lines) {
		return "// Context unavailable: invalid line number."
	}
	if size <= 0 {
		size = 1
	}

	start := line - size/2 - 1
	if start < 0 {
		start = 0
	}
	end := start + size
	if end > len(lines) {
		end = len(lines)
		start = end - size
		if start < 0 {
			start = 0
		}
	}

	width := int(math.Log10(float64(end))) + 1
	var b strings.Builder
	for i := start; i < end; i++ {
		n := i + 1
		marker := "   "
		if n == line {
			marker = "-> "
		}
		fmt.Fprintf(&b, "%s%*d: %s", marker, width, n, lines[i])
		if i < end-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

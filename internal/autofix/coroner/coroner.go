// internal/autofix/coroner/coroner.go
package coroner

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Frame is one entry of a JavaScript or TypeScript stack trace.
type Frame struct {
	Function string `json:"function,omitempty"`
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   int    `json:"column,omitempty"`
}

// IncidentReport is the structured form of an error and its stack.
type IncidentReport struct {
	// Message is the first line of the error, e.g. "TypeError: x is undefined".
	Message string
	// StackTrace is the raw text.
	StackTrace string
	// Frames are the parsed stack frames in order.
	Frames []Frame
	// FilePath, LineNumber and FunctionName describe the first frame in
	// application code.
	FilePath     string
	LineNumber   int
	FunctionName string
}

var (
	// "    at fn (/app/server/routes.ts:42:15)"
	namedFrameRegex = regexp.MustCompile(`^\s*at (?:async )?(.+?) \((.+?):(\d+):(\d+)\)\s*$`)
	// "    at /app/server/routes.ts:42:15"
	bareFrameRegex = regexp.MustCompile(`^\s*at (?:async )?(.+?):(\d+):(\d+)\s*$`)
	// Firefox/Safari style "fn@http://localhost:5173/src/App.tsx:10:3"
	geckoFrameRegex = regexp.MustCompile(`^\s*([^@\s]*)@(.+?):(\d+):(\d+)\s*$`)
	urlOriginRegex  = regexp.MustCompile(`^[a-z]+://[^/]+`)
)

// Parser interprets error stacks.
type Parser struct {
	root string
}

// NewParser creates a parser. Frames under root are reported relative to it.
func NewParser(root string) *Parser {
	return &Parser{root: root}
}

// ParseFrames extracts the frames of a stack trace, ignoring other lines.
func (p *Parser) ParseFrames(stack string) []Frame {
	var frames []Frame
	for _, line := range strings.Split(stack, "\n") {
		if f, ok := parseFrame(line); ok {
			f.File = p.normalize(f.File)
			frames = append(frames, f)
		}
	}
	return frames
}

func parseFrame(line string) (Frame, bool) {
	if m := namedFrameRegex.FindStringSubmatch(line); m != nil {
		return newFrame(m[1], m[2], m[3], m[4]), true
	}
	if m := bareFrameRegex.FindStringSubmatch(line); m != nil {
		return newFrame("", m[1], m[2], m[3]), true
	}
	if m := geckoFrameRegex.FindStringSubmatch(line); m != nil {
		return newFrame(m[1], m[2], m[3], m[4]), true
	}
	return Frame{}, false
}

func newFrame(fn, file, line, col string) Frame {
	l, _ := strconv.Atoi(line)
	c, _ := strconv.Atoi(col)
	return Frame{Function: fn, File: file, Line: l, Column: c}
}

func (p *Parser) normalize(file string) string {
	file = strings.TrimPrefix(file, "file://")
	if i := strings.IndexAny(file, "?#"); i >= 0 {
		file = file[:i]
	}
	// Dev server URLs are project-relative unless Vite serves them from /@fs.
	if loc := urlOriginRegex.FindStringIndex(file); loc != nil {
		file = file[loc[1]:]
		if strings.HasPrefix(file, "/@fs/") {
			file = strings.TrimPrefix(file, "/@fs")
		} else {
			file = strings.TrimPrefix(file, "/")
		}
	}
	if p.root != "" && filepath.IsAbs(file) {
		if rel, err := filepath.Rel(p.root, file); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(file)
}

// IsApplicationFrame reports whether f points at project code rather than
// dependencies or the runtime.
func IsApplicationFrame(f Frame) bool {
	switch {
	case f.File == "", f.Line <= 0:
		return false
	case strings.HasPrefix(f.File, "node:"), strings.HasPrefix(f.File, "internal/"):
		return false
	case strings.Contains(f.File, "node_modules/"), strings.Contains(f.File, "/.vite/deps/"):
		return false
	case strings.HasPrefix(f.File, "<"), f.File == "native":
		return false
	}
	return true
}

// ApplicationFiles returns the distinct application files in stack order.
func (p *Parser) ApplicationFiles(stack string) []string {
	seen := make(map[string]bool)
	var files []string
	for _, f := range p.ParseFrames(stack) {
		if !IsApplicationFrame(f) || seen[f.File] {
			continue
		}
		seen[f.File] = true
		files = append(files, f.File)
	}
	return files
}

// ParseFile reads an error log from disk.
func (p *Parser) ParseFile(logPath string) (*IncidentReport, error) {
	file, err := os.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open error log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read error log: %w", err)
	}
	return p.Parse(lines)
}

// Parse interprets the lines of an error and its stack. It fails when no
// frame points at application code.
func (p *Parser) Parse(lines []string) (*IncidentReport, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("error log is empty")
	}
	stack := strings.Join(lines, "\n")
	report := &IncidentReport{
		Message:    strings.TrimSpace(lines[0]),
		StackTrace: stack,
		Frames:     p.ParseFrames(stack),
	}
	for _, f := range report.Frames {
		if IsApplicationFrame(f) {
			report.FilePath = f.File
			report.LineNumber = f.Line
			report.FunctionName = f.Function
			return report, nil
		}
	}
	return nil, fmt.Errorf("could not determine error location in application code from stack trace")
}

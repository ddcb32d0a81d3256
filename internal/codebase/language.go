// internal/codebase/language.go
package codebase

import (
	"path/filepath"
	"strings"
)

var languages = map[string]string{
	".ts":   "typescript",
	".tsx":  "typescript",
	".mts":  "typescript",
	".cts":  "typescript",
	".js":   "javascript",
	".jsx":  "javascript",
	".mjs":  "javascript",
	".cjs":  "javascript",
	".json": "json",
	".css":  "css",
	".scss": "scss",
	".html": "html",
	".md":   "markdown",
	".sql":  "sql",
	".yml":  "yaml",
	".yaml": "yaml",
	".sh":   "shell",
	".go":   "go",
	".py":   "python",
}

// DetectLanguage names the language of path from its extension, or "text".
func DetectLanguage(path string) string {
	if lang, ok := languages[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return "text"
}

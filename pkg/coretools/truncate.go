package coretools

import (
	"path/filepath"
	"strings"
)

const (
	// MaxMessageSize is where tool text is cut for most agents.
	MaxMessageSize = 3000
	// LargeMessageSize applies to the writer agent.
	LargeMessageSize = 13000
	// WriterAgentName receives LargeMessageSize.
	WriterAgentName = "agent_writer"

	truncatedSuffix = " ... (force to truncate)"
)

// Extensions read whole by read_file.
var noTruncateExtensions = []string{
	"done", "whole",
	"md", "manifest", "conf", "yaml", "config", "cfg", "rc", "cnf", "xml", "pem", "json",
	"py", "go", "c", "c++", "sh", "cmd",
}

// Truncate cuts s to limit bytes and marks the cut. A negative limit keeps s.
func Truncate(s string, limit int) string {
	if limit < 0 || len(s) <= limit {
		return s
	}
	return s[:limit] + truncatedSuffix
}

func noTruncate(path string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range noTruncateExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Package utils provides shared helper functions.
package utils

import (
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// EnsureDir ensures a directory exists, creating it if necessary.
func EnsureDir(path string) (string, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", err
	}
	return path, nil
}

// GetDataPath returns the qqbridge data directory. Defaults to ~/.qqbridge;
// the QQBRIDGE_HOME environment variable overrides it.
func GetDataPath() string {
	p := os.Getenv("QQBRIDGE_HOME")
	if p == "" {
		home, _ := os.UserHomeDir()
		p = filepath.Join(home, ".qqbridge")
	}
	os.MkdirAll(p, 0755)
	return p
}

// GetSessionsPath returns the sessions storage directory.
func GetSessionsPath() string {
	return dataSubdir("sessions")
}

// GetMediaPath returns the directory downloaded files are written to.
func GetMediaPath() string {
	return dataSubdir("media")
}

func dataSubdir(name string) string {
	p := filepath.Join(GetDataPath(), name)
	os.MkdirAll(p, 0755)
	return p
}

// TruncateString shortens s to at most maxRunes runes, appending suffix
// when cut. Rune-based so CJK text never gets split mid-character.
func TruncateString(s string, maxRunes int, suffix string) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	if suffix == "" {
		suffix = "..."
	}
	keep := maxRunes - utf8.RuneCountInString(suffix)
	if keep < 0 {
		keep = 0
	}
	runes := []rune(s)
	return string(runes[:keep]) + suffix
}

// SafeFilename converts a string to a safe filename by replacing unsafe characters.
func SafeFilename(name string) string {
	mapped := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`<>:"/\|?*`, r) {
			return '_'
		}
		return r
	}, name)
	return strings.TrimSpace(mapped)
}

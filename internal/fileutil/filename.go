package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	illegalChars = regexp.MustCompile(`[\/\\:*?"<>|]`)
	whitespace   = regexp.MustCompile(`[\s_]+`)
)

// SanitizeForFilename turns a video title into a safe file stem.
func SanitizeForFilename(input string) string {
	sanitized := illegalChars.ReplaceAllString(input, "_")
	sanitized = whitespace.ReplaceAllString(sanitized, "-")
	sanitized = strings.Trim(sanitized, "-.")

	if len(sanitized) > 80 {
		sanitized = sanitized[:80]
		for !utf8.ValidString(sanitized) {
			sanitized = sanitized[:len(sanitized)-1]
		}
		sanitized = strings.TrimRight(sanitized, "-")
	}
	if sanitized == "" {
		return "audio"
	}
	return sanitized
}

// Stem returns the file name of path without directory and extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// RenameToStem renames path to <dir>/<stem><ext>, adding -2, -3, ... when
// the target already exists. It returns the final path.
func RenameToStem(path, stem string) (string, error) {
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)

	newPath := filepath.Join(dir, stem+ext)
	if newPath == path {
		return path, nil
	}
	for i := 2; fileExists(newPath); i++ {
		if i > 999 {
			return path, fmt.Errorf("no free name for %s in %s", stem+ext, dir)
		}
		newPath = filepath.Join(dir, fmt.Sprintf("%s-%d%s", stem, i, ext))
	}

	if err := os.Rename(path, newPath); err != nil {
		return path, err
	}
	return newPath, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

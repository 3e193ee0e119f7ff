package coretools

import (
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/harun/kitool/pkg/toolexecutor"
)

// DefaultMaxChars is the read_file limit when the caller gives none
const DefaultMaxChars = 20000

// ReadText returns up to maxChars characters of a UTF-8 file, followed by
// the truncation marker when the file is longer.
func ReadText(path string, maxChars int) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", toolexecutor.ExecutionError(err)
	}
	if !utf8.Valid(data) {
		return "", toolexecutor.ExecutionError(fmt.Errorf("%s is not valid UTF-8 text", path))
	}
	if maxChars < 0 {
		maxChars = DefaultMaxChars
	}
	content, _ := toolexecutor.TruncateText(string(data), maxChars)
	return content, nil
}

// WriteText creates missing parent directories and overwrites path with
// content. There is no locking: concurrent writers may interleave.
func WriteText(path string, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return toolexecutor.ExecutionError(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return toolexecutor.ExecutionError(err)
	}
	return nil
}

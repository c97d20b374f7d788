package state

import (
	"os"
	"path/filepath"
)

func strPtr(s string) *string { return &s }

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

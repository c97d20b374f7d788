// Package descriptor extracts the metadata block at the top of a skill
// package's SKILL.md file. Only the name and description keys are recognised,
// and only their single-line values are captured.
package descriptor

import (
	"os"
	"strings"

	"github.com/pkg/errors"
)

// FileName is the descriptor file whose presence marks a directory as a skill package.
const FileName = "SKILL.md"

const delimiter = "---"

// Descriptor is the two-field record parsed from a descriptor block.
// A nil field means the key was absent or the block was malformed.
type Descriptor struct {
	Name        *string `json:"name,omitempty" yaml:"name,omitempty"`
	Description *string `json:"description,omitempty" yaml:"description,omitempty"`
}

// NameOr returns the declared name, or fallback when it is absent.
func (d Descriptor) NameOr(fallback string) string {
	if d.Name == nil {
		return fallback
	}
	return *d.Name
}

// DescriptionOr returns the declared description, or fallback when it is absent.
func (d Descriptor) DescriptionOr(fallback string) string {
	if d.Description == nil {
		return fallback
	}
	return *d.Description
}

// IsEmpty reports whether neither field was found.
func (d Descriptor) IsEmpty() bool {
	return d.Name == nil && d.Description == nil
}

// Parse extracts the descriptor from file contents. It never fails: content
// without a leading block, or with an unterminated one, yields an empty Descriptor.
func Parse(contents string) Descriptor {
	lines, ok := blockLines(contents)
	if !ok {
		return Descriptor{}
	}

	var d Descriptor
	for _, line := range lines {
		if d.Name == nil {
			if v, ok := field(line, "name"); ok {
				d.Name = &v
				continue
			}
		}
		if d.Description == nil {
			if v, ok := field(line, "description"); ok {
				d.Description = &v
			}
		}
	}
	return d
}

// ParseFile reads and parses the descriptor at path. Only I/O errors are returned.
func ParseFile(path string) (Descriptor, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, errors.Wrap(err, "failed to read descriptor file")
	}
	return Parse(string(content)), nil
}

// blockLines returns the lines between the opening and closing delimiters.
func blockLines(contents string) ([]string, bool) {
	lines := strings.Split(contents, "\n")

	start := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if trimmed != delimiter {
			return nil, false
		}
		start = i
		break
	}
	if start == -1 {
		return nil, false
	}

	for i := start + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == delimiter {
			return lines[start+1 : i], true
		}
	}
	return nil, false
}

// field returns the trimmed value of line when it starts with "key:".
func field(line, key string) (string, bool) {
	line = strings.TrimRight(line, "\r")
	if !strings.HasPrefix(line, key+":") {
		return "", false
	}
	return unquote(strings.TrimSpace(line[len(key)+1:])), true
}

func unquote(value string) string {
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return value[1 : len(value)-1]
		}
	}
	return value
}

// Package export writes final reports to the local filesystem.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Files writes a markdown and a plain-text rendition of each report.
type Files struct {
	Dir string
}

func NewFiles(dir string) *Files {
	return &Files{Dir: dir}
}

// Export writes <dir>/<name>.md and <dir>/<name>.txt and returns their
// locations keyed by format.
func (f *Files) Export(ctx context.Context, name, content string) (map[string]string, error) {
	base := strings.Trim(unsafeName.ReplaceAllString(name, "_"), "._")
	if base == "" {
		return nil, fmt.Errorf("invalid report name %q", name)
	}
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}

	outputs := map[string]string{
		"md":  "# Research Report\n\n" + content + "\n",
		"txt": content + "\n",
	}
	paths := make(map[string]string, len(outputs))
	for format, body := range outputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(f.Dir, base+"."+format)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			return nil, fmt.Errorf("write %s report: %w", format, err)
		}
		paths[format] = path
	}
	return paths, nil
}

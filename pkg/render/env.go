package render

import (
	"fmt"
	"os"
	"strings"

	"github.com/herdctl/herd/pkg/errdefs"
)

// RewriteEnv rewrites only the given variables in an env file,
// line-oriented, preserving comments, ordering and unrelated content.
// Variables not present in the file are appended at the end.
func RewriteEnv(path string, updates Vars) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errdefs.Wrap(errdefs.KindRenderIO, err, "failed to read env file %s", path)
	}

	remaining := make(map[string]string, len(updates))
	for k, v := range updates {
		remaining[k] = v
	}

	lines := strings.Split(string(raw), "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		key, _, ok := strings.Cut(trimmed, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if value, ok := remaining[key]; ok {
			lines[i] = fmt.Sprintf("%s=%s", key, value)
			delete(remaining, key)
		}
	}

	out := strings.Join(lines, "\n")
	if len(remaining) > 0 {
		if !strings.HasSuffix(out, "\n") {
			out += "\n"
		}
		for key, value := range remaining {
			out += fmt.Sprintf("%s=%s\n", key, value)
		}
	}

	if err := os.WriteFile(path, []byte(out), 0o600); err != nil {
		return errdefs.Wrap(errdefs.KindRenderIO, err, "failed to write env file %s", path)
	}
	return nil
}

// ReadEnv parses an env file into a Vars map. Comments and blank lines
// are skipped.
func ReadEnv(path string) (Vars, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindRenderIO, err, "failed to read env file %s", path)
	}
	vars := make(Vars)
	for _, line := range strings.Split(string(raw), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		key, value, ok := strings.Cut(trimmed, "=")
		if !ok {
			continue
		}
		vars[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return vars, nil
}

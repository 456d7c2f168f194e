package xpg

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

var includeDirective = regexp.MustCompile(`\\ir\s(.*)`)

// LoadScript reads a SQL script from fsys, replacing every `\ir <path>`
// directive with the contents of the referenced file. Paths are relative to
// the directory of the including file; includes nest. A file that includes
// itself, directly or not, yields ErrScriptCycle.
func LoadScript(fsys afero.Fs, path string) (string, error) {
	return loadScript(fsys, path, nil)
}

func loadScript(fsys afero.Fs, path string, stack []string) (string, error) {
	clean := filepath.Clean(path)
	for _, p := range stack {
		if p == clean {
			return "", xerrors.Errorf("%w: %s", ErrScriptCycle, strings.Join(append(stack, clean), " -> "))
		}
	}
	stack = append(stack, clean)

	raw, err := afero.ReadFile(fsys, clean)
	if err != nil {
		return "", xerrors.Errorf("xpg: script: %w", err)
	}

	base := filepath.Dir(clean)
	var loadErr error
	sql := includeDirective.ReplaceAllStringFunc(string(raw), func(m string) string {
		if loadErr != nil {
			return m
		}
		rel := strings.TrimSpace(includeDirective.FindStringSubmatch(m)[1])
		inc, err := loadScript(fsys, filepath.Join(base, rel), stack)
		if err != nil {
			loadErr = err
			return m
		}
		return inc
	})
	if loadErr != nil {
		return "", loadErr
	}
	return sql, nil
}

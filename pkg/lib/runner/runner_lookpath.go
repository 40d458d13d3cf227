package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// defaultPath is searched when init was started without PATH, which is the
// usual case when the kernel launches it.
const defaultPath = "/bin:/usr/bin"

// resolve applies execvp semantics: a name containing a slash is used as is,
// anything else is searched for in PATH.
func (runner *Runner) resolve(file string) (string, error) {
	if strings.Contains(file, "/") {
		return file, nil
	}
	return runner.lookPath(file)
}

func lookPath(file string) (string, error) {
	path := os.Getenv("PATH")
	if path == "" {
		path = defaultPath
	}

	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			dir = "."
		}
		candidate := filepath.Join(dir, file)
		fi, err := os.Stat(candidate)
		if err != nil || fi.IsDir() {
			continue
		}
		if unix.Access(candidate, unix.X_OK) == nil {
			// The child changes directory before exec, so relative
			// results must not survive.
			return filepath.Abs(candidate)
		}
	}

	return "", fmt.Errorf("%s not found in %s: %w", file, path, unix.ENOENT)
}

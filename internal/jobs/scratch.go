package jobs

import (
	"os"
	"path/filepath"
	"strings"
)

// scratch is a per-job working directory removed after materialization.
type scratch struct {
	dir string
}

func newScratch(root, jobID string) (*scratch, error) {
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp(root, "job-"+safeName(jobID)+"-")
	if err != nil {
		return nil, err
	}
	return &scratch{dir: dir}, nil
}

func (s *scratch) Dir() string { return s.dir }

func (s *scratch) Path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *scratch) Cleanup() error {
	return os.RemoveAll(s.dir)
}

func safeName(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}

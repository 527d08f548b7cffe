package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

var ErrNoStills = errors.New("no still images found")

var stillExts = []string{".jpg", ".jpeg", ".png"}

// DirCamera stands in for a device camera by cycling through the still
// images in a directory, in name order.
type DirCamera struct {
	mu    sync.Mutex
	files []string
	next  int
}

func NewDirCamera(dir string) (*DirCamera, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read camera dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(stillExts, strings.ToLower(filepath.Ext(e.Name()))) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoStills, dir)
	}
	slices.Sort(files)
	return &DirCamera{files: files}, nil
}

func (c *DirCamera) TakeStillImage(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	path := c.files[c.next]
	c.next = (c.next + 1) % len(c.files)
	c.mu.Unlock()

	return os.ReadFile(path)
}

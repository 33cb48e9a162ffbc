package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"powerbridge/internal/common/fsutil"
	"powerbridge/pkg/types"
)

// LoadDir scans a work folder for *.gguf files and builds the model list
// sorted by file name. ID is the full filename (including extension); Path is
// the absolute file path.
func LoadDir(dir string) ([]types.Model, error) {
	abs, err := fsutil.ResolveDir(dir)
	if err != nil {
		return nil, fmt.Errorf("work folder: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		models = append(models, types.Model{ID: name, Name: strings.TrimSuffix(name, filepath.Ext(name)), Path: filepath.Join(abs, name)})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

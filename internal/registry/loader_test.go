package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDir_FiltersGGUF(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{"b.gguf", "a.GGUF", "not-model.txt", "model.bin"} {
		if err := os.WriteFile(filepath.Join(dir, f), []byte(""), 0o644); err != nil {
			t.Fatalf("write temp file: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.gguf"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	models, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d: %+v", len(models), models)
	}
	if models[0].ID != "a.GGUF" || models[1].ID != "b.gguf" {
		t.Fatalf("unexpected order: %+v", models)
	}
	if models[1].Name != "b" || models[1].Path != filepath.Join(dir, "b.gguf") {
		t.Fatalf("unexpected model: %+v", models[1])
	}
}

func TestLoadDir_ExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	if err := os.MkdirAll(filepath.Join(home, "models"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(home, "models", "m.gguf"), nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	models, err := LoadDir("~/models")
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(models) != 1 || models[0].Path != filepath.Join(home, "models", "m.gguf") {
		t.Fatalf("unexpected models: %+v", models)
	}
}

func TestLoadDir_Missing(t *testing.T) {
	if _, err := LoadDir(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatalf("expected error for missing folder")
	}
}

package fsutil

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func readAll(t *testing.T, fsys FileSystem, name string) string {
	t.Helper()
	r, err := fsys.Open(name)
	if err != nil {
		t.Fatalf("Open(%s) failed: %v", name, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll(%s) failed: %v", name, err)
	}
	return string(data)
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	filesystems := map[string]struct {
		fsys FileSystem
		root string
	}{
		"os":     {OSFileSystem{}, dir},
		"memory": {NewMemoryFileSystem(), "/project"},
	}
	for name, tc := range filesystems {
		t.Run(name, func(t *testing.T) {
			src := filepath.Join(tc.root, "rasters", "dem.tif")
			dest := filepath.Join(tc.root, "export", "basemaps", "dem.tif")
			if err := tc.fsys.MkdirAll(filepath.Dir(src), 0o755); err != nil {
				t.Fatalf("MkdirAll failed: %v", err)
			}
			if err := tc.fsys.WriteFile(src, []byte("elevation"), 0o644); err != nil {
				t.Fatalf("WriteFile failed: %v", err)
			}
			if err := tc.fsys.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				t.Fatalf("MkdirAll failed: %v", err)
			}
			if err := CopyFile(tc.fsys, src, dest); err != nil {
				t.Fatalf("CopyFile failed: %v", err)
			}
			if got := readAll(t, tc.fsys, dest); got != "elevation" {
				t.Errorf("copy = %q, want %q", got, "elevation")
			}
			if !tc.fsys.Exists(filepath.Dir(dest)) {
				t.Error("destination directory does not exist")
			}
			if err := CopyFile(tc.fsys, filepath.Join(tc.root, "missing.tif"), dest); !os.IsNotExist(err) {
				t.Errorf("CopyFile(missing) = %v, want not exist", err)
			}
		})
	}
}

func TestMemoryFileSystem_CreateNeedsParent(t *testing.T) {
	m := NewMemoryFileSystem()
	if _, err := m.Create("/a/b.txt"); !os.IsNotExist(err) {
		t.Errorf("Create without parent = %v, want not exist", err)
	}
	if err := m.MkdirAll("/a", 0o755); err != nil {
		t.Fatal(err)
	}
	if err := m.WriteFile("/a/b.txt", []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.MkdirAll("/a/b.txt/c", 0o755); err == nil {
		t.Error("MkdirAll through a file succeeded")
	}
	if got := m.Files(); len(got) != 1 || got[0] != "/a/b.txt" {
		t.Errorf("Files() = %v", got)
	}
}

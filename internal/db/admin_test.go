package db

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/riverscapes/qris/internal/errors"
)

// loopbackRequest sets RemoteAddr to loopback so tsweb allows debug access.
func loopbackRequest(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestBackup(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	if err := db.CreateProject(ctx, &Project{Name: "Backed Up"}); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "copies", "backup.gpkg")
	if err := db.Backup(ctx, dest); err != nil {
		t.Fatalf("Backup failed: %v", err)
	}
	copyDB, err := OpenDB(dest)
	if err != nil {
		t.Fatalf("OpenDB on backup failed: %v", err)
	}
	defer copyDB.Close()
	p, err := copyDB.GetProject(ctx)
	if err != nil {
		t.Fatalf("GetProject on backup failed: %v", err)
	}
	if p.Name != "Backed Up" {
		t.Errorf("backup project name = %q, want %q", p.Name, "Backed Up")
	}

	if err := db.Backup(ctx, dest); !errors.IsKind(err, errors.KindIO) {
		t.Errorf("second Backup error = %v, want IO error", err)
	}
}

func TestAttachAdminRoutes_Backup(t *testing.T) {
	db := setupTestDB(t)
	mux := http.NewServeMux()
	if err := db.AttachAdminRoutes(mux); err != nil {
		t.Fatalf("AttachAdminRoutes failed: %v", err)
	}

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, loopbackRequest(http.MethodGet, "/debug/backup"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment; filename=backup-") {
		t.Errorf("unexpected Content-Disposition %q", cd)
	}

	gr, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("failed to open gzip reader: %v", err)
	}
	defer gr.Close()
	data, err := io.ReadAll(gr)
	if err != nil {
		t.Fatalf("failed to read gzip body: %v", err)
	}
	if len(data) < 15 || string(data[:15]) != "SQLite format 3" {
		t.Error("backup does not look like an SQLite database")
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, loopbackRequest(http.MethodGet, "/debug/tailsql/"))
	if w.Code == http.StatusNotFound {
		t.Error("tailsql console is not mounted")
	}
}

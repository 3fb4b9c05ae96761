package capturestore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rustyproxy/rustyproxy/internal/message"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	path := filepath.Join(t.TempDir(), "captures.db")
	db, err := OpenDB(path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	repo, err := NewRepo(db, 16)
	if err != nil {
		t.Fatalf("new repo: %v", err)
	}
	return repo
}

func sampleCapture() message.Capture {
	req := message.NewRequest(false, "GET", "/widgets", [][2]string{{"Host", "example.com"}}, message.NewBytesBody(nil))
	resp := message.NewResponse(200, "OK", [][2]string{{"Content-Type", "text/plain"}}, message.NewBytesBody([]byte("hello")))
	return message.Capture{Request: req, Response: resp}
}

func TestAddAndGetCapture(t *testing.T) {
	repo := newTestRepo(t)

	stored, err := repo.AddCapture(sampleCapture())
	if err != nil {
		t.Fatalf("add capture: %v", err)
	}
	if stored.ID == "" {
		t.Fatalf("expected assigned id")
	}

	got, ok, err := repo.GetCaptureByID(stored.ID)
	if err != nil {
		t.Fatalf("get capture: %v", err)
	}
	if !ok {
		t.Fatalf("expected capture to be found")
	}
	if got.Request.Method != "GET" || got.Request.Path != "/widgets" {
		t.Fatalf("request mismatch: %+v", got.Request)
	}
	if string(got.Response.Body.Encode()) != "hello" {
		t.Fatalf("response body mismatch: %q", got.Response.Body.Encode())
	}
}

func TestGetCaptureByIDMissing(t *testing.T) {
	repo := newTestRepo(t)
	_, ok, err := repo.GetCaptureByID("does-not-exist")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected not found")
	}
}

func TestListCapturesOrdersByInsertion(t *testing.T) {
	repo := newTestRepo(t)

	first, err := repo.AddCapture(sampleCapture())
	if err != nil {
		t.Fatalf("add first: %v", err)
	}
	second, err := repo.AddCapture(sampleCapture())
	if err != nil {
		t.Fatalf("add second: %v", err)
	}

	all, err := repo.ListCaptures()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 captures, got %d", len(all))
	}
	if all[0].ID != first.ID || all[1].ID != second.ID {
		t.Fatalf("expected insertion order, got %s then %s", all[0].ID, all[1].ID)
	}
}

func TestPruneOlderThanRemovesExpired(t *testing.T) {
	repo := newTestRepo(t)

	stored, err := repo.AddCapture(sampleCapture())
	if err != nil {
		t.Fatalf("add capture: %v", err)
	}

	// Backdate the row directly so it falls outside the retention window.
	if _, err := repo.db.Exec("UPDATE captures SET created_at_ns = ? WHERE id = ?", 1, stored.ID); err != nil {
		t.Fatalf("backdate: %v", err)
	}
	repo.index.Store(stored.ID, 1)
	repo.cache.Delete(stored.ID)

	if err := repo.pruneOlderThan(time.Hour); err != nil {
		t.Fatalf("prune: %v", err)
	}

	_, ok, err := repo.GetCaptureByID(stored.ID)
	if err != nil {
		t.Fatalf("get after prune: %v", err)
	}
	if ok {
		t.Fatalf("expected capture to have been pruned")
	}
}

package capturestore

import (
	"database/sql"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maypok86/otter"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/robfig/cron/v3"

	"github.com/rustyproxy/rustyproxy/internal/message"
)

// Repo is the SQLite-backed Store implementation. It keeps two in-memory
// accelerators in front of the database: an xsync map from capture id to
// insertion timestamp (so ListCaptures can produce an ordering without a
// table scan on every call) and a small otter read-through cache of full
// captures (so a get_capture_by_id immediately following an add_capture or
// a scan doesn't pay a round trip for data the caller just produced).
type Repo struct {
	db *sql.DB

	index *xsync.Map[string, int64]
	cache otter.Cache[string, message.Capture]

	cronMu sync.Mutex
	cron   *cron.Cron
}

// NewRepo wraps an already-migrated *sql.DB. cacheCapacity bounds the
// otter read-through cache; 0 selects a small default.
func NewRepo(db *sql.DB, cacheCapacity int) (*Repo, error) {
	if cacheCapacity <= 0 {
		cacheCapacity = 1024
	}
	cache, err := otter.MustBuilder[string, message.Capture](cacheCapacity).
		Cost(func(_ string, _ message.Capture) uint32 { return 1 }).
		Build()
	if err != nil {
		return nil, fmt.Errorf("capture store: build cache: %w", err)
	}

	r := &Repo{
		db:    db,
		index: xsync.NewMap[string, int64](),
		cache: cache,
	}
	if err := r.loadIndex(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repo) loadIndex() error {
	rows, err := r.db.Query("SELECT id, created_at_ns FROM captures")
	if err != nil {
		return fmt.Errorf("capture store: load index: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var createdAtNs int64
		if err := rows.Scan(&id, &createdAtNs); err != nil {
			return fmt.Errorf("capture store: scan index row: %w", err)
		}
		r.index.Store(id, createdAtNs)
	}
	return rows.Err()
}

// AddCapture assigns a fresh id and persists c, returning the stored copy
// with its id populated.
func (r *Repo) AddCapture(c message.Capture) (message.Capture, error) {
	c.ID = uuid.NewString()
	createdAtNs := time.Now().UnixNano()

	reqJSON, err := encodeRequest(c.Request)
	if err != nil {
		log.Printf("capturestore: encode request for %s: %v", c.ID, err)
		return message.Capture{}, ErrUnknown
	}
	respJSON, err := encodeResponse(c.Response)
	if err != nil {
		log.Printf("capturestore: encode response for %s: %v", c.ID, err)
		return message.Capture{}, ErrUnknown
	}

	_, err = r.db.Exec(
		"INSERT INTO captures (id, created_at_ns, request_json, response_json) VALUES (?, ?, ?, ?)",
		c.ID, createdAtNs, reqJSON, respJSON,
	)
	if err != nil {
		log.Printf("capturestore: insert %s: %v", c.ID, err)
		return message.Capture{}, ErrUnknown
	}

	r.index.Store(c.ID, createdAtNs)
	r.cache.Set(c.ID, c)

	return c, nil
}

// ListCaptures returns every capture, oldest first.
func (r *Repo) ListCaptures() ([]message.Capture, error) {
	type idTime struct {
		id          string
		createdAtNs int64
	}
	var ordered []idTime
	r.index.Range(func(id string, createdAtNs int64) bool {
		ordered = append(ordered, idTime{id, createdAtNs})
		return true
	})
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].createdAtNs < ordered[j].createdAtNs })

	captures := make([]message.Capture, 0, len(ordered))
	for _, it := range ordered {
		c, ok, err := r.GetCaptureByID(it.id)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Indexed but vanished between Range and the point read; the
			// row was deleted concurrently (e.g. by the retention job).
			continue
		}
		captures = append(captures, c)
	}
	return captures, nil
}

// GetCaptureByID fetches one capture, consulting the read-through cache
// before falling back to SQLite.
func (r *Repo) GetCaptureByID(id string) (message.Capture, bool, error) {
	if c, ok := r.cache.Get(id); ok {
		return c, true, nil
	}

	var reqJSON, respJSON []byte
	err := r.db.QueryRow(
		"SELECT request_json, response_json FROM captures WHERE id = ?", id,
	).Scan(&reqJSON, &respJSON)
	if err == sql.ErrNoRows {
		return message.Capture{}, false, nil
	}
	if err != nil {
		log.Printf("capturestore: get %s: %v", id, err)
		return message.Capture{}, false, ErrUnknown
	}

	req, err := decodeRequest(reqJSON)
	if err != nil {
		log.Printf("capturestore: decode request %s: %v", id, err)
		return message.Capture{}, false, ErrUnknown
	}
	resp, err := decodeResponse(respJSON)
	if err != nil {
		log.Printf("capturestore: decode response %s: %v", id, err)
		return message.Capture{}, false, ErrUnknown
	}

	c := message.Capture{ID: id, Request: req, Response: resp}
	r.cache.Set(id, c)
	return c, true, nil
}

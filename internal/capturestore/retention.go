package capturestore

import (
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// StartRetention schedules a periodic prune-and-compact job: captures
// older than maxAge are deleted, and the database is VACUUMed to reclaim
// the freed space. schedule is a standard five-field cron expression,
// validated with cron.ParseStandard before the job is scheduled.
func (r *Repo) StartRetention(schedule string, maxAge time.Duration) (*cron.Cron, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("capturestore: invalid retention schedule %q: %w", schedule, err)
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if err := r.pruneOlderThan(maxAge); err != nil {
			log.Printf("capturestore: retention run failed: %v", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("capturestore: schedule retention job: %w", err)
	}

	r.cronMu.Lock()
	r.cron = c
	r.cronMu.Unlock()

	c.Start()
	return c, nil
}

// StopRetention stops a previously started retention schedule, if any.
func (r *Repo) StopRetention() {
	r.cronMu.Lock()
	c := r.cron
	r.cron = nil
	r.cronMu.Unlock()
	if c != nil {
		c.Stop()
	}
}

func (r *Repo) pruneOlderThan(maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge).UnixNano()

	rows, err := r.db.Query("SELECT id FROM captures WHERE created_at_ns < ?", cutoff)
	if err != nil {
		return fmt.Errorf("capturestore: retention select: %w", err)
	}
	var expired []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("capturestore: retention scan: %w", err)
		}
		expired = append(expired, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if len(expired) == 0 {
		return nil
	}

	if _, err := r.db.Exec("DELETE FROM captures WHERE created_at_ns < ?", cutoff); err != nil {
		return fmt.Errorf("capturestore: retention delete: %w", err)
	}
	for _, id := range expired {
		r.index.Delete(id)
		r.cache.Delete(id)
	}

	if _, err := r.db.Exec("VACUUM"); err != nil {
		return fmt.Errorf("capturestore: retention vacuum: %w", err)
	}
	log.Printf("capturestore: retention pruned %d expired captures", len(expired))
	return nil
}

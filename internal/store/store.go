// Package store persists a load/reload/session history distinct from the
// REPL's plain-text command history (that file is owned by the external
// REPL per spec.md §6). This is a core-owned audit trail feeding
// `/workspace --verbose` and reload diagnostics: which programs were
// loaded, when, whether the cache was hit, and — on reload — a diff
// summary.
//
// Grounded on the teacher's models/models.go (GORM model shapes) and
// db/sqlite.go (GORM+sqlite wiring), swapped to the pure-Go glebarez
// driver so the whole module stays cgo-free (see DESIGN.md).
package store

import (
	"encoding/json"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/oxhq/coqu/internal/errs"
)

// LoadEvent is one row of the load/reload/unload audit trail.
type LoadEvent struct {
	ID          string `gorm:"primaryKey;type:varchar(36)"`
	ProgramName string `gorm:"type:varchar(255);index"`
	Path        string `gorm:"type:text"`
	Hash        string `gorm:"type:varchar(64)"`
	Lines       int
	Format      string `gorm:"type:varchar(16)"`
	Event       string `gorm:"type:varchar(16)"` // load | reload | unload
	CacheHit    bool
	Degraded    bool
	// Diagnostics holds the parse diagnostic summary as opaque JSON
	// (populated only when a full parse ran); the audit trail doesn't need
	// a relational diagnostics table, just a queryable blob per event.
	Diagnostics datatypes.JSON
	Diff        string    `gorm:"type:text"` // populated for reload events
	CreatedAt   time.Time `gorm:"autoCreateTime;index"`
}

// DiagnosticSummary is the shape persisted into LoadEvent.Diagnostics.
type DiagnosticSummary struct {
	Count int      `json:"count"`
	Lines []int    `json:"lines,omitempty"`
	Notes []string `json:"notes,omitempty"`
}

// EncodeDiagnostics marshals a summary into the column's JSON form.
func EncodeDiagnostics(s DiagnosticSummary) datatypes.JSON {
	b, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// Store wraps a SQLite-backed GORM handle for the audit trail.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if absent) the history database at path.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, errs.Wrap(errs.KindCache, "opening history store", err)
	}
	if err := db.AutoMigrate(&LoadEvent{}); err != nil {
		return nil, errs.Wrap(errs.KindCache, "migrating history store", err)
	}
	return &Store{db: db}, nil
}

// Record appends one audit event, assigning it a fresh ID and timestamp.
func (s *Store) Record(ev LoadEvent) error {
	ev.ID = uuid.NewString()
	if err := s.db.Create(&ev).Error; err != nil {
		return errs.Wrap(errs.KindCache, "recording load event", err)
	}
	return nil
}

// Recent returns the most recent events, newest first, limited to n.
func (s *Store) Recent(n int) ([]LoadEvent, error) {
	var events []LoadEvent
	if err := s.db.Order("created_at desc").Limit(n).Find(&events).Error; err != nil {
		return nil, errs.Wrap(errs.KindCache, "querying load history", err)
	}
	return events, nil
}

// ForProgram returns the audit trail for one program name, newest first.
func (s *Store) ForProgram(name string, n int) ([]LoadEvent, error) {
	var events []LoadEvent
	if err := s.db.Where("program_name = ?", name).Order("created_at desc").Limit(n).Find(&events).Error; err != nil {
		return nil, errs.Wrap(errs.KindCache, "querying program history", err)
	}
	return events, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

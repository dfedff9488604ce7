// Package archive keeps a history of sweep reports in a SQLite database.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/NodePath81/netcap/internal/risk"
)

// ErrNotFound is returned by Get for an unknown report id.
var ErrNotFound = errors.New("archive: report not found")

const schema = `
CREATE TABLE IF NOT EXISTS sweep_reports (
	id             TEXT PRIMARY KEY,
	created_at     INTEGER NOT NULL,
	sender_mbps    REAL NOT NULL,
	receiver_mbps  REAL NOT NULL,
	backbone_mbps  REAL NOT NULL,
	warn_threshold REAL NOT NULL,
	flow_counts    INTEGER NOT NULL,
	worst          TEXT NOT NULL,
	body           TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS sweep_reports_created_at ON sweep_reports (created_at);
`

// Entry is the index row of an archived report.
type Entry struct {
	ID            string        `json:"id"`
	CreatedAt     time.Time     `json:"created_at"`
	SenderMbps    float64       `json:"Rs_mbps"`
	ReceiverMbps  float64       `json:"Rc_mbps"`
	BackboneMbps  float64       `json:"R_backbone_mbps"`
	WarnThreshold float64       `json:"warn_threshold"`
	FlowCounts    int           `json:"flow_counts"`
	Worst         risk.Severity `json:"worst"`
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the archive at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: create schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores rep and returns its new id.
func (s *Store) Save(ctx context.Context, rep risk.Report) (string, error) {
	body, err := json.Marshal(rep)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sweep_reports (id, created_at, sender_mbps, receiver_mbps, backbone_mbps, warn_threshold, flow_counts, worst, body)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		s.now().UnixNano(),
		rep.SenderMbps,
		rep.ReceiverMbps,
		rep.BackboneMbps,
		rep.WarnThreshold,
		len(rep.Results),
		string(rep.Worst()),
		string(body),
	)
	if err != nil {
		return "", fmt.Errorf("archive: save: %w", err)
	}
	return id, nil
}

func (s *Store) Get(ctx context.Context, id string) (risk.Report, error) {
	if _, err := uuid.Parse(id); err != nil {
		return risk.Report{}, ErrNotFound
	}
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM sweep_reports WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return risk.Report{}, ErrNotFound
	}
	if err != nil {
		return risk.Report{}, fmt.Errorf("archive: get: %w", err)
	}
	var rep risk.Report
	if err := json.Unmarshal([]byte(body), &rep); err != nil {
		return risk.Report{}, fmt.Errorf("archive: decode %s: %w", id, err)
	}
	return rep, nil
}

// List returns up to limit entries, newest first. A non-positive limit
// returns every entry.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, sender_mbps, receiver_mbps, backbone_mbps, warn_threshold, flow_counts, worst
		 FROM sweep_reports ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			e       Entry
			created int64
			worst   string
		)
		if err := rows.Scan(&e.ID, &created, &e.SenderMbps, &e.ReceiverMbps, &e.BackboneMbps, &e.WarnThreshold, &e.FlowCounts, &worst); err != nil {
			return nil, fmt.Errorf("archive: list: %w", err)
		}
		e.CreatedAt = time.Unix(0, created)
		e.Worst = risk.Severity(worst)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

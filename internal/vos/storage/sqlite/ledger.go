package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/banshee-data/clipstitch/internal/timeutil"
	"github.com/banshee-data/clipstitch/internal/vos/mask"
)

// ErrRunNotFound is returned by GetRun for unknown run ids.
var ErrRunNotFound = errors.New("stitch run not found")

// Run is one stitching pass over a sequence.
type Run struct {
	RunID      string          `json:"run_id"`
	Sequence   string          `json:"sequence"`
	ParamsJSON json.RawMessage `json:"params_json,omitempty"`
	CreatedAt  int64           `json:"created_at"`
}

// Track is the ledger entry of one stitched track id.
type Track struct {
	RunID      string `json:"run_id"`
	TrackID    int32  `json:"track_id"`
	FirstFrame int    `json:"first_frame"`
	LastFrame  int    `json:"last_frame"`
	PixelCount int64  `json:"pixel_count"`
	Origin     string `json:"origin"`
}

// LedgerStore records stitch runs and the tracks they produce.
type LedgerStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(db *sql.DB) *LedgerStore {
	return &LedgerStore{db: db, clock: timeutil.RealClock{}}
}

// WithClock replaces the clock used for created_at.
func (s *LedgerStore) WithClock(c timeutil.Clock) *LedgerStore {
	s.clock = c
	return s
}

// InsertRun persists a run. If RunID is empty, a UUID is generated.
func (s *LedgerStore) InsertRun(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = s.clock.Now().UnixNano()
	}

	var params interface{}
	if len(run.ParamsJSON) > 0 {
		params = string(run.ParamsJSON)
	}
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO stitch_runs (run_id, sequence, params_json, created_at)
			VALUES (?, ?, ?, ?)`,
			run.RunID, run.Sequence, params, run.CreatedAt)
		return err
	})
}

// GetRun returns a run by id.
func (s *LedgerStore) GetRun(runID string) (*Run, error) {
	var r Run
	var params sql.NullString
	err := s.db.QueryRow(`
		SELECT run_id, sequence, params_json, created_at
		FROM stitch_runs
		WHERE run_id = ?`, runID).Scan(&r.RunID, &r.Sequence, &params, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	if params.Valid {
		r.ParamsJSON = json.RawMessage(params.String)
	}
	return &r, nil
}

// ListRuns returns the runs of a sequence, newest first.
func (s *LedgerStore) ListRuns(sequence string) ([]*Run, error) {
	rows, err := s.db.Query(`
		SELECT run_id, sequence, params_json, created_at
		FROM stitch_runs
		WHERE sequence = ?
		ORDER BY created_at DESC`, sequence)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var r Run
		var params sql.NullString
		if err := rows.Scan(&r.RunID, &r.Sequence, &params, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if params.Valid {
			r.ParamsJSON = json.RawMessage(params.String)
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// span is the per-id summary of one tube.
type span struct {
	first, last int
	pixels      int64
}

// RecordTube folds the tracks of a stitched tube into the ledger. Frame 0
// of tube is sequence frame startFrame. origins names how each track id
// was obtained; ids already in the ledger keep their first origin.
func (s *LedgerStore) RecordTube(runID string, startFrame int, tube *mask.Volume, origins map[int32]string) error {
	spans := make(map[int32]*span)
	for t := 0; t < tube.T; t++ {
		for _, id := range tube.Frame(t) {
			if id == 0 {
				continue
			}
			sp, ok := spans[id]
			if !ok {
				sp = &span{first: t, last: t}
				spans[id] = sp
			}
			sp.last = t
			sp.pixels++
		}
	}
	if len(spans) == 0 {
		return nil
	}
	ids := make([]int32, 0, len(spans))
	for id := range spans {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT INTO stitch_tracks (run_id, track_id, first_frame, last_frame, pixel_count, origin)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (run_id, track_id) DO UPDATE SET
				first_frame = MIN(first_frame, excluded.first_frame),
				last_frame = MAX(last_frame, excluded.last_frame),
				pixel_count = pixel_count + excluded.pixel_count`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, id := range ids {
			sp := spans[id]
			origin, ok := origins[id]
			if !ok {
				origin = "unknown"
			}
			if _, err := stmt.Exec(runID, id, startFrame+sp.first, startFrame+sp.last, sp.pixels, origin); err != nil {
				return fmt.Errorf("record track %d: %w", id, err)
			}
		}
		return tx.Commit()
	})
}

// ListTracks returns the tracks of a run ordered by track id.
func (s *LedgerStore) ListTracks(runID string) ([]*Track, error) {
	rows, err := s.db.Query(`
		SELECT run_id, track_id, first_frame, last_frame, pixel_count, origin
		FROM stitch_tracks
		WHERE run_id = ?
		ORDER BY track_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query tracks: %w", err)
	}
	defer rows.Close()

	var tracks []*Track
	for rows.Next() {
		var t Track
		if err := rows.Scan(&t.RunID, &t.TrackID, &t.FirstFrame, &t.LastFrame, &t.PixelCount, &t.Origin); err != nil {
			return nil, fmt.Errorf("scan track: %w", err)
		}
		tracks = append(tracks, &t)
	}
	return tracks, rows.Err()
}

package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/getpup/leaf-orchestrator"
	"github.com/getpup/leaf-orchestrator/store"
)

// Recorder is notified of every leaf status write inside the same transaction.
// A Recorder error rolls the write back.
type Recorder interface {
	Record(ctx context.Context, tx *sql.Tx, rec orchestrator.LeafRecord) error
}

// Config configures a Store.
type Config struct {
	// Dialect selects placeholder style and conflict detection (default: Postgres).
	Dialect Dialect

	// Tables holds the table names (default: DefaultTableConfig()).
	Tables TableConfig

	// Journal records leaf status changes transactionally (optional).
	Journal Recorder

	// Now supplies timestamps (default: time.Now).
	Now func() time.Time
}

// Store is a database/sql implementation of LeafStore for PostgreSQL,
// MySQL and SQLite.
type Store struct {
	db            *sql.DB
	dialect       Dialect
	tracksTable   string
	leavesTable   string
	payloadsTable string
	journal       Recorder
	now           func() time.Time
}

// Compile-time check that Store implements LeafStore.
var _ store.LeafStore = (*Store)(nil)

// New creates a new store with default table names.
func New(db *sql.DB, dialect Dialect) *Store {
	return NewWithConfig(db, Config{Dialect: dialect})
}

// NewWithConfig creates a new store with custom configuration.
func NewWithConfig(db *sql.DB, cfg Config) *Store {
	if cfg.Dialect == "" {
		cfg.Dialect = Postgres
	}
	if cfg.Tables == (TableConfig{}) {
		cfg.Tables = DefaultTableConfig()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Store{
		db:            db,
		dialect:       cfg.Dialect,
		tracksTable:   cfg.Tables.TracksTable,
		leavesTable:   cfg.Tables.LeavesTable,
		payloadsTable: cfg.Tables.PayloadsTable,
		journal:       cfg.Journal,
		now:           cfg.Now,
	}
}

// Migrate creates the store tables, one statement at a time.
func Migrate(ctx context.Context, db *sql.DB, config TableConfig, dialect Dialect) error {
	for _, stmt := range strings.Split(MigrationUp(config, dialect), ";\n") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return nil
}

// CreateTrack persists a new track.
// Returns store.ErrTrackExists if the hash is taken.
func (s *Store) CreateTrack(ctx context.Context, track orchestrator.Track) error {
	query := s.q(`
		INSERT INTO %s (track_hash, owner, name, start_time, end_time)
		VALUES (?, ?, ?, ?, ?)
	`, s.tracksTable)

	_, err := s.db.ExecContext(ctx, query, string(track.Hash), track.Owner, track.Name, track.StartTime.UTC(), track.EndTime.UTC())
	if err != nil {
		if s.dialect.isDuplicate(err) {
			return store.ErrTrackExists
		}
		return fmt.Errorf("failed to create track: %w", err)
	}

	return nil
}

// Branch returns the track with its leaf records.
// Returns store.ErrTrackNotFound if the track does not exist.
func (s *Store) Branch(ctx context.Context, hash orchestrator.TrackHash) (orchestrator.Track, error) {
	query := s.q(`
		SELECT track_hash, owner, name, start_time, end_time
		FROM %s
		WHERE track_hash = ?
	`, s.tracksTable)

	track, err := scanTrack(s.db.QueryRowContext(ctx, query, string(hash)))
	if errors.Is(err, sql.ErrNoRows) {
		return orchestrator.Track{}, store.ErrTrackNotFound
	}
	if err != nil {
		return orchestrator.Track{}, fmt.Errorf("failed to get track: %w", err)
	}

	leaves, err := s.leaves(ctx, hash)
	if err != nil {
		return orchestrator.Track{}, err
	}
	track.Leaves = leaves

	return track, nil
}

// ListTracks returns the tracks of owner, or all tracks if owner is empty.
func (s *Store) ListTracks(ctx context.Context, owner string) (tracks []orchestrator.Track, err error) {
	query := s.q(`SELECT track_hash, owner, name, start_time, end_time FROM %s`, s.tracksTable)
	var args []interface{}
	if owner != "" {
		query = s.dialect.rebind(query + ` WHERE owner = ?`)
		args = append(args, owner)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close rows: %w", closeErr)
		}
	}()

	tracks = []orchestrator.Track{}
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}
		tracks = append(tracks, track)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tracks: %w", err)
	}

	return tracks, nil
}

// LeavesForTrack returns the leaf records of a track.
// Returns store.ErrTrackNotFound if the track does not exist.
func (s *Store) LeavesForTrack(ctx context.Context, hash orchestrator.TrackHash) (map[orchestrator.LeafName]orchestrator.LeafRecord, error) {
	if err := s.trackExists(ctx, s.db, hash); err != nil {
		return nil, err
	}
	return s.leaves(ctx, hash)
}

// ReadLeaf returns the payload stored under leafHash.
// Returns store.ErrPayloadNotFound if there is none.
func (s *Store) ReadLeaf(ctx context.Context, leaf orchestrator.LeafName, leafHash string) (*orchestrator.Table, error) {
	query := s.q(`SELECT body FROM %s WHERE leaf_hash = ?`, s.payloadsTable)

	var body []byte
	err := s.db.QueryRowContext(ctx, query, leafHash).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrPayloadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read leaf payload: %w", err)
	}

	var table orchestrator.Table
	if err := json.Unmarshal(body, &table); err != nil {
		return nil, fmt.Errorf("failed to decode leaf payload %s: %w", leaf, err)
	}

	return &table, nil
}

// CreateLeafConfig builds a new leaf record with a fresh hash.
func (s *Store) CreateLeafConfig(leaf orchestrator.LeafName, track orchestrator.TrackHash, schema []string, status orchestrator.LeafStatus) orchestrator.LeafRecord {
	return store.NewLeafRecord(leaf, track, schema, status)
}

// ClaimLeaf writes rec in one transaction if the leaf is absent or claimable.
// The existing row is locked and replaced only if it still holds the state
// that was read. Returns store.ErrClaimConflict or store.ErrTrackNotFound.
func (s *Store) ClaimLeaf(ctx context.Context, track orchestrator.TrackHash, rec orchestrator.LeafRecord, opts store.ClaimOptions) error {
	rec.Track = track
	rec = store.Stamp(rec, s.now())

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.trackExists(ctx, tx, track); err != nil {
			return err
		}

		existing, found, err := s.lockLeaf(ctx, tx, track, rec.Name)
		if err != nil {
			return err
		}

		if !found {
			if err := s.insertLeaf(ctx, tx, rec); err != nil {
				return err
			}
		} else {
			if !store.Claimable(existing, opts) {
				return store.ErrClaimConflict
			}
			if err := s.replaceLeaf(ctx, tx, existing, rec); err != nil {
				return err
			}
			if err := s.deletePayload(ctx, tx, existing.Hash); err != nil {
				return err
			}
		}

		return s.record(ctx, tx, rec)
	})
}

// WriteLeaf persists rec and its payload in one transaction.
// Returns store.ErrClaimConflict or store.ErrTrackNotFound.
func (s *Store) WriteLeaf(ctx context.Context, track orchestrator.TrackHash, rec orchestrator.LeafRecord, payload *orchestrator.Table) error {
	rec.Track = track
	rec = store.Stamp(rec, s.now())

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode leaf payload: %w", err)
		}
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.trackExists(ctx, tx, track); err != nil {
			return err
		}

		existing, found, err := s.lockLeaf(ctx, tx, track, rec.Name)
		if err != nil {
			return err
		}

		if !found {
			if err := s.insertLeaf(ctx, tx, rec); err != nil {
				return err
			}
		} else {
			if !store.Writable(existing, rec.Hash) {
				return store.ErrClaimConflict
			}
			if err := s.replaceLeaf(ctx, tx, existing, rec); err != nil {
				return err
			}
		}

		if found && existing.Hash != rec.Hash {
			if err := s.deletePayload(ctx, tx, existing.Hash); err != nil {
				return err
			}
		}

		if body != nil {
			if err := s.deletePayload(ctx, tx, rec.Hash); err != nil {
				return err
			}
			query := s.q(`INSERT INTO %s (leaf_hash, leaf_name, body) VALUES (?, ?, ?)`, s.payloadsTable)
			if _, err := tx.ExecContext(ctx, query, rec.Hash, string(rec.Name), string(body)); err != nil {
				return fmt.Errorf("failed to write leaf payload: %w", err)
			}
		}

		return s.record(ctx, tx, rec)
	})
}

// ReleaseClaim marks a processing leaf held under leafHash as retry.
// Returns store.ErrLeafNotFound or store.ErrClaimConflict.
func (s *Store) ReleaseClaim(ctx context.Context, track orchestrator.TrackHash, leaf orchestrator.LeafName, leafHash string) error {
	now := s.now().UTC()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		query := s.q(`
			UPDATE %s
			SET status = ?, updated_at = ?
			WHERE track_hash = ? AND leaf_name = ? AND leaf_hash = ? AND status = ?
		`, s.leavesTable)

		result, err := tx.ExecContext(ctx, query,
			string(orchestrator.LeafStatusRetry), now,
			string(track), string(leaf), leafHash, string(orchestrator.LeafStatusProcessing))
		if err != nil {
			return fmt.Errorf("failed to release claim: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		}

		if rowsAffected == 0 {
			_, found, err := s.lockLeaf(ctx, tx, track, leaf)
			if err != nil {
				return err
			}
			if !found {
				return store.ErrLeafNotFound
			}
			return store.ErrClaimConflict
		}

		released, _, err := s.lockLeaf(ctx, tx, track, leaf)
		if err != nil {
			return err
		}
		return s.record(ctx, tx, released)
	})
}

// StaleClaims returns processing records last updated before the given time.
func (s *Store) StaleClaims(ctx context.Context, before time.Time) (stale []orchestrator.LeafRecord, err error) {
	query := s.q(`
		SELECT track_hash, leaf_name, leaf_hash, status, columns_json, kind, updated_at
		FROM %s
		WHERE status = ? AND updated_at < ?
	`, s.leavesTable)

	rows, err := s.db.QueryContext(ctx, query, string(orchestrator.LeafStatusProcessing), before.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to get stale claims: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close rows: %w", closeErr)
		}
	}()

	stale = []orchestrator.LeafRecord{}
	for rows.Next() {
		rec, err := scanLeaf(rows)
		if err != nil {
			return nil, err
		}
		stale = append(stale, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stale claims: %w", err)
	}

	return stale, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// q formats a query template with a table name and rebinds placeholders.
func (s *Store) q(template, table string) string {
	return s.dialect.rebind(fmt.Sprintf(template, table))
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if s.dialect.isConflict(err) {
			return store.ErrClaimConflict
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if s.dialect.isConflict(err) {
			return store.ErrClaimConflict
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (s *Store) trackExists(ctx context.Context, q queryer, hash orchestrator.TrackHash) error {
	query := s.q(`SELECT 1 FROM %s WHERE track_hash = ?`, s.tracksTable)

	var one int
	err := q.QueryRowContext(ctx, query, string(hash)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrTrackNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check track: %w", err)
	}

	return nil
}

func (s *Store) lockLeaf(ctx context.Context, tx *sql.Tx, track orchestrator.TrackHash, leaf orchestrator.LeafName) (orchestrator.LeafRecord, bool, error) {
	query := s.q(`
		SELECT track_hash, leaf_name, leaf_hash, status, columns_json, kind, updated_at
		FROM %s
		WHERE track_hash = ? AND leaf_name = ?`, s.leavesTable) + s.dialect.forUpdate()

	rec, err := scanLeaf(tx.QueryRowContext(ctx, query, string(track), string(leaf)))
	if errors.Is(err, sql.ErrNoRows) {
		return orchestrator.LeafRecord{}, false, nil
	}
	if err != nil {
		return orchestrator.LeafRecord{}, false, err
	}

	return rec, true, nil
}

func (s *Store) insertLeaf(ctx context.Context, tx *sql.Tx, rec orchestrator.LeafRecord) error {
	columns, err := json.Marshal(rec.Schema)
	if err != nil {
		return fmt.Errorf("failed to encode leaf schema: %w", err)
	}

	query := s.q(`
		INSERT INTO %s (track_hash, leaf_name, leaf_hash, status, columns_json, kind, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.leavesTable)

	_, err = tx.ExecContext(ctx, query,
		string(rec.Track), string(rec.Name), rec.Hash, string(rec.Status), string(columns), string(rec.Kind), rec.UpdatedAt)
	if err != nil {
		if s.dialect.isConflict(err) {
			return store.ErrClaimConflict
		}
		return fmt.Errorf("failed to insert leaf: %w", err)
	}

	return nil
}

// replaceLeaf overwrites the row only if it still matches existing.
func (s *Store) replaceLeaf(ctx context.Context, tx *sql.Tx, existing, rec orchestrator.LeafRecord) error {
	columns, err := json.Marshal(rec.Schema)
	if err != nil {
		return fmt.Errorf("failed to encode leaf schema: %w", err)
	}

	query := s.q(`
		UPDATE %s
		SET leaf_hash = ?, status = ?, columns_json = ?, kind = ?, updated_at = ?
		WHERE track_hash = ? AND leaf_name = ? AND leaf_hash = ? AND status = ?
	`, s.leavesTable)

	result, err := tx.ExecContext(ctx, query,
		rec.Hash, string(rec.Status), string(columns), string(rec.Kind), rec.UpdatedAt,
		string(existing.Track), string(existing.Name), existing.Hash, string(existing.Status))
	if err != nil {
		return fmt.Errorf("failed to update leaf: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return store.ErrClaimConflict
	}

	return nil
}

func (s *Store) deletePayload(ctx context.Context, tx *sql.Tx, leafHash string) error {
	query := s.q(`DELETE FROM %s WHERE leaf_hash = ?`, s.payloadsTable)
	if _, err := tx.ExecContext(ctx, query, leafHash); err != nil {
		return fmt.Errorf("failed to delete leaf payload: %w", err)
	}
	return nil
}

func (s *Store) record(ctx context.Context, tx *sql.Tx, rec orchestrator.LeafRecord) error {
	if s.journal == nil {
		return nil
	}
	if err := s.journal.Record(ctx, tx, rec); err != nil {
		return fmt.Errorf("failed to journal leaf status: %w", err)
	}
	return nil
}

func (s *Store) leaves(ctx context.Context, hash orchestrator.TrackHash) (leaves map[orchestrator.LeafName]orchestrator.LeafRecord, err error) {
	query := s.q(`
		SELECT track_hash, leaf_name, leaf_hash, status, columns_json, kind, updated_at
		FROM %s
		WHERE track_hash = ?
	`, s.leavesTable)

	rows, err := s.db.QueryContext(ctx, query, string(hash))
	if err != nil {
		return nil, fmt.Errorf("failed to get leaves: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close rows: %w", closeErr)
		}
	}()

	leaves = make(map[orchestrator.LeafName]orchestrator.LeafRecord)
	for rows.Next() {
		rec, err := scanLeaf(rows)
		if err != nil {
			return nil, err
		}
		leaves[rec.Name] = rec
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating leaves: %w", err)
	}

	return leaves, nil
}

func scanTrack(row rowScanner) (orchestrator.Track, error) {
	var track orchestrator.Track
	var hash string
	err := row.Scan(&hash, &track.Owner, &track.Name, &track.StartTime, &track.EndTime)
	if err != nil {
		return orchestrator.Track{}, err
	}
	track.Hash = orchestrator.TrackHash(hash)
	track.StartTime = track.StartTime.UTC()
	track.EndTime = track.EndTime.UTC()
	return track, nil
}

func scanLeaf(row rowScanner) (orchestrator.LeafRecord, error) {
	var (
		rec                                orchestrator.LeafRecord
		track, name, status, columns, kind string
	)
	err := row.Scan(&track, &name, &rec.Hash, &status, &columns, &kind, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return orchestrator.LeafRecord{}, err
		}
		return orchestrator.LeafRecord{}, fmt.Errorf("failed to scan leaf: %w", err)
	}

	rec.Track = orchestrator.TrackHash(track)
	rec.Name = orchestrator.LeafName(name)
	rec.Status = orchestrator.LeafStatus(status)
	rec.Kind = orchestrator.PayloadKind(kind)
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	rec.Schema = []string{}
	if err := json.Unmarshal([]byte(columns), &rec.Schema); err != nil {
		return orchestrator.LeafRecord{}, fmt.Errorf("failed to decode leaf schema: %w", err)
	}

	return rec, nil
}

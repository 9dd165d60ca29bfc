package sqlite

import (
	"database/sql"
	"fmt"
	"io"
	"strings"

	"github.com/datasafe/papl/lib/db"
	"github.com/lni/dragonboat/v4/logger"
	_ "modernc.org/sqlite"
)

var plog = logger.GetLogger("sqlite")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	driverName         = "sqlite"
	memoryLocation     = ":memory:"
	defaultBusyTimeout = 5000 // milliseconds
)

// --------------------------------------------------------------------------
// Core SQLite database structure
// --------------------------------------------------------------------------

// sqliteImpl implements db.PolicyDB on a single pinned sqlite connection
type sqliteImpl struct {
	conn     *sql.DB
	location string
}

// DBOptions configures the sqliteImpl behavior during initialization
type DBOptions struct {
	Path          string // File path of the database (":memory:" or "" = in-memory)
	WAL           bool   // Enable write-ahead logging (ignored for in-memory databases)
	BusyTimeoutMs int    // How long sqlite waits on a locked file (0 = use default)
}

// DefaultOptions returns the default options for an in-memory database
func DefaultOptions() *DBOptions {
	return &DBOptions{
		Path:          memoryLocation,
		WAL:           true,
		BusyTimeoutMs: defaultBusyTimeout,
	}
}

// FileOptions returns the default options for a file backed database at path
func FileOptions(path string) *DBOptions {
	opts := DefaultOptions()
	opts.Path = path
	return opts
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewSQLiteDB opens (or creates) a sqlite database and bootstraps the policy schema.
// Use nil options or the ":memory:" path for an ephemeral database.
func NewSQLiteDB(opts *DBOptions) (db.PolicyDB, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	location := opts.Path
	if location == "" {
		location = memoryLocation
	}
	busyTimeout := opts.BusyTimeoutMs
	if busyTimeout <= 0 {
		busyTimeout = defaultBusyTimeout
	}

	conn, err := sql.Open(driverName, location)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", location, err)
	}

	// exactly one connection: an in-memory database lives as long as its
	// connection, and the store relies on a single serialized connection
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)
	conn.SetConnMaxIdleTime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open sqlite %q: %w", location, err)
	}

	if _, err := conn.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if opts.WAL && location != memoryLocation {
		if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}

	if err := bootstrap(conn); err != nil {
		conn.Close()
		return nil, err
	}

	plog.Debugf("opened sqlite database at %q", location)

	return &sqliteImpl{
		conn:     conn,
		location: location,
	}, nil
}

// --------------------------------------------------------------------------
// PolicyDB Interface Methods - Write Operations
// --------------------------------------------------------------------------

// Upsert inserts or replaces a record in one statement, so two rows for the
// same key can never exist.
func (s *sqliteImpl) Upsert(rec db.Record) (int64, error) {
	res, err := s.conn.Exec(`
		INSERT INTO policy (key, version, policy, stamp)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			version = excluded.version,
			policy  = excluded.policy,
			stamp   = excluded.stamp`,
		rec.Key, rec.Version, rec.Value, rec.Stamp,
	)
	if err != nil {
		return 0, fmt.Errorf("upsert %q: %w", rec.Key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("upsert %q: %w", rec.Key, err)
	}
	return n, nil
}

// Delete removes a record by key. Deleting an absent key affects 0 rows.
func (s *sqliteImpl) Delete(key string) (int64, error) {
	res, err := s.conn.Exec("DELETE FROM policy WHERE key = ?", key)
	if err != nil {
		return 0, fmt.Errorf("delete %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete %q: %w", key, err)
	}
	return n, nil
}

// Evict removes all records matching the bound.
func (s *sqliteImpl) Evict(bound db.Bound, stamp int64) (int64, error) {
	res, err := s.conn.Exec("DELETE FROM policy WHERE stamp "+bound.String()+" ?", stamp)
	if err != nil {
		if isMissingTable(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("evict stamp %s %d: %w", bound, stamp, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("evict stamp %s %d: %w", bound, stamp, err)
	}
	return n, nil
}

// --------------------------------------------------------------------------
// PolicyDB Interface Methods - Read Operations
// --------------------------------------------------------------------------

// Get reads value, version and stamp of a key in one statement.
func (s *sqliteImpl) Get(key string) (db.Record, bool, error) {
	rec := db.Record{Key: key}
	err := s.conn.QueryRow(
		"SELECT policy, version, stamp FROM policy WHERE key = ?", key,
	).Scan(&rec.Value, &rec.Version, &rec.Stamp)
	if err == sql.ErrNoRows {
		return db.Record{}, false, nil
	}
	if err != nil {
		return db.Record{}, false, fmt.Errorf("get %q: %w", key, err)
	}
	return rec, true, nil
}

// Keys returns the matching keys in insertion (id) order.
func (s *sqliteImpl) Keys(bound db.Bound, stamp int64, page *db.Page) ([]string, error) {
	query := "SELECT key FROM policy WHERE stamp " + bound.String() + " ? ORDER BY id"
	args := []any{stamp}
	if page != nil {
		query += " LIMIT ? OFFSET ?"
		args = append(args, page.Limit, page.Offset)
	}

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("keys stamp %s %d: %w", bound, stamp, err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("keys stamp %s %d: %w", bound, stamp, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("keys stamp %s %d: %w", bound, stamp, err)
	}
	return keys, nil
}

// Count returns the total number of stored records.
func (s *sqliteImpl) Count() (int64, error) {
	var n int64
	if err := s.conn.QueryRow("SELECT COUNT(*) FROM policy").Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save writes every record in insertion order as a snapshot.
func (s *sqliteImpl) Save(w io.Writer) error {
	rows, err := s.conn.Query("SELECT key, policy, version, stamp FROM policy ORDER BY id")
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}
	defer rows.Close()

	var recs []db.Record
	for rows.Next() {
		var rec db.Record
		if err := rows.Scan(&rec.Key, &rec.Value, &rec.Version, &rec.Stamp); err != nil {
			return fmt.Errorf("save: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("save: %w", err)
	}

	return db.WriteSnapshot(w, recs)
}

// Load upserts all records of a snapshot inside one transaction.
// Either every record is applied or none is.
func (s *sqliteImpl) Load(r io.Reader) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO policy (key, version, policy, stamp)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			version = excluded.version,
			policy  = excluded.policy,
			stamp   = excluded.stamp`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("load: %w", err)
	}
	defer stmt.Close()

	err = db.ReadSnapshot(r, func(rec db.Record) error {
		_, err := stmt.Exec(rec.Key, rec.Version, rec.Value, rec.Stamp)
		return err
	})
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("load: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("load: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Features and Metadata
// --------------------------------------------------------------------------

func (s *sqliteImpl) features() []db.Feature {
	features := []db.Feature{
		db.FeatureUpsert, db.FeatureGet, db.FeatureDelete,
		db.FeatureRange, db.FeaturePaging, db.FeatureEvict,
		db.FeatureSave, db.FeatureLoad,
	}
	if s.location != memoryLocation {
		features = append(features, db.FeaturePersistent)
	}
	return features
}

// SupportsFeature checks whether all given features are supported
func (s *sqliteImpl) SupportsFeature(feature db.Feature) bool {
	var supported db.Feature
	for _, f := range s.features() {
		supported |= f
	}
	return feature&supported == feature
}

// GetInfo returns statistics about the database
func (s *sqliteImpl) GetInfo() db.DatabaseInfo {
	var (
		pageCount, pageSize int
		records             int64
		version             string
	)
	// errors leave the zero value in place, the info is best effort
	_ = s.conn.QueryRow("PRAGMA page_count").Scan(&pageCount)
	_ = s.conn.QueryRow("PRAGMA page_size").Scan(&pageSize)
	_ = s.conn.QueryRow("SELECT COUNT(*) FROM policy").Scan(&records)
	_ = s.conn.QueryRow("SELECT sqlite_version()").Scan(&version)

	meta := &struct {
		Location      string `json:"location"`
		Records       int64  `json:"records"`
		PageCount     int    `json:"page_count"`
		PageSize      int    `json:"page_size"`
		SQLiteVersion string `json:"sqlite_version"`
	}{
		Location:      s.location,
		Records:       records,
		PageCount:     pageCount,
		PageSize:      pageSize,
		SQLiteVersion: version,
	}

	return db.DatabaseInfo{
		SizeBytes:         pageCount * pageSize,
		DbType:            db.ImplSQLite,
		SupportedFeatures: s.features(),
		Metadata:          meta,
	}
}

// Close closes the underlying connection.
func (s *sqliteImpl) Close() error {
	plog.Debugf("closing sqlite database at %q", s.location)
	return s.conn.Close()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func isMissingTable(err error) bool {
	return strings.Contains(err.Error(), "no such table")
}

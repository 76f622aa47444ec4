package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/torreq/internal/tor"
)

// FileName is the database file created inside the history directory.
const FileName = "torreq.db"

// FileMode is the permission of the database and its WAL files.
const FileMode os.FileMode = 0o600

// timeLayout is fixed-width so that stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store provides SQLite-based storage for verification results and the
// requests sent through verified proxies.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Options configures Store behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging for better concurrent performance.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a Store in the specified directory.
// If CreateIfNotExists is true, the directory and database file are created.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*Store, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("history database not found at %s: %w", dbPath, ErrNotFound)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else if err := os.MkdirAll(dbDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// mode=rw prevents modernc.org/sqlite from creating a missing file.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	// Stored verifications carry the caller's direct IP.
	if err := os.Chmod(dbPath, FileMode); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to restrict database permissions: %w", err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Chmod(dbPath+suffix, FileMode); err != nil && !os.IsNotExist(err) {
			_ = db.Close()
			return nil, fmt.Errorf("failed to restrict database permissions: %w", err)
		}
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	schema := `
	-- One row per call to Client.Verify
	CREATE TABLE IF NOT EXISTS verifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at DATETIME NOT NULL,
		ip_check_url TEXT NOT NULL,
		direct_ip TEXT,
		ok INTEGER NOT NULL,
		port INTEGER,
		tor_ip TEXT,
		attempts INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		report_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_verifications_started ON verifications(started_at);

	-- Requests sent through a verified proxy
	CREATE TABLE IF NOT EXISTS requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		verification_id INTEGER REFERENCES verifications(id),
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		method TEXT NOT NULL,
		url TEXT NOT NULL,
		status_code INTEGER,
		duration_ms INTEGER NOT NULL,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_requests_verification ON requests(verification_id);
	CREATE INDEX IF NOT EXISTS idx_requests_timestamp ON requests(timestamp);
	`

	_, err := s.db.ExecContext(context.Background(), schema)
	return err
}

// VerificationRecord summarizes a stored verification.
type VerificationRecord struct {
	ID         int64         `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	IPCheckURL string        `json:"ip_check_url"`
	DirectIP   string        `json:"direct_ip,omitempty"`
	OK         bool          `json:"ok"`
	Port       int           `json:"port,omitempty"`
	TorIP      string        `json:"tor_ip,omitempty"`
	Attempts   int           `json:"attempts"`
	Duration   time.Duration `json:"duration"`
}

// SaveVerification stores v and returns its ID.
func (s *Store) SaveVerification(ctx context.Context, v *tor.Verification) (int64, error) {
	if v == nil {
		return 0, ErrNilVerification
	}

	reportJSON, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize verification: %w", err)
	}

	query := `
	INSERT INTO verifications (started_at, ip_check_url, direct_ip, ok, port, tor_ip, attempts, duration_ms, report_json)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		v.StartedAt.UTC().Format(timeLayout),
		v.IPCheckURL,
		v.DirectIP,
		v.OK(),
		v.Port,
		v.TorIP,
		len(v.Attempts),
		v.Duration.Milliseconds(),
		string(reportJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save verification: %w", err)
	}

	return result.LastInsertId()
}

// RecentVerifications returns up to limit verifications, newest first.
func (s *Store) RecentVerifications(ctx context.Context, limit int) ([]VerificationRecord, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	query := `
	SELECT id, started_at, ip_check_url, direct_ip, ok, port, tor_ip, attempts, duration_ms
	FROM verifications
	ORDER BY started_at DESC, id DESC
	LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query verifications: %w", err)
	}
	defer rows.Close()

	var results []VerificationRecord
	for rows.Next() {
		var (
			rec        VerificationRecord
			startedAt  string
			directIP   sql.NullString
			port       sql.NullInt64
			torIP      sql.NullString
			durationMS int64
		)
		if err := rows.Scan(&rec.ID, &startedAt, &rec.IPCheckURL, &directIP, &rec.OK, &port, &torIP, &rec.Attempts, &durationMS); err != nil {
			return nil, fmt.Errorf("failed to scan verification: %w", err)
		}
		rec.StartedAt = parseTimestamp(startedAt)
		rec.DirectIP = directIP.String
		rec.Port = int(port.Int64)
		rec.TorIP = torIP.String
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		results = append(results, rec)
	}

	return results, rows.Err()
}

// GetVerification returns the full verification stored under id, or nil if
// there is none. Attempt errors are restored as text only.
func (s *Store) GetVerification(ctx context.Context, id int64) (*tor.Verification, error) {
	var reportJSON string
	err := s.db.QueryRowContext(ctx, "SELECT report_json FROM verifications WHERE id = ?", id).Scan(&reportJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // nil means not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get verification: %w", err)
	}

	var v tor.Verification
	if err := json.Unmarshal([]byte(reportJSON), &v); err != nil {
		return nil, fmt.Errorf("failed to deserialize verification: %w", err)
	}
	return &v, nil
}

// RequestRecord is a request sent through a verified proxy.
type RequestRecord struct {
	ID             int64         `json:"id"`
	VerificationID int64         `json:"verification_id,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
	Method         string        `json:"method"`
	URL            string        `json:"url"`
	StatusCode     int           `json:"status_code,omitempty"`
	Duration       time.Duration `json:"duration"`
	Error          string        `json:"error,omitempty"`
}

// SaveRequest stores rec. A zero VerificationID is stored as NULL.
func (s *Store) SaveRequest(ctx context.Context, rec *RequestRecord) error {
	var verificationID sql.NullInt64
	if rec.VerificationID != 0 {
		verificationID = sql.NullInt64{Int64: rec.VerificationID, Valid: true}
	}

	query := `
	INSERT INTO requests (verification_id, method, url, status_code, duration_ms, error)
	VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		verificationID,
		rec.Method,
		rec.URL,
		rec.StatusCode,
		rec.Duration.Milliseconds(),
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to save request: %w", err)
	}
	return nil
}

// RequestsForVerification returns the requests sent after verification id,
// oldest first.
func (s *Store) RequestsForVerification(ctx context.Context, id int64) ([]RequestRecord, error) {
	query := `
	SELECT id, verification_id, timestamp, method, url, status_code, duration_ms, error
	FROM requests
	WHERE verification_id = ?
	ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var results []RequestRecord
	for rows.Next() {
		var (
			rec            RequestRecord
			verificationID sql.NullInt64
			timestamp      string
			statusCode     sql.NullInt64
			durationMS     int64
			errText        sql.NullString
		)
		if err := rows.Scan(&rec.ID, &verificationID, &timestamp, &rec.Method, &rec.URL, &statusCode, &durationMS, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		rec.VerificationID = verificationID.Int64
		rec.Timestamp = parseTimestamp(timestamp)
		rec.StatusCode = int(statusCode.Int64)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		rec.Error = errText.String
		results = append(results, rec)
	}

	return results, rows.Err()
}

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	time.RFC3339Nano,          // timeLayout
	"2006-01-02 15:04:05",     // SQLite default datetime format
	"2006-01-02T15:04:05Z",    // ISO 8601 with Z suffix
	"2006-01-02T15:04:05",     // ISO 8601 without timezone
	"2006-01-02 15:04:05.999", // SQLite with milliseconds
}

// parseTimestamp attempts to parse a timestamp string using multiple formats.
// If parsing fails with all formats, returns zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

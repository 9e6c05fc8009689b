package stats

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/amalg/fhosts/fhosts-srv/logger"
)

// SQLiteCollector implements Collector using SQLite as the backend
type SQLiteCollector struct {
	db *sql.DB
}

// NewSQLiteCollector creates a new SQLite-based statistics collector
func NewSQLiteCollector(dbPath string) (*SQLiteCollector, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite database: %w", err)
	}

	// WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	logger.Debug("Initialized sqlite stats collector at %s", dbPath)

	return &SQLiteCollector{db: db}, nil
}

func (s *SQLiteCollector) StartConnection(ctx context.Context, clientIP, targetHost string, targetPort int, protocol string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO connections (client_ip, target_host, target_port, protocol, started_at)
		 VALUES (?, ?, ?, ?, ?)`,
		clientIP, targetHost, targetPort, protocol, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to record connection start: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get connection ID: %w", err)
	}

	return id, nil
}

func (s *SQLiteCollector) EndConnection(ctx context.Context, connectionID, bytesSent, bytesReceived int64, duration time.Duration, closeReason string) error {
	if connectionID == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE connections
		 SET ended_at = ?, bytes_sent = ?, bytes_received = ?, duration_ms = ?, close_reason = ?
		 WHERE id = ?`,
		time.Now(), bytesSent, bytesReceived, duration.Milliseconds(), closeReason, connectionID)
	if err != nil {
		return fmt.Errorf("failed to record connection end: %w", err)
	}
	return nil
}

func (s *SQLiteCollector) RecordHTTPRequest(ctx context.Context, connectionID int64, method, url, host string, statusCode int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO http_requests (connection_id, method, url, host, status_code, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		connectionID, method, url, host, statusCode, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record HTTP request: %w", err)
	}
	return nil
}

func (s *SQLiteCollector) RecordSubstitution(ctx context.Context, hostname, targetHost string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO substitutions (hostname, target_host, timestamp) VALUES (?, ?, ?)`,
		hostname, targetHost, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record substitution: %w", err)
	}
	return nil
}

func (s *SQLiteCollector) RecordError(ctx context.Context, connectionID int64, errorType, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO errors (connection_id, error_type, message, timestamp) VALUES (?, ?, ?, ?)`,
		connectionID, errorType, message, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record error: %w", err)
	}
	return nil
}

func (s *SQLiteCollector) Summary(ctx context.Context) (Summary, error) {
	var summary Summary

	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN ended_at IS NULL THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(bytes_sent), 0),
		        COALESCE(SUM(bytes_received), 0)
		 FROM connections`)
	if err := row.Scan(&summary.TotalConnections, &summary.ActiveConnections,
		&summary.BytesSent, &summary.BytesReceived); err != nil {
		return Summary{}, fmt.Errorf("failed to aggregate connections: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM http_requests`).
		Scan(&summary.TotalRequests); err != nil {
		return Summary{}, fmt.Errorf("failed to count HTTP requests: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM substitutions`).
		Scan(&summary.TotalSubstitutions); err != nil {
		return Summary{}, fmt.Errorf("failed to count substitutions: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM errors`).
		Scan(&summary.TotalErrors); err != nil {
		return Summary{}, fmt.Errorf("failed to count errors: %w", err)
	}

	return summary, nil
}

func (s *SQLiteCollector) Close() error {
	return s.db.Close()
}

package stats

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/amalg/fhosts/fhosts-srv/logger"
)

// PostgreSQLCollector implements Collector using PostgreSQL as the backend
type PostgreSQLCollector struct {
	db *sql.DB
}

// NewPostgreSQLCollector creates a new PostgreSQL-based statistics collector
func NewPostgreSQLCollector(dsn string) (*PostgreSQLCollector, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	for _, stmt := range postgresSchema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	logger.Debug("Initialized postgres stats collector")

	return &PostgreSQLCollector{db: db}, nil
}

func (p *PostgreSQLCollector) StartConnection(ctx context.Context, clientIP, targetHost string, targetPort int, protocol string) (int64, error) {
	var id int64
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO connections (client_ip, target_host, target_port, protocol, started_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		clientIP, targetHost, targetPort, protocol, time.Now()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to record connection start: %w", err)
	}
	return id, nil
}

func (p *PostgreSQLCollector) EndConnection(ctx context.Context, connectionID, bytesSent, bytesReceived int64, duration time.Duration, closeReason string) error {
	if connectionID == 0 {
		return nil
	}
	_, err := p.db.ExecContext(ctx,
		`UPDATE connections
		 SET ended_at = $1, bytes_sent = $2, bytes_received = $3, duration_ms = $4, close_reason = $5
		 WHERE id = $6`,
		time.Now(), bytesSent, bytesReceived, duration.Milliseconds(), closeReason, connectionID)
	if err != nil {
		return fmt.Errorf("failed to record connection end: %w", err)
	}
	return nil
}

func (p *PostgreSQLCollector) RecordHTTPRequest(ctx context.Context, connectionID int64, method, url, host string, statusCode int) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO http_requests (connection_id, method, url, host, status_code, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		connectionID, method, url, host, statusCode, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record HTTP request: %w", err)
	}
	return nil
}

func (p *PostgreSQLCollector) RecordSubstitution(ctx context.Context, hostname, targetHost string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO substitutions (hostname, target_host, timestamp) VALUES ($1, $2, $3)`,
		hostname, targetHost, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record substitution: %w", err)
	}
	return nil
}

func (p *PostgreSQLCollector) RecordError(ctx context.Context, connectionID int64, errorType, message string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO errors (connection_id, error_type, message, timestamp) VALUES ($1, $2, $3, $4)`,
		connectionID, errorType, message, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record error: %w", err)
	}
	return nil
}

func (p *PostgreSQLCollector) Summary(ctx context.Context) (Summary, error) {
	var summary Summary

	row := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN ended_at IS NULL THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(bytes_sent), 0),
		        COALESCE(SUM(bytes_received), 0)
		 FROM connections`)
	if err := row.Scan(&summary.TotalConnections, &summary.ActiveConnections,
		&summary.BytesSent, &summary.BytesReceived); err != nil {
		return Summary{}, fmt.Errorf("failed to aggregate connections: %w", err)
	}

	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM http_requests`).
		Scan(&summary.TotalRequests); err != nil {
		return Summary{}, fmt.Errorf("failed to count HTTP requests: %w", err)
	}

	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM substitutions`).
		Scan(&summary.TotalSubstitutions); err != nil {
		return Summary{}, fmt.Errorf("failed to count substitutions: %w", err)
	}

	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM errors`).
		Scan(&summary.TotalErrors); err != nil {
		return Summary{}, fmt.Errorf("failed to count errors: %w", err)
	}

	return summary, nil
}

func (p *PostgreSQLCollector) Close() error {
	return p.db.Close()
}

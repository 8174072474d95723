package metrics

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/lib/pq"
)

const DefaultMetricsTable = "soap_proxy_metrics"

// PostgresLogger stores request records in a PostgreSQL table. Inserts
// are made by a single background writer.
type PostgresLogger struct {
	MetricsQueue chan *MetricsInfo
	Table        string
	Verbose      bool

	db *sql.DB
}

func NewPostgresLogger(dsn, table string, verbose bool) (*PostgresLogger, error) {
	if len(table) == 0 {
		table = DefaultMetricsTable
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("Failed to open metrics database: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("Failed to connect to metrics database: %v", err)
	}

	l := &PostgresLogger{
		MetricsQueue: make(chan *MetricsInfo, defaultQueueSize),
		Table:        table,
		Verbose:      verbose,
		db:           db,
	}
	if err := l.createTable(); err != nil {
		db.Close()
		return nil, err
	}

	go l.startWriter()
	return l, nil
}

func (l *PostgresLogger) createTable() error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		req_time     timestamptz,
		duration_ms  double precision,
		operation    text,
		http_status  integer,
		error_code   text,
		remote_host  text,
		backend_ms   double precision,
		info         jsonb
	)`, pq.QuoteIdentifier(l.Table))
	if _, err := l.db.Exec(stmt); err != nil {
		return fmt.Errorf("Failed to create metrics table %s: %v", l.Table, err)
	}
	return nil
}

func (l *PostgresLogger) Log(info *MetricsInfo) {
	select {
	case l.MetricsQueue <- info:
	default:
		if l.Verbose {
			log.Printf("PostgresLogger: queue full, record dropped")
		}
	}
}

func (l *PostgresLogger) startWriter() {
	stmt := fmt.Sprintf(`INSERT INTO %s
		(req_time, duration_ms, operation, http_status, error_code, remote_host, backend_ms, info)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, pq.QuoteIdentifier(l.Table))

	for info := range l.MetricsQueue {
		infoStr, err := info.ToJSON()
		if err != nil {
			log.Printf("PostgresLogger: info.ToJSON() error: %v", err)
			continue
		}

		var backendMs float64
		if info.Backend != nil {
			backendMs = info.Backend.Duration.Seconds() * 1000
		}
		_, err = l.db.Exec(stmt,
			info.ReqTime,
			info.ReqDuration.Seconds()*1000,
			info.Operation,
			info.HTTPStatus,
			info.ErrorCode,
			info.RemoteHost,
			backendMs,
			infoStr)
		if err != nil {
			log.Printf("PostgresLogger: insert error: %v", err)
		}
	}
}

func (l *PostgresLogger) Close() error {
	close(l.MetricsQueue)
	return l.db.Close()
}

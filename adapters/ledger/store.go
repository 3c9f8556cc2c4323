// Package ledger stores the run audit trail in PostgreSQL or SQLite through sqlx.
package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/Niakdashit/Tirages-jeux/domain/audit"
	"github.com/Niakdashit/Tirages-jeux/internal/errors"
	"github.com/Niakdashit/Tirages-jeux/internal/logger"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"

	defaultListLimit = 50
	maxListLimit     = 1000
)

func init() {
	// modernc registers as "sqlite", which sqlx does not know
	sqlx.BindDriver(driverSQLite, sqlx.QUESTION)
}

const schema = `
CREATE TABLE IF NOT EXISTS run_ledger (
	file_id       VARCHAR(64)  PRIMARY KEY,
	batch_id      VARCHAR(64)  NOT NULL,
	treatment     VARCHAR(8)   NOT NULL,
	source_name   TEXT         NOT NULL,
	fingerprint   VARCHAR(64)  NOT NULL,
	output_name   TEXT         NOT NULL DEFAULT '',
	quota         INTEGER      NOT NULL DEFAULT 0,
	input_rows    INTEGER      NOT NULL DEFAULT 0,
	output_rows   INTEGER      NOT NULL DEFAULT 0,
	duplicates    INTEGER      NOT NULL DEFAULT 0,
	excluded      INTEGER      NOT NULL DEFAULT 0,
	winners       INTEGER      NOT NULL DEFAULT 0,
	reserves      INTEGER      NOT NULL DEFAULT 0,
	error_code    VARCHAR(32)  NOT NULL DEFAULT '',
	created_at_ms BIGINT       NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_ledger_fingerprint ON run_ledger (fingerprint, treatment);
CREATE INDEX IF NOT EXISTS idx_run_ledger_created ON run_ledger (created_at_ms);
`

const columns = `file_id, batch_id, treatment, source_name, fingerprint, output_name, quota,
	input_rows, output_rows, duplicates, excluded, winners, reserves, error_code, created_at_ms`

// Store implements ports.RunLedger
type Store struct {
	db  *sqlx.DB
	log *logger.Logger
}

// Open connects to the ledger database. postgres:// and postgresql:// DSNs use
// lib/pq; sqlite:<path>, file:<path> and bare paths use the embedded SQLite driver.
func Open(ctx context.Context, dsn string, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Nop()
	}
	driver, source, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.ConnectContext(ctx, driver, source)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to run ledger")
	}
	if driver == driverSQLite {
		// one connection so :memory: databases are shared and writes serialize
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, log: log}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Infow("[Ledger] connected", "driver", driver)
	return s, nil
}

func parseDSN(dsn string) (driver, source string, err error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return "", "", errors.ConfigInvalid("ledger DSN is empty")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return driverPostgres, dsn, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return driverSQLite, strings.TrimPrefix(dsn, "sqlite://"), nil
	case strings.HasPrefix(dsn, "sqlite:"):
		return driverSQLite, strings.TrimPrefix(dsn, "sqlite:"), nil
	case strings.HasPrefix(dsn, "file:"):
		// SQLite URI filenames, file:///abs/path included
		return driverSQLite, dsn, nil
	case strings.Contains(dsn, "://"):
		return "", "", errors.ConfigInvalid(fmt.Sprintf("unsupported ledger DSN scheme in %q", dsn))
	default:
		return driverSQLite, dsn, nil
	}
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to migrate run ledger")
		}
	}
	return nil
}

// Close releases the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends one entry
func (s *Store) Record(ctx context.Context, entry audit.RunEntry) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO run_ledger (`+columns+`)
		VALUES (
			:file_id, :batch_id, :treatment, :source_name, :fingerprint, :output_name, :quota,
			:input_rows, :output_rows, :duplicates, :excluded, :winners, :reserves, :error_code, :created_at_ms
		)
	`, entry)
	if err != nil {
		return errors.Wrapf(err, "failed to record run %s", entry.FileID)
	}
	return nil
}

// List returns matching entries, most recent first
func (s *Store) List(ctx context.Context, q audit.Query) ([]audit.RunEntry, error) {
	var (
		where []string
		args  []interface{}
	)
	if q.Treatment != "" {
		where = append(where, "treatment = ?")
		args = append(args, string(q.Treatment))
	}
	if q.Fingerprint != "" {
		where = append(where, "fingerprint = ?")
		args = append(args, q.Fingerprint.String())
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	args = append(args, limit)

	query := "SELECT " + columns + " FROM run_ledger"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at_ms DESC, file_id DESC LIMIT ?"

	entries := []audit.RunEntry{}
	if err := s.db.SelectContext(ctx, &entries, s.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "failed to list runs")
	}
	return entries, nil
}

package sqlmirror

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/CaderIdris/GCARE-OPCN3/internal/domain"
	"github.com/CaderIdris/GCARE-OPCN3/internal/ports"
)

const DefaultTable = "samples"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// columns follow domain.ScalarSchema order.
var columns = []string{"pm1", "pm25", "pm10", "period", "flow_rate", "temperature", "humidity"}

// SQLiteSink mirrors every sample into a local SQLite table. The storage
// target is ignored; the database path is fixed at open time.
type SQLiteSink struct {
	db        *sql.DB
	tableName string
	insert    string
}

// Open opens (or creates) the database at path and ensures the table exists.
func Open(path, table string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite %s: %v", domain.ErrPersistence, path, err)
	}
	db.SetMaxOpenConns(1)
	s, err := NewSQLiteSink(db, table)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := s.EnsureTable(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func NewSQLiteSink(db *sql.DB, table string) (*SQLiteSink, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("%w: invalid mirror table name %q", domain.ErrConfiguration, table)
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", len(columns)+2), ",")
	insert := fmt.Sprintf("INSERT INTO %s (ts, %s, bins) VALUES (%s) ON CONFLICT(ts) DO NOTHING",
		table, strings.Join(columns, ", "), marks)
	return &SQLiteSink{db: db, tableName: table, insert: insert}, nil
}

func (s *SQLiteSink) Name() string { return "sqlite" }

func (s *SQLiteSink) EnsureTable() error {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(s.tableName)
	b.WriteString(" (ts TEXT PRIMARY KEY")
	for _, c := range columns {
		b.WriteString(", ")
		b.WriteString(c)
		b.WriteString(" REAL")
	}
	b.WriteString(", bins TEXT)")

	if _, err := s.db.Exec(b.String()); err != nil {
		return fmt.Errorf("%w: create table %s: %v", domain.ErrPersistence, s.tableName, err)
	}
	return nil
}

func (s *SQLiteSink) AppendSample(sample *domain.MeasurementSample, _ domain.StorageTarget) error {
	if sample == nil {
		return nil
	}

	args := make([]any, 0, len(columns)+2)
	args = append(args, sample.Timestamp.Format(time.RFC3339Nano))
	for _, v := range sample.Scalars {
		args = append(args, v)
	}

	var bins any
	if counts, ok := sample.Bins(); ok {
		raw, err := json.Marshal(counts)
		if err != nil {
			return fmt.Errorf("marshal bins: %w", err)
		}
		bins = string(raw)
	}
	args = append(args, bins)

	if _, err := s.db.Exec(s.insert, args...); err != nil {
		return fmt.Errorf("%w: mirror insert: %v", domain.ErrPersistence, err)
	}
	return nil
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

var _ ports.Sink = (*SQLiteSink)(nil)

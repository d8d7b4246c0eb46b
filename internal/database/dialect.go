package database

// Dialect covers the SQL that differs between the SQLite and PostgreSQL
// backends of the quest store, reward ledger and mail queue.
type Dialect interface {
	// DriverName is the database/sql driver registered for the backend.
	DriverName() string

	// Placeholder is the bind parameter at position (1-indexed), "?" or "$N".
	Placeholder(position int) string

	// InitStatements run once on the connection before migrations.
	InitStatements() []string

	// IsDuplicateKeyError reports a primary key or unique violation. Mail
	// enqueue relies on it to treat a re-queued grant as a no-op.
	IsDuplicateKeyError(err error) bool

	// BinaryType is the column type for JSON documents: progress records,
	// mail rewards and grant remainders.
	BinaryType() string

	// LockRowClause is appended to a SELECT of a ledger_players row so
	// the row stays locked until the grant transaction ends.
	LockRowClause() string
}

// DialectType identifies the database dialect.
type DialectType string

const (
	DialectSQLite   DialectType = "sqlite"
	DialectPostgres DialectType = "postgres"
)

// NewDialect returns the dialect for dialectType. Anything unknown gets the
// embedded SQLite backend.
func NewDialect(dialectType DialectType) Dialect {
	switch dialectType {
	case DialectPostgres:
		return &PostgresDialect{}
	default:
		return &SQLiteDialect{}
	}
}

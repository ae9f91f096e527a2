// Package sqlite provides a SQLite-backed record store with an FTS5 index
// for ranked lexical matching.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/record"
	"github.com/engramhq/engram/pkg/storage"
)

// Driver implements storage.Driver using SQLite via mattn/go-sqlite3.
type Driver struct {
	db     *sql.DB
	logger *zap.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id           TEXT PRIMARY KEY,
	content      TEXT    NOT NULL,
	context      TEXT    NOT NULL,
	importance   REAL    NOT NULL,
	tier         TEXT    NOT NULL,
	created_at   TEXT    NOT NULL,
	accessed_at  TEXT    NOT NULL,
	modified_at  TEXT    NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 0,
	embedding    BLOB,
	metadata     TEXT
);

CREATE INDEX IF NOT EXISTS idx_memories_tier ON memories(tier);
CREATE INDEX IF NOT EXISTS idx_memories_context ON memories(context);

CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
	content,
	content='memories',
	content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS memories_fts_insert AFTER INSERT ON memories BEGIN
	INSERT INTO memories_fts(rowid, content) VALUES (new.rowid, new.content);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_delete AFTER DELETE ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
END;
`

// NewDriver opens (or creates) a SQLite record store at dbPath.
// Use ":memory:" for an in-memory database.
func NewDriver(dbPath string, logger *zap.Logger) (*Driver, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("sqlite record store initialized",
		zap.String("db_path", dbPath),
	)

	return &Driver{db: db, logger: logger}, nil
}

// Put inserts a new record.
func (d *Driver) Put(ctx context.Context, rec *record.Record) error {
	metaJSON, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return fmt.Errorf("serializing metadata for %s: %w", rec.ID, err)
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO memories (id, content, context, importance, tier,
			created_at, accessed_at, modified_at, access_count, embedding, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Content, rec.Context.String(), rec.Importance, rec.Tier.String(),
		formatTime(rec.CreatedAt), formatTime(rec.AccessedAt), formatTime(rec.ModifiedAt),
		rec.AccessCount, serializeEmbedding(rec.Embedding), metaJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting record %s: %w", rec.ID, err)
	}
	return nil
}

// Get retrieves a record by ID.
func (d *Driver) Get(ctx context.Context, id string) (*record.Record, error) {
	row := d.db.QueryRowContext(ctx, selectColumns+` FROM memories WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, storage.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("querying record %s: %w", id, err)
	}
	return rec, nil
}

// Update rewrites a record's mutable fields. Content is immutable, so the
// FTS index never needs an update trigger.
func (d *Driver) Update(ctx context.Context, rec *record.Record) error {
	metaJSON, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return fmt.Errorf("serializing metadata for %s: %w", rec.ID, err)
	}

	res, err := d.db.ExecContext(ctx, `
		UPDATE memories
		SET importance = ?, tier = ?, accessed_at = ?, modified_at = ?,
			access_count = ?, metadata = ?
		WHERE id = ?`,
		rec.Importance, rec.Tier.String(), formatTime(rec.AccessedAt),
		formatTime(rec.ModifiedAt), rec.AccessCount, metaJSON, rec.ID,
	)
	if err != nil {
		return fmt.Errorf("updating record %s: %w", rec.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update for %s: %w", rec.ID, err)
	}
	if n == 0 {
		return storage.NotFoundError{ID: rec.ID}
	}
	return nil
}

// Touch bumps access count and access time in a single statement so
// concurrent readers never see one without the other.
func (d *Driver) Touch(ctx context.Context, id string, now time.Time) (*record.Record, error) {
	row := d.db.QueryRowContext(ctx, `
		UPDATE memories
		SET access_count = access_count + 1, accessed_at = ?
		WHERE id = ?
		RETURNING `+scanColumns,
		formatTime(now), id,
	)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, storage.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("touching record %s: %w", id, err)
	}
	return rec, nil
}

// SetTier performs a compare-and-swap tier advance.
func (d *Driver) SetTier(ctx context.Context, id string, from, to record.Tier, now time.Time) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE memories SET tier = ?, modified_at = ?
		WHERE id = ? AND tier = ?`,
		to.String(), formatTime(now), id, from.String(),
	)
	if err != nil {
		return fmt.Errorf("updating tier for %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking tier update for %s: %w", id, err)
	}
	if n > 0 {
		return nil
	}

	// CAS failed: distinguish missing record from a concurrent tier change.
	var actual string
	err = d.db.QueryRowContext(ctx, `SELECT tier FROM memories WHERE id = ?`, id).Scan(&actual)
	if err == sql.ErrNoRows {
		return storage.NotFoundError{ID: id}
	}
	if err != nil {
		return fmt.Errorf("reading tier for %s: %w", id, err)
	}
	return storage.ConflictError{ID: id, Expected: from, Actual: record.Tier(actual)}
}

// Delete removes a record. Idempotent.
func (d *Driver) Delete(ctx context.Context, id string) (bool, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("deleting record %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking delete for %s: %w", id, err)
	}
	return n > 0, nil
}

// List returns records matching the filter ordered by creation time.
func (d *Driver) List(ctx context.Context, f storage.Filter) ([]*record.Record, error) {
	where, args := buildWhere(f)
	query := selectColumns + ` FROM memories`
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY created_at ASC"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	var out []*record.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MatchExact finds records containing the query substring.
func (d *Driver) MatchExact(ctx context.Context, query string, f storage.Filter, limit int) ([]storage.Match, error) {
	if query == "" {
		return nil, nil
	}

	where, args := buildWhere(f)
	sqlQuery := selectColumns + ` FROM memories WHERE instr(lower(content), lower(?)) > 0`
	args = append([]any{query}, args...)
	if where != "" {
		sqlQuery += " AND " + where
	}
	sqlQuery += ` ORDER BY importance DESC, accessed_at DESC`
	if limit > 0 {
		sqlQuery += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("exact match query: %w", err)
	}
	defer rows.Close()

	var out []storage.Match
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning exact match: %w", err)
		}
		out = append(out, storage.Match{
			Record:     rec,
			Score:      1.0,
			Highlights: storage.ExtractHighlights(rec.Content, query),
		})
	}
	return out, rows.Err()
}

// MatchLexical ranks records against the FTS5 index using bm25 and
// normalizes the scores to [0,1] within the result set.
func (d *Driver) MatchLexical(ctx context.Context, query string, f storage.Filter, limit int) ([]storage.Match, error) {
	ftsQuery := ftsEscape(query)
	if ftsQuery == "" {
		return nil, nil
	}

	where, args := buildWhere(f)
	sqlQuery := `
		SELECT ` + scanColumnsPrefixed("m") + `, -bm25(memories_fts) AS rank
		FROM memories_fts
		JOIN memories m ON m.rowid = memories_fts.rowid
		WHERE memories_fts MATCH ?`
	args = append([]any{ftsQuery}, args...)
	if where != "" {
		sqlQuery += " AND " + prefixWhere(where)
	}
	sqlQuery += ` ORDER BY rank DESC`
	if limit > 0 {
		sqlQuery += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("lexical match query: %w", err)
	}
	defer rows.Close()

	type ranked struct {
		rec  *record.Record
		rank float64
	}
	var hits []ranked
	for rows.Next() {
		rec, rank, err := scanRankedRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning lexical match: %w", err)
		}
		hits = append(hits, ranked{rec: rec, rank: rank})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// bm25 output is unbounded; normalize by the best rank in the set.
	var maxRank float64
	for _, h := range hits {
		if h.rank > maxRank {
			maxRank = h.rank
		}
	}

	out := make([]storage.Match, 0, len(hits))
	for _, h := range hits {
		score := 0.0
		if maxRank > 0 {
			score = h.rank / maxRank
		}
		out = append(out, storage.Match{Record: h.rec, Score: score})
	}
	return out, nil
}

// Count returns the number of records in a tier.
func (d *Driver) Count(ctx context.Context, tier record.Tier) (int64, error) {
	var n int64
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE tier = ?`, tier.String(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting tier %s: %w", tier, err)
	}
	return n, nil
}

// Close releases the database handle.
func (d *Driver) Close() error {
	return d.db.Close()
}

const selectColumns = `SELECT id, content, context, importance, tier,
	created_at, accessed_at, modified_at, access_count, embedding, metadata`

const scanColumns = `id, content, context, importance, tier,
	created_at, accessed_at, modified_at, access_count, embedding, metadata`

func scanColumnsPrefixed(alias string) string {
	cols := []string{"id", "content", "context", "importance", "tier",
		"created_at", "accessed_at", "modified_at", "access_count", "embedding", "metadata"}
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// buildWhere translates a storage.Filter into a WHERE fragment for the
// unaliased memories table.
func buildWhere(f storage.Filter) (string, []any) {
	var clauses []string
	var args []any

	if len(f.Tiers) > 0 {
		placeholders := make([]string, len(f.Tiers))
		for i, t := range f.Tiers {
			placeholders[i] = "?"
			args = append(args, t.String())
		}
		clauses = append(clauses, "tier IN ("+strings.Join(placeholders, ",")+")")
	}
	if f.Context != "" {
		clauses = append(clauses, "context = ?")
		args = append(args, f.Context.String())
	}
	if !f.CreatedBefore.IsZero() {
		clauses = append(clauses, "created_at < ?")
		args = append(args, formatTime(f.CreatedBefore))
	}
	if !f.AccessedBefore.IsZero() {
		clauses = append(clauses, "accessed_at < ?")
		args = append(args, formatTime(f.AccessedBefore))
	}

	return strings.Join(clauses, " AND "), args
}

func prefixWhere(where string) string {
	// The lexical join aliases memories as m.
	replacer := strings.NewReplacer(
		"tier ", "m.tier ",
		"context ", "m.context ",
		"created_at ", "m.created_at ",
		"accessed_at ", "m.accessed_at ",
	)
	return replacer.Replace(where)
}

// ftsEscape quotes each whitespace-separated term so user input cannot be
// interpreted as FTS5 query syntax.
func ftsEscape(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*record.Record, error) {
	var (
		rec                          record.Record
		context, tier                string
		createdAt, accessedAt, modAt string
		embedding                    []byte
		metadata                     sql.NullString
	)

	err := row.Scan(&rec.ID, &rec.Content, &context, &rec.Importance, &tier,
		&createdAt, &accessedAt, &modAt, &rec.AccessCount, &embedding, &metadata)
	if err != nil {
		return nil, err
	}

	return assembleRecord(&rec, context, tier, createdAt, accessedAt, modAt, embedding, metadata)
}

func scanRankedRecord(row rowScanner) (*record.Record, float64, error) {
	var (
		rec                          record.Record
		context, tier                string
		createdAt, accessedAt, modAt string
		embedding                    []byte
		metadata                     sql.NullString
		rank                         float64
	)

	err := row.Scan(&rec.ID, &rec.Content, &context, &rec.Importance, &tier,
		&createdAt, &accessedAt, &modAt, &rec.AccessCount, &embedding, &metadata, &rank)
	if err != nil {
		return nil, 0, err
	}

	out, err := assembleRecord(&rec, context, tier, createdAt, accessedAt, modAt, embedding, metadata)
	return out, rank, err
}

func assembleRecord(rec *record.Record, context, tier, createdAt, accessedAt, modAt string, embedding []byte, metadata sql.NullString) (*record.Record, error) {
	rec.Context = record.Context(context)
	rec.Tier = record.Tier(tier)

	var err error
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if rec.AccessedAt, err = parseTime(accessedAt); err != nil {
		return nil, fmt.Errorf("parsing accessed_at: %w", err)
	}
	if rec.ModifiedAt, err = parseTime(modAt); err != nil {
		return nil, fmt.Errorf("parsing modified_at: %w", err)
	}

	if len(embedding) > 0 {
		if rec.Embedding, err = deserializeEmbedding(embedding); err != nil {
			return nil, fmt.Errorf("parsing embedding: %w", err)
		}
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("parsing metadata: %w", err)
		}
	}
	return rec, nil
}

func marshalMetadata(m record.Metadata) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// serializeEmbedding converts the vector into a little-endian float32 blob.
func serializeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func deserializeEmbedding(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

var _ storage.Driver = (*Driver)(nil)

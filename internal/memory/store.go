package memory

import (
	"container/heap"
	"database/sql"
	"embed"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// VectorStore is the capability interface for the continuity fact store.
// The default implementation is SQLite with brute-force cosine similarity;
// tests substitute an in-memory exact-match double.
type VectorStore interface {
	// Insert adds facts. Each fact is inserted independently: a failure
	// leaves previously inserted facts untouched.
	Insert(facts []Fact) error

	// Search returns the top-K facts of the given book most similar to
	// the query vector, ranked by descending cosine similarity. An empty
	// result is not an error.
	Search(vector []float32, book string, topK int) ([]ScoredFact, error)

	// Count returns the number of facts stored for book; book == ""
	// counts all facts.
	Count(book string) (int, error)

	// ExportAll returns every fact in insertion order, for backups and
	// backend migration.
	ExportAll() ([]Fact, error)

	Close() error
}

// Compile-time check that SQLiteStore implements VectorStore.
var _ VectorStore = (*SQLiteStore)(nil)

// SQLiteStore persists continuity facts in SQLite, with embeddings stored
// as little-endian float32 blobs and similarity computed by a full scan.
// Brute force is fine at story-bible scale; if a project ever exceeds
// ~100K facts, ExportAll feeds a migration to an ANN-capable backend.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the continuity database in dataDir and runs
// pending migrations. Pass ":memory:" for an in-memory database.
func Open(dataDir string) (*SQLiteStore, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "continuity.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// migrate applies embedded SQL migration files that haven't been run yet.
func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

// Insert adds facts to the continuity_facts table, one statement per fact
// so a failure cannot corrupt previously written facts.
func (s *SQLiteStore) Insert(facts []Fact) error {
	stmt, err := s.db.Prepare(`
		INSERT INTO continuity_facts (id, book, category, chapter, scene, source, text, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, f := range facts {
		createdAt := f.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		blob := encodeFloat32s(f.Embedding)
		if _, err := stmt.Exec(f.ID, f.Book, string(f.Category), f.Chapter, f.Scene, f.Source, f.Text, blob, createdAt.Format(time.RFC3339)); err != nil {
			return fmt.Errorf("inserting fact %s: %w", f.ID, err)
		}
	}
	return nil
}

// factScore holds only the ID and score during the scan phase of Search.
type factScore struct {
	ID    string
	Score float32
}

// Search scans the book's embeddings, keeps the top-K by cosine
// similarity in a min-heap, then fetches full rows for the winners.
func (s *SQLiteStore) Search(vector []float32, book string, topK int) ([]ScoredFact, error) {
	if topK <= 0 {
		return nil, nil
	}

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	rows, err := s.db.Query(`SELECT id, embedding FROM continuity_facts WHERE book = ?`, book)
	if err != nil {
		return nil, fmt.Errorf("querying embeddings: %w", err)
	}
	defer rows.Close()

	h := &factScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := cosine(vector, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, factScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = factScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	topIDs := make([]string, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(factScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}

	args := make([]interface{}, len(topIDs))
	for i, id := range topIDs {
		args[i] = id
	}
	query := `SELECT id, book, category, chapter, scene, source, text, embedding, created_at
		FROM continuity_facts WHERE id IN (?` + strings.Repeat(",?", len(topIDs)-1) + `)`

	fullRows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K facts: %w", err)
	}
	defer fullRows.Close()

	var results []ScoredFact
	for fullRows.Next() {
		f, err := scanFact(fullRows)
		if err != nil {
			return nil, err
		}
		results = append(results, ScoredFact{Fact: f, Score: scores[f.ID]})
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating full facts: %w", err)
	}

	// Sort by score descending (IN query doesn't preserve order).
	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

// Count returns the number of facts for book, or all facts when book == "".
func (s *SQLiteStore) Count(book string) (int, error) {
	var count int
	var err error
	if book == "" {
		err = s.db.QueryRow("SELECT COUNT(*) FROM continuity_facts").Scan(&count)
	} else {
		err = s.db.QueryRow("SELECT COUNT(*) FROM continuity_facts WHERE book = ?", book).Scan(&count)
	}
	return count, err
}

// ExportAll returns all facts in insertion order.
func (s *SQLiteStore) ExportAll() ([]Fact, error) {
	rows, err := s.db.Query(`SELECT id, book, category, chapter, scene, source, text, embedding, created_at
		FROM continuity_facts ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying all facts: %w", err)
	}
	defer rows.Close()

	var facts []Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// Books returns the distinct book names present in the store.
func (s *SQLiteStore) Books() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT book FROM continuity_facts ORDER BY book ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying books: %w", err)
	}
	defer rows.Close()

	var books []string
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

func scanFact(rows *sql.Rows) (Fact, error) {
	var f Fact
	var category, createdAt string
	var blob []byte
	if err := rows.Scan(&f.ID, &f.Book, &category, &f.Chapter, &f.Scene, &f.Source, &f.Text, &blob, &createdAt); err != nil {
		return Fact{}, fmt.Errorf("scanning fact: %w", err)
	}
	embedding, err := decodeFloat32s(blob)
	if err != nil {
		return Fact{}, fmt.Errorf("decoding embedding for %s: %w", f.ID, err)
	}
	f.Embedding = embedding
	f.Category = Category(category)
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Fact{}, fmt.Errorf("parsing created_at for %s: %w", f.ID, err)
	}
	f.CreatedAt = t
	return f, nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes dot(a,b) / (aNorm * |b|). aNorm is precomputed.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// factScoreHeap is a min-heap of factScore ordered by Score, used to track
// top-K candidates during the scan phase of Search.
type factScoreHeap []factScore

func (h factScoreHeap) Len() int            { return len(h) }
func (h factScoreHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h factScoreHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *factScoreHeap) Push(x interface{}) { *h = append(*h, x.(factScore)) }
func (h *factScoreHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/docvec/internal/models"
	"github.com/hyperjump/docvec/internal/vector"
)

// SQLiteStorage implements Storage using SQLite. Similarity is computed in
// process over the rows of the requested scopes.
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db, path: dbPath}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		pk TEXT PRIMARY KEY,
		item_id INTEGER NOT NULL UNIQUE,
		application TEXT NOT NULL,
		title TEXT,
		text TEXT NOT NULL,
		article_type TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS item_vectors (
		vector_key TEXT PRIMARY KEY,
		item_id INTEGER NOT NULL UNIQUE,
		item_pk TEXT NOT NULL,
		application TEXT NOT NULL,
		embedding BLOB,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_item_vectors_application ON item_vectors(application, item_pk);

	CREATE TABLE IF NOT EXISTS item_id_seq (
		id INTEGER PRIMARY KEY AUTOINCREMENT
	);
	`
	_, err := db.Exec(schema)
	return err
}

// NextItemID draws the next value of the AUTOINCREMENT sequence. SQLite never
// reissues an AUTOINCREMENT value, even after the row is removed.
func (s *SQLiteStorage) NextItemID(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO item_id_seq DEFAULT VALUES`)
	if err != nil {
		return 0, fmt.Errorf("advance item id sequence: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM item_id_seq WHERE id = ?`, id); err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

// CreateItem inserts a metadata record, assigning its PK and creation time.
func (s *SQLiteStorage) CreateItem(ctx context.Context, item *models.Item) error {
	pk, err := newPK()
	if err != nil {
		return err
	}
	createdAt := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO items (pk, item_id, application, title, text, article_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pk, item.ItemID, item.Application, item.Title, item.Text, item.ArticleType, createdAt,
	)
	if err != nil {
		return err
	}
	item.PK = pk
	item.CreatedAt = createdAt
	return nil
}

// GetItem returns a metadata record by PK.
func (s *SQLiteStorage) GetItem(ctx context.Context, pk string) (*models.Item, error) {
	var item models.Item
	err := s.db.QueryRowContext(ctx,
		`SELECT pk, item_id, application, title, text, article_type, created_at
		 FROM items WHERE pk = ?`, pk,
	).Scan(&item.PK, &item.ItemID, &item.Application, &item.Title, &item.Text, &item.ArticleType, &item.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, notFound("item", pk)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// DeleteItem removes a metadata record by PK.
func (s *SQLiteStorage) DeleteItem(ctx context.Context, pk string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE pk = ?`, pk)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("item", pk)
	}
	return nil
}

// ListItems returns every metadata record ordered by PK.
func (s *SQLiteStorage) ListItems(ctx context.Context) ([]*models.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pk, item_id, application, title, text, article_type, created_at
		 FROM items ORDER BY pk`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.Item
	for rows.Next() {
		var item models.Item
		if err := rows.Scan(&item.PK, &item.ItemID, &item.Application, &item.Title, &item.Text, &item.ArticleType, &item.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

// PutVector inserts or replaces the vector record of rec.ItemID.
func (s *SQLiteStorage) PutVector(ctx context.Context, rec *models.VectorRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO item_vectors (vector_key, item_id, item_pk, application, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(vector_key) DO UPDATE SET
		   item_pk = excluded.item_pk,
		   application = excluded.application,
		   embedding = excluded.embedding`,
		rec.Key(), rec.ItemID, rec.ItemPK, rec.Application, vector.Encode(rec.Embedding), time.Now().UTC(),
	)
	return err
}

// GetVector returns the vector record of itemID.
func (s *SQLiteStorage) GetVector(ctx context.Context, itemID int64) (*models.VectorRecord, error) {
	key := models.VectorKey(itemID)
	var (
		rec  models.VectorRecord
		blob []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT item_pk, item_id, application, embedding FROM item_vectors WHERE vector_key = ?`, key,
	).Scan(&rec.ItemPK, &rec.ItemID, &rec.Application, &blob)
	if err == sql.ErrNoRows {
		return nil, notFound("vector", key)
	}
	if err != nil {
		return nil, err
	}
	if rec.Embedding, err = vector.Decode(blob); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &rec, nil
}

// DeleteVector removes the vector record of itemID.
func (s *SQLiteStorage) DeleteVector(ctx context.Context, itemID int64) error {
	key := models.VectorKey(itemID)
	res, err := s.db.ExecContext(ctx, `DELETE FROM item_vectors WHERE vector_key = ?`, key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("vector", key)
	}
	return nil
}

// ListVectors returns the vector records of application ordered by item PK.
func (s *SQLiteStorage) ListVectors(ctx context.Context, application string) ([]*models.VectorRecord, error) {
	query := `SELECT item_pk, item_id, application, embedding FROM item_vectors`
	var args []any
	if application != "" {
		query += ` WHERE application = ?`
		args = append(args, application)
	}
	query += ` ORDER BY item_pk`
	return s.queryVectors(ctx, query, args...)
}

// SearchVectors ranks the vector records of tags against query.
func (s *SQLiteStorage) SearchVectors(ctx context.Context, query []float32, tags []string, k int) ([]*models.VectorHit, error) {
	if len(tags) == 0 || k <= 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(tags)), ",")
	args := make([]any, len(tags))
	for i, t := range tags {
		args[i] = t
	}
	recs, err := s.queryVectors(ctx,
		`SELECT item_pk, item_id, application, embedding FROM item_vectors
		 WHERE application IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	ranker := vector.NewRanker(query, tags)
	for _, rec := range recs {
		ranker.Offer(rec)
	}
	return ranker.TopK(k), nil
}

func (s *SQLiteStorage) queryVectors(ctx context.Context, query string, args ...any) ([]*models.VectorRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*models.VectorRecord
	for rows.Next() {
		var (
			rec  models.VectorRecord
			blob []byte
		)
		if err := rows.Scan(&rec.ItemPK, &rec.ItemID, &rec.Application, &blob); err != nil {
			return nil, err
		}
		if rec.Embedding, err = vector.Decode(blob); err != nil {
			return nil, fmt.Errorf("decode %s: %w", rec.Key(), err)
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

// Stats returns the number of metadata and vector records.
func (s *SQLiteStorage) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Backend: BackendSQLite}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&st.Items); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM item_vectors`).Scan(&st.Vectors); err != nil {
		return nil, err
	}
	return st, nil
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

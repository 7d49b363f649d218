package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
)

var collectionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ValidateCollectionID checks the allowed id shape.
func ValidateCollectionID(id string) error {
	if !collectionIDPattern.MatchString(id) {
		return kberrors.Newf(kberrors.ErrCodeInvalidDocument,
			"invalid collection id %q: use 1-64 letters, digits, '.', '_' or '-'", id)
	}
	return nil
}

// CreateCollection registers a collection. Re-creating updates name and description.
func (s *SQLiteStore) CreateCollection(ctx context.Context, c *Collection) error {
	if err := ValidateCollectionID(c.ID); err != nil {
		return err
	}
	if c.Name == "" {
		c.Name = c.ID
	}
	c.CreatedAt = s.now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collections (id, name, description, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, description = excluded.description`,
		c.ID, c.Name, c.Description, toMillis(c.CreatedAt))
	if err != nil {
		return kberrors.StorageError("create collection "+c.ID, err)
	}
	return nil
}

// DeleteCollection removes a collection and its documents.
func (s *SQLiteStore) DeleteCollection(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM collections WHERE id = ?", id)
	if err != nil {
		return kberrors.StorageError("delete collection "+id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return kberrors.UnknownCollection(id)
	}
	return nil
}

// GetCollection returns one collection with its document count.
func (s *SQLiteStore) GetCollection(ctx context.Context, id string) (*Collection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.name, c.description, c.created_at,
		       (SELECT COUNT(*) FROM documents d WHERE d.collection_id = c.id)
		FROM collections c WHERE c.id = ?`, id)

	c, err := scanCollection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kberrors.UnknownCollection(id)
	}
	if err != nil {
		return nil, kberrors.StorageError("get collection "+id, err)
	}
	return c, nil
}

// HasCollection implements CollectionCatalog.
func (s *SQLiteStore) HasCollection(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM collections WHERE id = ?", id).Scan(&n)
	if err != nil {
		return false, kberrors.StorageError("lookup collection", err)
	}
	return n > 0, nil
}

// ListCollections returns every collection ordered by id.
func (s *SQLiteStore) ListCollections(ctx context.Context) ([]*Collection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.description, c.created_at,
		       (SELECT COUNT(*) FROM documents d WHERE d.collection_id = c.id)
		FROM collections c ORDER BY c.id`)
	if err != nil {
		return nil, kberrors.StorageError("list collections", err)
	}
	defer rows.Close()

	var out []*Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, kberrors.StorageError("scan collection", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCollection(r rowScanner) (*Collection, error) {
	var c Collection
	var created int64
	if err := r.Scan(&c.ID, &c.Name, &c.Description, &created, &c.DocumentCount); err != nil {
		return nil, err
	}
	c.CreatedAt = fromMillis(created)
	return &c, nil
}

// SaveDocuments upserts documents into a collection in one transaction.
func (s *SQLiteStore) SaveDocuments(ctx context.Context, collection string, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}
	ok, err := s.HasCollection(ctx, collection)
	if err != nil {
		return err
	}
	if !ok {
		return kberrors.UnknownCollection(collection)
	}

	now := s.now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO documents (collection_id, id, title, content, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(collection_id, id) DO UPDATE SET
				title = excluded.title, content = excluded.content, metadata = excluded.metadata`)
		if err != nil {
			return kberrors.StorageError("prepare document insert", err)
		}
		defer stmt.Close()

		for _, d := range docs {
			if strings.TrimSpace(d.ID) == "" {
				return kberrors.Newf(kberrors.ErrCodeInvalidDocument, "document without id in collection %s", collection)
			}
			if strings.TrimSpace(d.Content) == "" && strings.TrimSpace(d.Title) == "" {
				return kberrors.Newf(kberrors.ErrCodeInvalidDocument, "document %s has no title or content", d.ID)
			}
			meta, err := json.Marshal(d.Metadata)
			if err != nil {
				return fmt.Errorf("encode metadata for %s: %w", d.ID, err)
			}
			d.Collection = collection
			if d.CreatedAt.IsZero() {
				d.CreatedAt = now
			}
			if _, err := stmt.ExecContext(ctx, collection, d.ID, d.Title, d.Content, string(meta), toMillis(d.CreatedAt)); err != nil {
				return kberrors.StorageError("save document "+d.ID, err)
			}
		}
		return nil
	})
}

// GetDocuments implements DocumentStore. Missing ids are absent from the map.
func (s *SQLiteStore) GetDocuments(ctx context.Context, collection string, ids []string) (map[string]*Document, error) {
	out := make(map[string]*Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, collection)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, collection_id, title, content, metadata, created_at
		FROM documents WHERE collection_id = ? AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, kberrors.StorageError("get documents", err)
	}
	defer rows.Close()

	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out[d.ID] = d
	}
	return out, rows.Err()
}

// ListDocuments returns every document of a collection, used to build indexes.
func (s *SQLiteStore) ListDocuments(ctx context.Context, collection string) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, collection_id, title, content, metadata, created_at
		FROM documents WHERE collection_id = ? ORDER BY id`, collection)
	if err != nil {
		return nil, kberrors.StorageError("list documents", err)
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDocuments removes documents by id.
func (s *SQLiteStore) DeleteDocuments(ctx context.Context, collection string, ids []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM documents WHERE collection_id = ? AND id = ?", collection, id); err != nil {
				return kberrors.StorageError("delete document "+id, err)
			}
		}
		return nil
	})
}

func scanDocument(r rowScanner) (*Document, error) {
	var d Document
	var meta string
	var created int64
	if err := r.Scan(&d.ID, &d.Collection, &d.Title, &d.Content, &meta, &created); err != nil {
		return nil, kberrors.StorageError("scan document", err)
	}
	if meta != "" && meta != "null" {
		if err := json.Unmarshal([]byte(meta), &d.Metadata); err != nil {
			return nil, kberrors.New(kberrors.ErrCodeStorageCorrupt, "decode metadata for "+d.ID, err)
		}
	}
	d.CreatedAt = fromMillis(created)
	return &d, nil
}

var (
	_ DocumentStore     = (*SQLiteStore)(nil)
	_ CollectionCatalog = (*SQLiteStore)(nil)
)

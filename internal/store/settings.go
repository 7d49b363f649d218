package store

import (
	"context"
	"database/sql"
	"errors"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
)

// GetSetting returns a stored setting and whether it exists.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, kberrors.StorageError("get setting "+key, err)
	}
	return v, true, nil
}

// PutSetting stores a setting, replacing any previous value.
func (s *SQLiteStore) PutSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, toMillis(s.now()))
	if err != nil {
		return kberrors.StorageError("put setting "+key, err)
	}
	return nil
}

// Settings returns every stored setting.
func (s *SQLiteStore) Settings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM settings ORDER BY key")
	if err != nil {
		return nil, kberrors.StorageError("list settings", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, kberrors.StorageError("scan setting", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

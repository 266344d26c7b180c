package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goliatone/go-auth-client"
	"github.com/uptrace/bun"
)

// ItemModel is the Bun model backing BunStorage.
type ItemModel struct {
	bun.BaseModel `bun:"table:auth_client_items"`

	Key       string    `bun:"item_key,pk"`
	Value     string    `bun:"item_value,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// BunStorage implements authclient.Storage over a single SQL table.
type BunStorage struct {
	db bun.IDB
}

var _ authclient.Storage = (*BunStorage)(nil)

// NewBunStorage creates a storage using db.
func NewBunStorage(db bun.IDB) *BunStorage {
	return &BunStorage{db: db}
}

// CreateTable creates the items table when it does not exist yet.
func (s *BunStorage) CreateTable(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*ItemModel)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

// GetItem implements authclient.Storage.
func (s *BunStorage) GetItem(ctx context.Context, key string) (string, bool, error) {
	var model ItemModel
	err := s.db.NewSelect().
		Model(&model).
		Where("item_key = ?", key).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return model.Value, true, nil
}

// SetItem implements authclient.Storage.
func (s *BunStorage) SetItem(ctx context.Context, key, value string) error {
	model := &ItemModel{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}

	_, err := s.db.NewInsert().
		Model(model).
		On("CONFLICT (item_key) DO UPDATE").
		Set("item_value = EXCLUDED.item_value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

// RemoveItem implements authclient.Storage.
func (s *BunStorage) RemoveItem(ctx context.Context, key string) error {
	_, err := s.db.NewDelete().
		Model((*ItemModel)(nil)).
		Where("item_key = ?", key).
		Exec(ctx)
	return err
}

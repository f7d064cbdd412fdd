package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"incentive-pipeline/pkg/db/option"
)

type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	// FindOne returns nil, nil when nothing matches.
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
	Update(ctx context.Context, resourceID string, resource any) error
	BatchCreate(ctx context.Context, resources []*T) error
	BatchUpdate(ctx context.Context, resources []*T) error
	Count(ctx context.Context, query *T) (int64, error)
}

const defaultBatchSize = 500

type store[T any] struct {
	db        *gorm.DB
	batchSize int
}

func ProvideStore[T any](db *gorm.DB) Repository[T] {
	return &store[T]{db: db, batchSize: defaultBatchSize}
}

// ProvideStoreWithBatch is ProvideStore with an explicit BatchCreate chunk size.
func ProvideStoreWithBatch[T any](db *gorm.DB, batchSize int) Repository[T] {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &store[T]{db: db, batchSize: batchSize}
}

func (s *store[T]) WithTrx(tx *gorm.DB) Repository[T] {
	if tx == nil {
		return s
	}
	return &store[T]{db: tx, batchSize: s.batchSize}
}

func (s *store[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	var out []*T
	q := option.Apply(s.db.WithContext(ctx).Model(new(T)).Where(query), opts...)
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *store[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	var out T
	q := option.Apply(s.db.WithContext(ctx).Model(new(T)).Where(query), opts...)
	if err := q.First(&out).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

func (s *store[T]) Create(ctx context.Context, resource *T) error {
	return s.db.WithContext(ctx).Create(resource).Error
}

func (s *store[T]) Update(ctx context.Context, resourceID string, resource any) error {
	pk, err := s.primaryKey()
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(new(T)).Where(fmt.Sprintf("%s = ?", pk), resourceID).Updates(resource).Error
}

func (s *store[T]) BatchCreate(ctx context.Context, resources []*T) error {
	if len(resources) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(resources, s.batchSize).Error
}

func (s *store[T]) BatchUpdate(ctx context.Context, resources []*T) error {
	if len(resources) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, r := range resources {
			if err := tx.Save(r).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *store[T]) Count(ctx context.Context, query *T) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(new(T)).Where(query).Count(&n).Error
	return n, err
}

func (s *store[T]) primaryKey() (string, error) {
	stmt := &gorm.Statement{DB: s.db}
	if err := stmt.Parse(new(T)); err != nil {
		return "", err
	}
	if stmt.Schema.PrioritizedPrimaryField == nil {
		return "", fmt.Errorf("%s has no primary key", stmt.Schema.Name)
	}
	return stmt.Schema.PrioritizedPrimaryField.DBName, nil
}

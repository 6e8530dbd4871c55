package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"imagevault/images/domain"
	"imagevault/shared/db"
)

var _ domain.VariantRepository = (*SQLiteVariantRepository)(nil)

// SQLiteVariantRepository implements domain.VariantRepository using SQL database (SQLite)
type SQLiteVariantRepository struct {
	db *sql.DB
}

// NewVariantRepository creates a new SQLiteVariantRepository from a standard sql.DB
func NewVariantRepository(sqlDB *sql.DB) *SQLiteVariantRepository {
	return &SQLiteVariantRepository{
		db: sqlDB,
	}
}

const upsertVariantQuery = `
	INSERT INTO variants (image_id, kind, width, height, content, status, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(image_id, kind) DO UPDATE SET
		width = excluded.width,
		height = excluded.height,
		content = excluded.content,
		status = excluded.status,
		created_at = excluded.created_at
`

// UpsertVariant writes a variant, overwriting any previous rendering of the
// same kind. The foreign key rejects writes against a deleted image; callers
// racing a delete get ErrNotFound and treat it as a no-op.
func (r *SQLiteVariantRepository) UpsertVariant(ctx context.Context, v *domain.Variant) error {
	if v == nil {
		return fmt.Errorf("%w: variant cannot be nil", domain.ErrValidation)
	}

	if v.ImageID == "" || v.Kind == "" {
		return fmt.Errorf("%w: variant key cannot be empty", domain.ErrValidation)
	}

	createdAt := v.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	executor := db.GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, upsertVariantQuery,
		v.ImageID,
		string(v.Kind),
		v.Width,
		v.Height,
		v.Content,
		v.Status,
		createdAt,
	)

	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("image %s: %w", v.ImageID, domain.ErrNotFound)
		}
		return fmt.Errorf("failed to upsert variant: %w", err)
	}

	return nil
}

const getVariantQuery = `
	SELECT image_id, kind, width, height, content, status, created_at
	FROM variants
	WHERE image_id = ? AND kind = ? AND status = 'ready'
`

// GetVariant retrieves a ready variant. Pending and failed generations both
// surface as ErrNotFound so readers fall back to the original image.
func (r *SQLiteVariantRepository) GetVariant(ctx context.Context, imageID string, kind domain.VariantKind) (*domain.Variant, error) {
	if imageID == "" {
		return nil, fmt.Errorf("%w: image ID cannot be empty", domain.ErrValidation)
	}

	executor := db.GetExecutor(ctx, r.db)

	var v domain.Variant
	var kindStr string
	err := executor.QueryRowContext(ctx, getVariantQuery, imageID, string(kind)).Scan(
		&v.ImageID,
		&kindStr,
		&v.Width,
		&v.Height,
		&v.Content,
		&v.Status,
		&v.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("variant %s/%s: %w", imageID, kind, domain.ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get variant: %w", err)
	}

	v.Kind = domain.VariantKind(kindStr)
	return &v, nil
}

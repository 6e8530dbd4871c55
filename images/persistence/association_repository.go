package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"imagevault/images/domain"
	"imagevault/shared/db"
)

var _ domain.AssociationRepository = (*SQLiteAssociationRepository)(nil)

// SQLiteAssociationRepository implements domain.AssociationRepository using SQL database (SQLite)
type SQLiteAssociationRepository struct {
	db *sql.DB
}

// NewAssociationRepository creates a new SQLiteAssociationRepository from a standard sql.DB
func NewAssociationRepository(sqlDB *sql.DB) *SQLiteAssociationRepository {
	return &SQLiteAssociationRepository{
		db: sqlDB,
	}
}

const insertAssociationQuery = `
	INSERT INTO associations (image_id, entity_type, entity_id, usage_type, is_primary, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
`

// Insert adds a new association row. The partial unique index on primary
// associations turns a lost primary-swap race into ErrConflict rather than
// a second visible primary.
func (r *SQLiteAssociationRepository) Insert(ctx context.Context, a *domain.Association) error {
	if a == nil {
		return fmt.Errorf("%w: association cannot be nil", domain.ErrValidation)
	}

	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	executor := db.GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, insertAssociationQuery,
		a.ImageID,
		string(a.EntityType),
		a.EntityID,
		a.UsageType,
		boolToInt(a.IsPrimary),
		createdAt,
	)

	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("image %s: %w", a.ImageID, domain.ErrNotFound)
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("primary association already exists for %s/%s/%s: %w",
				a.EntityType, a.EntityID, a.UsageType, domain.ErrConflict)
		}
		return fmt.Errorf("failed to insert association: %w", err)
	}

	return nil
}

const selectPrimaryQuery = `
	SELECT id, image_id FROM associations
	WHERE entity_type = ? AND entity_id = ? AND usage_type = ? AND is_primary = 1
`

const selectSlotQuery = `
	SELECT id, image_id FROM associations
	WHERE entity_type = ? AND entity_id = ? AND usage_type = ?
`

// DeletePrimary removes the primary association for a slot, if any
func (r *SQLiteAssociationRepository) DeletePrimary(ctx context.Context, entityType domain.EntityKind, entityID, usageType string) ([]string, error) {
	return r.deleteMatching(ctx, selectPrimaryQuery, entityType, entityID, usageType)
}

// DeleteSlot removes every association for a slot
func (r *SQLiteAssociationRepository) DeleteSlot(ctx context.Context, entityType domain.EntityKind, entityID, usageType string) ([]string, error) {
	return r.deleteMatching(ctx, selectSlotQuery, entityType, entityID, usageType)
}

func (r *SQLiteAssociationRepository) deleteMatching(ctx context.Context, selectQuery string, entityType domain.EntityKind, entityID, usageType string) ([]string, error) {
	var imageIDs []string

	err := db.RunInTransaction(ctx, r.db, func(txCtx context.Context) error {
		executor := db.GetExecutor(txCtx, r.db)

		rows, err := executor.QueryContext(txCtx, selectQuery, string(entityType), entityID, usageType)
		if err != nil {
			return fmt.Errorf("failed to select associations: %w", err)
		}

		var ids []int64
		for rows.Next() {
			var id int64
			var imageID string
			if err := rows.Scan(&id, &imageID); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan association: %w", err)
			}
			ids = append(ids, id)
			imageIDs = append(imageIDs, imageID)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("failed to iterate associations: %w", err)
		}
		rows.Close()

		for _, id := range ids {
			if _, err := executor.ExecContext(txCtx, "DELETE FROM associations WHERE id = ?", id); err != nil {
				return fmt.Errorf("failed to delete association %d: %w", id, err)
			}
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return imageIDs, nil
}

const countForImageQuery = `
	SELECT COUNT(*) FROM associations WHERE image_id = ?
`

// CountForImage returns how many associations reference the image
func (r *SQLiteAssociationRepository) CountForImage(ctx context.Context, imageID string) (int, error) {
	executor := db.GetExecutor(ctx, r.db)

	var count int
	if err := executor.QueryRowContext(ctx, countForImageQuery, imageID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count associations: %w", err)
	}

	return count, nil
}

const listForEntityQuery = `
	SELECT a.image_id, a.usage_type, a.is_primary, i.mime_type, i.byte_size, i.width, i.height
	FROM associations a
	JOIN images i ON i.id = a.image_id
	WHERE a.entity_type = ? AND a.entity_id = ?
`

// ListForEntity returns the entity's images, primary first
func (r *SQLiteAssociationRepository) ListForEntity(ctx context.Context, entityType domain.EntityKind, entityID string, usageType *string) ([]domain.EntityImage, error) {
	executor := db.GetExecutor(ctx, r.db)

	query := listForEntityQuery
	args := []any{string(entityType), entityID}
	if usageType != nil {
		query += " AND a.usage_type = ?"
		args = append(args, *usageType)
	}
	query += " ORDER BY a.is_primary DESC, a.created_at ASC"

	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entity images: %w", err)
	}
	defer rows.Close()

	var images []domain.EntityImage
	for rows.Next() {
		var img domain.EntityImage
		var isPrimary int
		var width, height sql.NullInt64
		if err := rows.Scan(&img.ImageID, &img.UsageType, &isPrimary, &img.MimeType, &img.ByteSize, &width, &height); err != nil {
			return nil, fmt.Errorf("failed to scan entity image: %w", err)
		}
		img.IsPrimary = isPrimary != 0
		if width.Valid {
			w := int(width.Int64)
			img.Width = &w
		}
		if height.Valid {
			h := int(height.Int64)
			img.Height = &h
		}
		images = append(images, img)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entity images: %w", err)
	}

	return images, nil
}

// isForeignKeyViolation reports whether err is a SQLite foreign key
// constraint failure
func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// isUniqueViolation reports whether err is a SQLite unique constraint failure
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"imagevault/images/domain"
	"imagevault/shared/db"
)

var _ domain.ImageRepository = (*SQLiteImageRepository)(nil)

// SQLiteImageRepository implements domain.ImageRepository using SQL database (SQLite)
type SQLiteImageRepository struct {
	db *sql.DB
}

// NewImageRepository creates a new SQLiteImageRepository from a standard sql.DB
func NewImageRepository(sqlDB *sql.DB) *SQLiteImageRepository {
	return &SQLiteImageRepository{
		db: sqlDB,
	}
}

const insertImageQuery = `
	INSERT INTO images (id, file_name, mime_type, content, byte_size, width, height, temporary, expires_at, extra, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// SaveImage persists a new image record
func (r *SQLiteImageRepository) SaveImage(ctx context.Context, img *domain.Image) error {
	if img == nil {
		return fmt.Errorf("%w: image cannot be nil", domain.ErrValidation)
	}

	if img.ID == "" {
		return fmt.Errorf("%w: image ID cannot be empty", domain.ErrValidation)
	}

	extra := img.Extra
	if extra == nil {
		extra = map[string]string{}
	}
	extraJSON, err := json.Marshal(extra)
	if err != nil {
		return fmt.Errorf("failed to marshal extra metadata: %w", err)
	}

	var expiresAt any
	if img.ExpiresAt != nil {
		expiresAt = img.ExpiresAt.Unix()
	}

	var updatedAt any
	if !img.UpdatedAt.IsZero() {
		updatedAt = img.UpdatedAt
	}

	executor := db.GetExecutor(ctx, r.db)
	_, err = executor.ExecContext(ctx, insertImageQuery,
		img.ID,
		img.FileName,
		img.MimeType,
		img.Content,
		img.ByteSize,
		nullableInt(img.Width),
		nullableInt(img.Height),
		boolToInt(img.Temporary),
		expiresAt,
		string(extraJSON),
		img.CreatedAt,
		updatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert image record: %w", err)
	}

	return nil
}

const getImageQuery = `
	SELECT id, file_name, mime_type, content, byte_size, width, height, temporary, expires_at, extra, created_at, updated_at
	FROM images
	WHERE id = ?
`

// GetImage retrieves a full image record including content
func (r *SQLiteImageRepository) GetImage(ctx context.Context, id string) (*domain.Image, error) {
	return r.getImage(ctx, id, true)
}

const getImageMetaQuery = `
	SELECT id, file_name, mime_type, byte_size, width, height, temporary, expires_at, extra, created_at, updated_at
	FROM images
	WHERE id = ?
`

// GetImageMeta retrieves an image record without its byte payload
func (r *SQLiteImageRepository) GetImageMeta(ctx context.Context, id string) (*domain.Image, error) {
	return r.getImage(ctx, id, false)
}

func (r *SQLiteImageRepository) getImage(ctx context.Context, id string, withContent bool) (*domain.Image, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: image ID cannot be empty", domain.ErrValidation)
	}

	executor := db.GetExecutor(ctx, r.db)

	var row imageRow
	var err error
	if withContent {
		err = executor.QueryRowContext(ctx, getImageQuery, id).Scan(
			&row.ID, &row.FileName, &row.MimeType, &row.Content, &row.ByteSize,
			&row.Width, &row.Height, &row.Temporary, &row.ExpiresAt, &row.Extra,
			&row.CreatedAt, &row.UpdatedAt,
		)
	} else {
		err = executor.QueryRowContext(ctx, getImageMetaQuery, id).Scan(
			&row.ID, &row.FileName, &row.MimeType, &row.ByteSize,
			&row.Width, &row.Height, &row.Temporary, &row.ExpiresAt, &row.Extra,
			&row.CreatedAt, &row.UpdatedAt,
		)
	}

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("image %s: %w", id, domain.ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	return row.toDomain(), nil
}

const countAssociationsQuery = `
	SELECT COUNT(*) FROM associations WHERE image_id = ?
`

const deleteImageQuery = `
	DELETE FROM images WHERE id = ?
`

// DeleteImage removes the image and, via cascade, its variants. The
// association count is re-read inside the transaction so the guard cannot
// race a concurrent link.
func (r *SQLiteImageRepository) DeleteImage(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: image ID cannot be empty", domain.ErrValidation)
	}

	return db.RunInTransaction(ctx, r.db, func(txCtx context.Context) error {
		executor := db.GetExecutor(txCtx, r.db)

		var count int
		if err := executor.QueryRowContext(txCtx, countAssociationsQuery, id).Scan(&count); err != nil {
			return fmt.Errorf("failed to count associations: %w", err)
		}

		if count > 0 {
			return fmt.Errorf("image %s has %d associations: %w", id, count, domain.ErrConflict)
		}

		result, err := executor.ExecContext(txCtx, deleteImageQuery, id)
		if err != nil {
			return fmt.Errorf("failed to delete image record: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}

		if affected == 0 {
			return fmt.Errorf("image %s: %w", id, domain.ErrNotFound)
		}

		return nil
	})
}

const clearTemporaryQuery = `
	UPDATE images
	SET temporary = 0, expires_at = NULL, updated_at = ?
	WHERE id = ? AND temporary = 1
`

// ClearTemporary conditionally clears the temporary flag. The WHERE clause
// makes the check-and-clear a single atomic update; a racing caller sees
// zero rows affected.
func (r *SQLiteImageRepository) ClearTemporary(ctx context.Context, id string) (bool, error) {
	executor := db.GetExecutor(ctx, r.db)

	result, err := executor.ExecContext(ctx, clearTemporaryQuery, time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to clear temporary flag: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected > 0, nil
}

const deleteIfExpiredQuery = `
	DELETE FROM images
	WHERE id = ? AND temporary = 1 AND expires_at IS NOT NULL AND expires_at < ?
	AND NOT EXISTS (SELECT 1 FROM associations WHERE image_id = images.id)
`

// DeleteIfExpired deletes the image only if it is still an expired temporary
// upload at the moment of deletion. An image confirmed between candidate
// listing and this call matches no row and survives.
func (r *SQLiteImageRepository) DeleteIfExpired(ctx context.Context, id string, now time.Time) (bool, error) {
	executor := db.GetExecutor(ctx, r.db)

	result, err := executor.ExecContext(ctx, deleteIfExpiredQuery, id, now.Unix())
	if err != nil {
		return false, fmt.Errorf("failed to delete expired image: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected > 0, nil
}

const listExpiredQuery = `
	SELECT id FROM images
	WHERE temporary = 1 AND expires_at IS NOT NULL AND expires_at < ?
	ORDER BY expires_at ASC
`

// ListExpired returns IDs of temporary images whose expiry has passed
func (r *SQLiteImageRepository) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	executor := db.GetExecutor(ctx, r.db)

	rows, err := executor.QueryContext(ctx, listExpiredQuery, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to list expired images: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan expired image id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expired images: %w", err)
	}

	return ids, nil
}

const getExtraQuery = `
	SELECT extra FROM images WHERE id = ?
`

const updateExtraQuery = `
	UPDATE images SET extra = ?, updated_at = ? WHERE id = ?
`

// MergeExtra merges the given keys into the image's extension metadata.
// Only explicitly provided keys are replaced; the read-merge-write runs in
// one transaction.
func (r *SQLiteImageRepository) MergeExtra(ctx context.Context, id string, extra map[string]string) error {
	if len(extra) == 0 {
		return nil
	}

	return db.RunInTransaction(ctx, r.db, func(txCtx context.Context) error {
		executor := db.GetExecutor(txCtx, r.db)

		var rawExtra string
		err := executor.QueryRowContext(txCtx, getExtraQuery, id).Scan(&rawExtra)
		if err == sql.ErrNoRows {
			return fmt.Errorf("image %s: %w", id, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read extra metadata: %w", err)
		}

		merged := map[string]string{}
		if rawExtra != "" {
			if err := json.Unmarshal([]byte(rawExtra), &merged); err != nil {
				return fmt.Errorf("failed to unmarshal extra metadata: %w", err)
			}
		}
		for k, v := range extra {
			merged[k] = v
		}

		mergedJSON, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("failed to marshal extra metadata: %w", err)
		}

		if _, err := executor.ExecContext(txCtx, updateExtraQuery, string(mergedJSON), time.Now().UTC(), id); err != nil {
			return fmt.Errorf("failed to update extra metadata: %w", err)
		}

		return nil
	})
}

const tempStatsQuery = `
	SELECT id, expires_at FROM images
	WHERE temporary = 1 AND expires_at IS NOT NULL
	ORDER BY expires_at ASC
`

// TempStats reports counts of temporary uploads relative to now
func (r *SQLiteImageRepository) TempStats(ctx context.Context, now time.Time, soon time.Duration) (*domain.TempStats, error) {
	executor := db.GetExecutor(ctx, r.db)

	rows, err := executor.QueryContext(ctx, tempStatsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query temporary images: %w", err)
	}
	defer rows.Close()

	stats := &domain.TempStats{}
	soonCutoff := now.Add(soon).Unix()
	nowUnix := now.Unix()

	for rows.Next() {
		var id string
		var expiresAt int64
		if err := rows.Scan(&id, &expiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan temporary image: %w", err)
		}

		stats.TotalTempImages++
		if expiresAt < nowUnix {
			stats.ExpiredCount++
		} else {
			stats.ActiveCount++
			if expiresAt <= soonCutoff {
				stats.SoonExpiring = append(stats.SoonExpiring, id)
			}
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate temporary images: %w", err)
	}

	return stats, nil
}

// imageRow is a private struct used to scan database rows
type imageRow struct {
	ID        string
	FileName  string
	MimeType  string
	Content   []byte
	ByteSize  int64
	Width     sql.NullInt64
	Height    sql.NullInt64
	Temporary int
	ExpiresAt sql.NullInt64
	Extra     string
	CreatedAt time.Time
	UpdatedAt sql.NullTime
}

// toDomain converts an imageRow to a domain.Image, handling nullable columns
func (ir *imageRow) toDomain() *domain.Image {
	img := &domain.Image{
		ID:        ir.ID,
		FileName:  ir.FileName,
		MimeType:  ir.MimeType,
		Content:   ir.Content,
		ByteSize:  ir.ByteSize,
		Temporary: ir.Temporary != 0,
		CreatedAt: ir.CreatedAt,
	}

	if ir.Width.Valid {
		w := int(ir.Width.Int64)
		img.Width = &w
	}
	if ir.Height.Valid {
		h := int(ir.Height.Int64)
		img.Height = &h
	}
	if ir.ExpiresAt.Valid {
		t := time.Unix(ir.ExpiresAt.Int64, 0).UTC()
		img.ExpiresAt = &t
	}
	if ir.UpdatedAt.Valid {
		img.UpdatedAt = ir.UpdatedAt.Time
	}
	if ir.Extra != "" {
		extra := map[string]string{}
		if err := json.Unmarshal([]byte(ir.Extra), &extra); err == nil {
			img.Extra = extra
		}
	}

	return img
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

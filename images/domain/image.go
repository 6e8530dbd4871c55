package domain

import (
	"context"
	"time"
)

// Image represents a stored binary asset. It is owned exclusively by the
// image repository; every other component references it by ID only.
type Image struct {
	ID        string
	FileName  string
	MimeType  string
	Content   []byte
	ByteSize  int64
	Width     *int
	Height    *int
	Temporary bool
	ExpiresAt *time.Time
	Extra     map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether the image is a temporary upload whose TTL has
// passed. A permanent image never expires.
func (i *Image) Expired(now time.Time) bool {
	return i.Temporary && i.ExpiresAt != nil && now.After(*i.ExpiresAt)
}

// TempStats summarizes the temporary-upload population for diagnostics.
type TempStats struct {
	TotalTempImages int
	ExpiredCount    int
	ActiveCount     int
	SoonExpiring    []string
}

type ImageRepository interface {
	// SaveImage persists a new image record
	SaveImage(ctx context.Context, img *Image) error

	// GetImage retrieves a full image record including content
	GetImage(ctx context.Context, id string) (*Image, error)

	// GetImageMeta retrieves an image record without its byte payload
	GetImageMeta(ctx context.Context, id string) (*Image, error)

	// DeleteImage removes an image and, via cascade, its variants.
	// Fails with ErrConflict while any association references it.
	DeleteImage(ctx context.Context, id string) error

	// ClearTemporary atomically clears the temporary flag and expiry,
	// succeeding only if the image is still temporary. Returns false when
	// the conditional update matched no row.
	ClearTemporary(ctx context.Context, id string) (bool, error)

	// DeleteIfExpired deletes the image only if it is still temporary and
	// expired as of now. Returns whether a row was deleted.
	DeleteIfExpired(ctx context.Context, id string, now time.Time) (bool, error)

	// ListExpired returns IDs of temporary images whose expiry has passed
	ListExpired(ctx context.Context, now time.Time) ([]string, error)

	// MergeExtra merges the given keys into the image's extension metadata,
	// replacing only the keys provided
	MergeExtra(ctx context.Context, id string, extra map[string]string) error

	// TempStats reports counts of temporary uploads relative to now,
	// listing images that expire within the soon window
	TempStats(ctx context.Context, now time.Time, soon time.Duration) (*TempStats, error)
}

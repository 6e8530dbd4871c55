package domain

import (
	"context"
	"time"
)

// Association links an image to a usage slot of an owning entity.
// For any (entity type, entity ID, usage type) tuple at most one association
// carries IsPrimary at a time.
type Association struct {
	ID         int64
	ImageID    string
	EntityType EntityKind
	EntityID   string
	UsageType  string
	IsPrimary  bool
	CreatedAt  time.Time
}

// EntityImage is a listing row for an entity's associated images.
type EntityImage struct {
	ImageID   string
	UsageType string
	IsPrimary bool
	MimeType  string
	ByteSize  int64
	Width     *int
	Height    *int
}

type AssociationRepository interface {
	// Insert adds a new association row
	Insert(ctx context.Context, a *Association) error

	// DeletePrimary removes the primary association for a slot, if any,
	// returning the image IDs whose associations were removed
	DeletePrimary(ctx context.Context, entityType EntityKind, entityID, usageType string) ([]string, error)

	// DeleteSlot removes every association for a slot, returning the image
	// IDs whose associations were removed
	DeleteSlot(ctx context.Context, entityType EntityKind, entityID, usageType string) ([]string, error)

	// CountForImage returns how many associations reference the image
	CountForImage(ctx context.Context, imageID string) (int, error)

	// ListForEntity returns the entity's images, primary first, optionally
	// filtered by usage type
	ListForEntity(ctx context.Context, entityType EntityKind, entityID string, usageType *string) ([]EntityImage, error)
}

package domain

import (
	"context"
	"time"
)

// VariantKind names a derived rendering of an image. "original" is never a
// stored variant; it is the image itself.
type VariantKind string

const (
	VariantThumbnail VariantKind = "thumbnail"
	VariantMedium    VariantKind = "medium"
)

// VariantSpec gives the target bounding box for a variant kind.
type VariantSpec struct {
	Width  int
	Height int
}

// StandardVariants are the kinds pre-computed after every upload.
var StandardVariants = map[VariantKind]VariantSpec{
	VariantThumbnail: {Width: 200, Height: 200},
	VariantMedium:    {Width: 800, Height: 600},
}

// Variant generation statuses. Pending generations have no row at all;
// readers treat both absence and failure as not found.
const (
	VariantStatusReady  = "ready"
	VariantStatusFailed = "failed"
)

// Variant is a derived rendering of an Image, keyed by (image ID, kind).
type Variant struct {
	ImageID   string
	Kind      VariantKind
	Width     int
	Height    int
	Content   []byte
	Status    string
	CreatedAt time.Time
}

type VariantRepository interface {
	// UpsertVariant writes a variant, overwriting any previous rendering of
	// the same kind. Fails if the parent image no longer exists.
	UpsertVariant(ctx context.Context, v *Variant) error

	// GetVariant retrieves a ready variant. Failed or never-generated
	// variants return ErrNotFound.
	GetVariant(ctx context.Context, imageID string, kind VariantKind) (*Variant, error)
}

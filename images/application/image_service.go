package application

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"image"
	"time"

	"imagevault/images/domain"
	"imagevault/shared/db"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

const (
	// DefaultMaxUploadBytes caps accepted payloads at 5 MiB
	DefaultMaxUploadBytes = 5 << 20

	// DefaultTempTTL is how long an unconfirmed upload stays eligible for confirmation
	DefaultTempTTL = 24 * time.Hour
)

// defaultAllowedMimeTypes is the raster/vector allow-list for uploads.
var defaultAllowedMimeTypes = map[string]bool{
	"image/jpeg":    true,
	"image/png":     true,
	"image/gif":     true,
	"image/webp":    true,
	"image/svg+xml": true,
}

// ImageServiceConfig carries the tunable limits for the engine.
// Zero values fall back to the defaults above.
type ImageServiceConfig struct {
	MaxUploadBytes int64
	TempTTL        time.Duration
}

// ImageService orchestrates the upload/confirm lifecycle, associations and
// deletion. All multi-step mutations run inside a single transaction scoped
// by the shared db helper, so nested repository calls compose atomically.
type ImageService struct {
	db           *sql.DB
	images       domain.ImageRepository
	associations domain.AssociationRepository
	variants     domain.VariantRepository
	generator    *VariantGenerator

	maxUploadBytes int64
	tempTTL        time.Duration
	allowedMime    map[string]bool

	// now is injectable so expiry behavior is testable without sleeping
	now func() time.Time
}

// ConfirmResult echoes the association created by a successful Confirm.
type ConfirmResult struct {
	ImageID    string
	EntityType domain.EntityKind
	EntityID   string
	UsageType  string
	IsPrimary  bool
}

func NewImageService(
	sqlDB *sql.DB,
	images domain.ImageRepository,
	associations domain.AssociationRepository,
	variants domain.VariantRepository,
	generator *VariantGenerator,
	cfg ImageServiceConfig,
) *ImageService {
	maxBytes := cfg.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}

	ttl := cfg.TempTTL
	if ttl <= 0 {
		ttl = DefaultTempTTL
	}

	return &ImageService{
		db:             sqlDB,
		images:         images,
		associations:   associations,
		variants:       variants,
		generator:      generator,
		maxUploadBytes: maxBytes,
		tempTTL:        ttl,
		allowedMime:    defaultAllowedMimeTypes,
		now:            time.Now,
	}
}

// SaveImage validates and persists a permanent image, used by direct
// administrative creation. Pixel dimensions are probed best-effort.
func (s *ImageService) SaveImage(ctx context.Context, content []byte, fileName, mimeType string) (*domain.Image, error) {
	img, err := s.buildImage(content, fileName, mimeType)
	if err != nil {
		return nil, err
	}

	if err := s.images.SaveImage(ctx, img); err != nil {
		return nil, err
	}

	s.triggerStandardVariants(img.ID)

	return img, nil
}

// UploadTemporary persists an image flagged temporary with an expiry of
// now+TTL and queues standard variant generation. The upload's latency is
// bounded by the storage write; variants arrive asynchronously.
func (s *ImageService) UploadTemporary(ctx context.Context, content []byte, fileName, mimeType string) (*domain.Image, error) {
	img, err := s.buildImage(content, fileName, mimeType)
	if err != nil {
		return nil, err
	}

	expiresAt := s.now().Add(s.tempTTL).UTC()
	img.Temporary = true
	img.ExpiresAt = &expiresAt

	if err := s.images.SaveImage(ctx, img); err != nil {
		return nil, err
	}

	log.Info().
		Str("image_id", img.ID).
		Str("mime_type", img.MimeType).
		Int64("bytes", img.ByteSize).
		Time("expires_at", expiresAt).
		Msg("Stored temporary upload")

	s.triggerStandardVariants(img.ID)

	return img, nil
}

// Confirm transitions a temporary upload to permanent and links it to an
// owning entity. The flag clear and the link commit or roll back together;
// a racing Confirm loses with ErrInvalidState.
func (s *ImageService) Confirm(ctx context.Context, imageID string, entityType domain.EntityKind, entityID, usageType string, isPrimary bool) (*ConfirmResult, error) {
	if err := validateSlot(entityType, entityID, usageType); err != nil {
		return nil, err
	}

	err := db.RunInTransaction(ctx, s.db, func(txCtx context.Context) error {
		meta, err := s.images.GetImageMeta(txCtx, imageID)
		if err != nil {
			return err
		}

		if !meta.Temporary {
			return fmt.Errorf("image %s is not a temporary upload: %w", imageID, domain.ErrInvalidState)
		}

		if meta.Expired(s.now()) {
			return fmt.Errorf("image %s expired at %s: %w", imageID, meta.ExpiresAt.Format(time.RFC3339), domain.ErrExpired)
		}

		cleared, err := s.images.ClearTemporary(txCtx, imageID)
		if err != nil {
			return err
		}
		if !cleared {
			// Lost a race with another Confirm between the read and the
			// conditional update
			return fmt.Errorf("image %s: %w", imageID, domain.ErrInvalidState)
		}

		return s.linkInTx(txCtx, imageID, entityType, entityID, usageType, isPrimary)
	})

	if err != nil {
		return nil, err
	}

	log.Info().
		Str("image_id", imageID).
		Str("entity_type", string(entityType)).
		Str("entity_id", entityID).
		Str("usage_type", usageType).
		Bool("is_primary", isPrimary).
		Msg("Confirmed upload")

	return &ConfirmResult{
		ImageID:    imageID,
		EntityType: entityType,
		EntityID:   entityID,
		UsageType:  usageType,
		IsPrimary:  isPrimary,
	}, nil
}

// LinkImageToEntity associates an image with an entity's usage slot. When
// isPrimary is set, the displaced primary is unlinked in the same
// transaction, and its image reaped if that left it orphaned.
func (s *ImageService) LinkImageToEntity(ctx context.Context, imageID string, entityType domain.EntityKind, entityID, usageType string, isPrimary bool) error {
	if err := validateSlot(entityType, entityID, usageType); err != nil {
		return err
	}

	return db.RunInTransaction(ctx, s.db, func(txCtx context.Context) error {
		if _, err := s.images.GetImageMeta(txCtx, imageID); err != nil {
			return err
		}

		return s.linkInTx(txCtx, imageID, entityType, entityID, usageType, isPrimary)
	})
}

// linkInTx performs the primary swap and insert. Must run inside a transaction.
func (s *ImageService) linkInTx(txCtx context.Context, imageID string, entityType domain.EntityKind, entityID, usageType string, isPrimary bool) error {
	if isPrimary {
		displaced, err := s.associations.DeletePrimary(txCtx, entityType, entityID, usageType)
		if err != nil {
			return err
		}

		for _, displacedID := range displaced {
			if displacedID == imageID {
				continue
			}
			if err := s.reapIfOrphaned(txCtx, displacedID); err != nil {
				return err
			}
		}
	}

	return s.associations.Insert(txCtx, &domain.Association{
		ImageID:    imageID,
		EntityType: entityType,
		EntityID:   entityID,
		UsageType:  usageType,
		IsPrimary:  isPrimary,
		CreatedAt:  s.now().UTC(),
	})
}

// UnlinkImageFromEntity removes every association for the slot. Images left
// without any association are deleted in the same transaction, variants
// cascading with them. Returns whether anything was removed.
func (s *ImageService) UnlinkImageFromEntity(ctx context.Context, entityType domain.EntityKind, entityID, usageType string) (bool, error) {
	if err := validateSlot(entityType, entityID, usageType); err != nil {
		return false, err
	}

	removed := false
	err := db.RunInTransaction(ctx, s.db, func(txCtx context.Context) error {
		imageIDs, err := s.associations.DeleteSlot(txCtx, entityType, entityID, usageType)
		if err != nil {
			return err
		}

		removed = len(imageIDs) > 0

		seen := map[string]bool{}
		for _, imageID := range imageIDs {
			if seen[imageID] {
				continue
			}
			seen[imageID] = true

			if err := s.reapIfOrphaned(txCtx, imageID); err != nil {
				return err
			}
		}

		return nil
	})

	if err != nil {
		return false, err
	}

	return removed, nil
}

// reapIfOrphaned deletes the image when no associations remain. The count is
// re-read inside the caller's transaction, so a concurrent link is never
// lost between unlink and the orphan check.
func (s *ImageService) reapIfOrphaned(txCtx context.Context, imageID string) error {
	count, err := s.associations.CountForImage(txCtx, imageID)
	if err != nil {
		return err
	}

	if count > 0 {
		return nil
	}

	if err := s.images.DeleteImage(txCtx, imageID); err != nil {
		return fmt.Errorf("failed to reap orphaned image %s: %w", imageID, err)
	}

	log.Info().Str("image_id", imageID).Msg("Reaped orphaned image")
	return nil
}

// GetImage fetches the image, or one of its stored variants when kind names
// a derived rendering. A variant that is not ready returns ErrNotFound so
// the caller can retry with the original.
func (s *ImageService) GetImage(ctx context.Context, imageID string, kind string) (*domain.Image, error) {
	switch kind {
	case "", "original":
		return s.images.GetImage(ctx, imageID)
	}

	variantKind := domain.VariantKind(kind)
	if _, ok := domain.StandardVariants[variantKind]; !ok {
		return nil, fmt.Errorf("%w: unknown variant kind %q", domain.ErrValidation, kind)
	}

	v, err := s.variants.GetVariant(ctx, imageID, variantKind)
	if err != nil {
		return nil, err
	}

	meta, err := s.images.GetImageMeta(ctx, imageID)
	if err != nil {
		return nil, err
	}

	return &domain.Image{
		ID:       meta.ID,
		FileName: meta.FileName,
		MimeType: variantMimeType(meta.MimeType),
		Content:  v.Content,
		ByteSize: int64(len(v.Content)),
		Width:    &v.Width,
		Height:   &v.Height,
	}, nil
}

// DeleteImage removes a permanent image. Blocked with ErrConflict while
// associations remain; callers must unlink first.
func (s *ImageService) DeleteImage(ctx context.Context, imageID string) error {
	return s.images.DeleteImage(ctx, imageID)
}

// DeleteTemporary removes a still-temporary upload at the caller's request.
// Confirmed or permanent images fail with ErrInvalidState.
func (s *ImageService) DeleteTemporary(ctx context.Context, imageID string) error {
	return db.RunInTransaction(ctx, s.db, func(txCtx context.Context) error {
		meta, err := s.images.GetImageMeta(txCtx, imageID)
		if err != nil {
			return err
		}

		if !meta.Temporary {
			return fmt.Errorf("image %s is not a temporary upload: %w", imageID, domain.ErrInvalidState)
		}

		return s.images.DeleteImage(txCtx, imageID)
	})
}

// GetEntityImages lists the entity's associated images, primary first.
func (s *ImageService) GetEntityImages(ctx context.Context, entityType domain.EntityKind, entityID string, usageType *string) ([]domain.EntityImage, error) {
	if !entityType.Valid() {
		return nil, fmt.Errorf("%w: unknown entity type %q", domain.ErrValidation, entityType)
	}
	if entityID == "" {
		return nil, fmt.Errorf("%w: entity ID cannot be empty", domain.ErrValidation)
	}

	return s.associations.ListForEntity(ctx, entityType, entityID, usageType)
}

// RegenerateVariant queues a fresh generation for one kind, overwriting any
// stored rendering.
func (s *ImageService) RegenerateVariant(imageID string, kind domain.VariantKind) error {
	spec, ok := domain.StandardVariants[kind]
	if !ok {
		return fmt.Errorf("%w: unknown variant kind %q", domain.ErrValidation, kind)
	}

	s.generator.Submit(imageID, kind, spec)
	return nil
}

func (s *ImageService) buildImage(content []byte, fileName, mimeType string) (*domain.Image, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: image payload cannot be empty", domain.ErrValidation)
	}

	if int64(len(content)) > s.maxUploadBytes {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds limit of %d", domain.ErrValidation, len(content), s.maxUploadBytes)
	}

	if !s.allowedMime[mimeType] {
		return nil, fmt.Errorf("%w: mime type %q is not allowed", domain.ErrValidation, mimeType)
	}

	if fileName == "" {
		return nil, fmt.Errorf("%w: file name cannot be empty", domain.ErrValidation)
	}

	img := &domain.Image{
		ID:        uuid.NewString(),
		FileName:  fileName,
		MimeType:  mimeType,
		Content:   content,
		ByteSize:  int64(len(content)),
		CreatedAt: s.now().UTC(),
	}

	// Dimension probing is best-effort; vector and undecodable payloads
	// simply have no pixel size
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(content)); err == nil {
		img.Width = &cfg.Width
		img.Height = &cfg.Height
	}

	return img, nil
}

func (s *ImageService) triggerStandardVariants(imageID string) {
	if s.generator == nil {
		return
	}

	for kind, spec := range domain.StandardVariants {
		s.generator.Submit(imageID, kind, spec)
	}
}

func validateSlot(entityType domain.EntityKind, entityID, usageType string) error {
	if !entityType.Valid() {
		return fmt.Errorf("%w: unknown entity type %q", domain.ErrValidation, entityType)
	}
	if entityID == "" {
		return fmt.Errorf("%w: entity ID cannot be empty", domain.ErrValidation)
	}
	if usageType == "" {
		return fmt.Errorf("%w: usage type cannot be empty", domain.ErrValidation)
	}
	if !entityType.AllowsUsage(usageType) {
		return fmt.Errorf("%w: usage type %q is not allowed for %s entities", domain.ErrValidation, usageType, entityType)
	}
	return nil
}

// variantMimeType is the MIME type a generated variant is encoded with;
// JPEG sources re-encode as JPEG, everything else as PNG.
func variantMimeType(sourceMime string) string {
	if sourceMime == "image/jpeg" {
		return "image/jpeg"
	}
	return "image/png"
}

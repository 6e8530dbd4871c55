package application

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"imagevault/images/domain"
	"imagevault/images/persistence"
	"imagevault/shared/db/sqlite"

	_ "modernc.org/sqlite"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if _, err := sqlDB.Exec("PRAGMA foreign_keys=ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}

	if err := sqlite.RunMigrations(sqlDB); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return sqlDB
}

func setupService(t *testing.T) (*ImageService, *sql.DB) {
	t.Helper()

	sqlDB := setupTestDB(t)
	t.Cleanup(func() { sqlDB.Close() })

	imageRepo := persistence.NewImageRepository(sqlDB)
	variantRepo := persistence.NewVariantRepository(sqlDB)
	associationRepo := persistence.NewAssociationRepository(sqlDB)

	service := NewImageService(sqlDB, imageRepo, associationRepo, variantRepo, nil, ImageServiceConfig{})
	return service, sqlDB
}

// makeJPEG encodes a solid-color image of the given size.
func makeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func TestUploadTemporary(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()

	content := makeJPEG(t, 100, 80)
	before := time.Now()

	img, err := service.UploadTemporary(ctx, content, "photo.jpg", "image/jpeg")
	if err != nil {
		t.Fatalf("UploadTemporary failed: %v", err)
	}

	if !img.Temporary {
		t.Error("Upload should be flagged temporary")
	}
	if img.ExpiresAt == nil {
		t.Fatal("Upload should carry an expiry")
	}

	wantExpiry := before.Add(DefaultTempTTL)
	if diff := img.ExpiresAt.Sub(wantExpiry); diff < -time.Minute || diff > time.Minute {
		t.Errorf("ExpiresAt = %v, want ~%v", img.ExpiresAt, wantExpiry)
	}

	if img.Width == nil || *img.Width != 100 || img.Height == nil || *img.Height != 80 {
		t.Errorf("Probed dimensions = %vx%v, want 100x80", img.Width, img.Height)
	}

	// Round trip through storage
	retrieved, err := service.GetImage(ctx, img.ID, "")
	if err != nil {
		t.Fatalf("GetImage failed: %v", err)
	}
	if !bytes.Equal(retrieved.Content, content) {
		t.Error("Stored content does not match uploaded bytes")
	}
}

func TestUploadTemporary_Validation(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		content  []byte
		fileName string
		mimeType string
	}{
		{"empty payload", nil, "a.jpg", "image/jpeg"},
		{"disallowed mime type", []byte("data"), "a.pdf", "application/pdf"},
		{"missing file name", []byte("data"), "", "image/jpeg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.UploadTemporary(ctx, tt.content, tt.fileName, tt.mimeType)
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("Expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestUploadTemporary_SizeLimit(t *testing.T) {
	sqlDB := setupTestDB(t)
	defer sqlDB.Close()

	imageRepo := persistence.NewImageRepository(sqlDB)
	variantRepo := persistence.NewVariantRepository(sqlDB)
	associationRepo := persistence.NewAssociationRepository(sqlDB)

	service := NewImageService(sqlDB, imageRepo, associationRepo, variantRepo, nil, ImageServiceConfig{
		MaxUploadBytes: 10,
	})

	_, err := service.UploadTemporary(context.Background(), []byte("this payload is too large"), "a.jpg", "image/jpeg")
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("Expected ErrValidation for oversize payload, got %v", err)
	}
}

func TestConfirm(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()

	img, err := service.UploadTemporary(ctx, makeJPEG(t, 10, 10), "logo.jpg", "image/jpeg")
	if err != nil {
		t.Fatalf("UploadTemporary failed: %v", err)
	}

	result, err := service.Confirm(ctx, img.ID, domain.EntityWorkflow, "wf-1", "logo", true)
	if err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if result.ImageID != img.ID || !result.IsPrimary {
		t.Errorf("Unexpected confirm result: %+v", result)
	}

	// Flag cleared and expiry removed
	retrieved, err := service.GetImage(ctx, img.ID, "")
	if err != nil {
		t.Fatalf("GetImage failed: %v", err)
	}
	if retrieved.Temporary {
		t.Error("Confirmed image should not be temporary")
	}
	if retrieved.ExpiresAt != nil {
		t.Error("Confirmed image should have no expiry")
	}

	// Association visible through the listing
	images, err := service.GetEntityImages(ctx, domain.EntityWorkflow, "wf-1", nil)
	if err != nil {
		t.Fatalf("GetEntityImages failed: %v", err)
	}
	if len(images) != 1 || images[0].ImageID != img.ID || !images[0].IsPrimary {
		t.Errorf("Expected single primary association, got %+v", images)
	}
}

func TestConfirm_NotFound(t *testing.T) {
	service, _ := setupService(t)

	_, err := service.Confirm(context.Background(), "nonexistent", domain.EntityWorkflow, "wf-1", "logo", false)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestConfirm_Twice(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()

	img, err := service.UploadTemporary(ctx, makeJPEG(t, 10, 10), "logo.jpg", "image/jpeg")
	if err != nil {
		t.Fatalf("UploadTemporary failed: %v", err)
	}

	if _, err := service.Confirm(ctx, img.ID, domain.EntityWorkflow, "wf-1", "logo", true); err != nil {
		t.Fatalf("First confirm failed: %v", err)
	}

	_, err = service.Confirm(ctx, img.ID, domain.EntityWorkflow, "wf-1", "banner", true)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState for second confirm, got %v", err)
	}
}

func TestConfirm_Expired(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()

	img, err := service.UploadTemporary(ctx, makeJPEG(t, 10, 10), "logo.jpg", "image/jpeg")
	if err != nil {
		t.Fatalf("UploadTemporary failed: %v", err)
	}

	// Move the clock past the TTL
	service.now = func() time.Time { return time.Now().Add(DefaultTempTTL + time.Hour) }

	_, err = service.Confirm(ctx, img.ID, domain.EntityWorkflow, "wf-1", "logo", true)
	if !errors.Is(err, domain.ErrExpired) {
		t.Errorf("Expected ErrExpired, got %v", err)
	}

	// A failed confirm leaves the upload untouched
	retrieved, err := service.GetImage(ctx, img.ID, "")
	if err != nil {
		t.Fatalf("GetImage failed: %v", err)
	}
	if !retrieved.Temporary || retrieved.ExpiresAt == nil {
		t.Error("Failed confirm should not mutate the upload")
	}

	images, err := service.GetEntityImages(ctx, domain.EntityWorkflow, "wf-1", nil)
	if err != nil {
		t.Fatalf("GetEntityImages failed: %v", err)
	}
	if len(images) != 0 {
		t.Errorf("Failed confirm should create no associations, got %+v", images)
	}
}

func TestConfirm_InvalidSlot(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()

	img, err := service.UploadTemporary(ctx, makeJPEG(t, 10, 10), "logo.jpg", "image/jpeg")
	if err != nil {
		t.Fatalf("UploadTemporary failed: %v", err)
	}

	tests := []struct {
		name       string
		entityType domain.EntityKind
		entityID   string
		usageType  string
	}{
		{"unknown entity type", "team", "t-1", "logo"},
		{"empty entity ID", domain.EntityWorkflow, "", "logo"},
		{"empty usage type", domain.EntityWorkflow, "wf-1", ""},
		{"usage not allowed for kind", domain.EntityAuthor, "a-1", "logo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Confirm(ctx, img.ID, tt.entityType, tt.entityID, tt.usageType, false)
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("Expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestLinkImageToEntity_PrimarySwap(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()

	first, err := service.UploadTemporary(ctx, makeJPEG(t, 10, 10), "a.jpg", "image/jpeg")
	if err != nil {
		t.Fatalf("UploadTemporary failed: %v", err)
	}
	if _, err := service.Confirm(ctx, first.ID, domain.EntityWorkflow, "wf-1", "logo", true); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}

	second, err := service.SaveImage(ctx, makeJPEG(t, 10, 10), "b.jpg", "image/jpeg")
	if err != nil {
		t.Fatalf("SaveImage failed: %v", err)
	}

	// Linking a new primary displaces the old one atomically
	if err := service.LinkImageToEntity(ctx, second.ID, domain.EntityWorkflow, "wf-1", "logo", true); err != nil {
		t.Fatalf("LinkImageToEntity failed: %v", err)
	}

	images, err := service.GetEntityImages(ctx, domain.EntityWorkflow, "wf-1", nil)
	if err != nil {
		t.Fatalf("GetEntityImages failed: %v", err)
	}
	if len(images) != 1 || images[0].ImageID != second.ID || !images[0].IsPrimary {
		t.Errorf("Expected %s as sole primary, got %+v", second.ID, images)
	}

	// The displaced image had no other associations, so it was reaped
	_, err = service.GetImage(ctx, first.ID, "")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected displaced orphan to be deleted, got %v", err)
	}
}

func TestLinkImageToEntity_DisplacedImageSurvivesWhenStillLinked(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()

	first, err := service.SaveImage(ctx, makeJPEG(t, 10, 10), "a.jpg", "image/jpeg")
	if err != nil {
		t.Fatalf("SaveImage failed: %v", err)
	}
	second, err := service.SaveImage(ctx, makeJPEG(t, 10, 10), "b.jpg", "image/jpeg")
	if err != nil {
		t.Fatalf("SaveImage failed: %v", err)
	}

	// First image holds two slots; displacing it from one must not delete it
	if err := service.LinkImageToEntity(ctx, first.ID, domain.EntityWorkflow, "wf-1", "logo", true); err != nil {
		t.Fatalf("LinkImageToEntity failed: %v", err)
	}
	if err := service.LinkImageToEntity(ctx, first.ID, domain.EntityWorkflow, "wf-1", "banner", true); err != nil {
		t.Fatalf("LinkImageToEntity failed: %v", err)
	}

	if err := service.LinkImageToEntity(ctx, second.ID, domain.EntityWorkflow, "wf-1", "logo", true); err != nil {
		t.Fatalf("LinkImageToEntity failed: %v", err)
	}

	if _, err := service.GetImage(ctx, first.ID, ""); err != nil {
		t.Errorf("Image with a remaining association should survive: %v", err)
	}
}

func TestLinkImageToEntity_SamePrimaryRelink(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()

	img, err := service.SaveImage(ctx, makeJPEG(t, 10, 10), "a.jpg", "image/jpeg")
	if err != nil {
		t.Fatalf("SaveImage failed: %v", err)
	}

	if err := service.LinkImageToEntity(ctx, img.ID, domain.EntityWorkflow, "wf-1", "logo", true); err != nil {
		t.Fatalf("LinkImageToEntity failed: %v", err)
	}

	// Re-linking the same image as primary must not reap it
	if err := service.LinkImageToEntity(ctx, img.ID, domain.EntityWorkflow, "wf-1", "logo", true); err != nil {
		t.Fatalf("Relink failed: %v", err)
	}

	if _, err := service.GetImage(ctx, img.ID, ""); err != nil {
		t.Errorf("Relinked image should survive: %v", err)
	}
}

func TestLinkImageToEntity_NotFound(t *testing.T) {
	service, _ := setupService(t)

	err := service.LinkImageToEntity(context.Background(), "nonexistent", domain.EntityWorkflow, "wf-1", "logo", false)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestUnlinkImageFromEntity(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()

	img, err := service.UploadTemporary(ctx, makeJPEG(t, 10, 10), "a.jpg", "image/jpeg")
	if err != nil {
		t.Fatalf("UploadTemporary failed: %v", err)
	}
	if _, err := service.Confirm(ctx, img.ID, domain.EntityWorkflow, "wf-1", "logo", true); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}

	removed, err := service.UnlinkImageFromEntity(ctx, domain.EntityWorkflow, "wf-1", "logo")
	if err != nil {
		t.Fatalf("UnlinkImageFromEntity failed: %v", err)
	}
	if !removed {
		t.Error("Expected associations to be removed")
	}

	// The orphan and its variants go with the association
	_, err = service.GetImage(ctx, img.ID, "")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected orphan to be deleted, got %v", err)
	}

	// Unlinking an empty slot reports nothing removed
	removed, err = service.UnlinkImageFromEntity(ctx, domain.EntityWorkflow, "wf-1", "logo")
	if err != nil {
		t.Fatalf("Second unlink failed: %v", err)
	}
	if removed {
		t.Error("Expected nothing to be removed from an empty slot")
	}
}

func TestUnlinkImageFromEntity_SharedImageSurvives(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()

	img, err := service.SaveImage(ctx, makeJPEG(t, 10, 10), "a.jpg", "image/jpeg")
	if err != nil {
		t.Fatalf("SaveImage failed: %v", err)
	}

	if err := service.LinkImageToEntity(ctx, img.ID, domain.EntityWorkflow, "wf-1", "logo", true); err != nil {
		t.Fatalf("LinkImageToEntity failed: %v", err)
	}
	if err := service.LinkImageToEntity(ctx, img.ID, domain.EntityWorkflow, "wf-2", "logo", true); err != nil {
		t.Fatalf("LinkImageToEntity failed: %v", err)
	}

	if _, err := service.UnlinkImageFromEntity(ctx, domain.EntityWorkflow, "wf-1", "logo"); err != nil {
		t.Fatalf("UnlinkImageFromEntity failed: %v", err)
	}

	if _, err := service.GetImage(ctx, img.ID, ""); err != nil {
		t.Errorf("Image linked elsewhere should survive unlink: %v", err)
	}
}

func TestDeleteImage_BlockedByAssociation(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()

	img, err := service.SaveImage(ctx, makeJPEG(t, 10, 10), "a.jpg", "image/jpeg")
	if err != nil {
		t.Fatalf("SaveImage failed: %v", err)
	}
	if err := service.LinkImageToEntity(ctx, img.ID, domain.EntityWorkflow, "wf-1", "logo", false); err != nil {
		t.Fatalf("LinkImageToEntity failed: %v", err)
	}

	err = service.DeleteImage(ctx, img.ID)
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("Expected ErrConflict, got %v", err)
	}
}

func TestDeleteTemporary(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()

	img, err := service.UploadTemporary(ctx, makeJPEG(t, 10, 10), "a.jpg", "image/jpeg")
	if err != nil {
		t.Fatalf("UploadTemporary failed: %v", err)
	}

	if err := service.DeleteTemporary(ctx, img.ID); err != nil {
		t.Fatalf("DeleteTemporary failed: %v", err)
	}

	_, err = service.GetImage(ctx, img.ID, "")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestDeleteTemporary_Confirmed(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()

	img, err := service.UploadTemporary(ctx, makeJPEG(t, 10, 10), "a.jpg", "image/jpeg")
	if err != nil {
		t.Fatalf("UploadTemporary failed: %v", err)
	}
	if _, err := service.Confirm(ctx, img.ID, domain.EntityWorkflow, "wf-1", "logo", true); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}

	err = service.DeleteTemporary(ctx, img.ID)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState, got %v", err)
	}
}

func TestGetImage_UnknownVariantKind(t *testing.T) {
	service, _ := setupService(t)

	_, err := service.GetImage(context.Background(), "img-1", "gigantic")
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}
}

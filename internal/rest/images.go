package rest

import (
	"errors"
	"io"
	"net/http"
	"time"

	"imagevault/images/application"
	"imagevault/images/domain"

	"github.com/gin-gonic/gin"
)

type ImagesHandler struct {
	service *application.ImageService
	cleanup *application.CleanupService
}

func NewImagesHandler(service *application.ImageService, cleanup *application.CleanupService) *ImagesHandler {
	return &ImagesHandler{
		service: service,
		cleanup: cleanup,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type uploadResponse struct {
	ImageID   string    `json:"image_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type associationRequest struct {
	ImageID    string `json:"image_id"`
	EntityType string `json:"entity_type" binding:"required"`
	EntityID   string `json:"entity_id" binding:"required"`
	UsageType  string `json:"usage_type" binding:"required"`
	IsPrimary  bool   `json:"is_primary"`
}

type confirmResponse struct {
	ImageID    string `json:"image_id"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	UsageType  string `json:"usage_type"`
	IsPrimary  bool   `json:"is_primary"`
}

type entityImageResponse struct {
	ImageID   string `json:"image_id"`
	UsageType string `json:"usage_type"`
	IsPrimary bool   `json:"is_primary"`
	MimeType  string `json:"mime_type"`
	ByteSize  int64  `json:"byte_size"`
	Width     *int   `json:"width,omitempty"`
	Height    *int   `json:"height,omitempty"`
}

// UploadTemporary accepts a multipart image upload and stores it as a
// temporary record awaiting confirmation.
func (h *ImagesHandler) UploadTemporary(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "missing image file field"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "failed to open uploaded file"})
		return
	}
	defer src.Close()

	content, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "failed to read uploaded file"})
		return
	}

	mimeType := file.Header.Get("Content-Type")

	img, err := h.service.UploadTemporary(c.Request.Context(), content, file.Filename, mimeType)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, uploadResponse{
		ImageID:   img.ID,
		ExpiresAt: *img.ExpiresAt,
	})
}

// Confirm promotes a temporary upload to permanent and links it to an entity.
func (h *ImagesHandler) Confirm(c *gin.Context) {
	imageID := c.Param("imageId")

	var req associationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	result, err := h.service.Confirm(c.Request.Context(), imageID,
		domain.EntityKind(req.EntityType), req.EntityID, req.UsageType, req.IsPrimary)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, confirmResponse{
		ImageID:    result.ImageID,
		EntityType: string(result.EntityType),
		EntityID:   result.EntityID,
		UsageType:  result.UsageType,
		IsPrimary:  result.IsPrimary,
	})
}

// DeleteTemporary removes a not-yet-confirmed upload.
func (h *ImagesHandler) DeleteTemporary(c *gin.Context) {
	if err := h.service.DeleteTemporary(c.Request.Context(), c.Param("imageId")); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetImage serves the original bytes, or a variant when ?variant= names one.
// A variant that is not ready returns 404; callers retry with the original.
func (h *ImagesHandler) GetImage(c *gin.Context) {
	img, err := h.service.GetImage(c.Request.Context(), c.Param("imageId"), c.Query("variant"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Disposition", `inline; filename="`+img.FileName+`"`)
	c.Data(http.StatusOK, img.MimeType, img.Content)
}

// DeleteImage removes a permanent image with no remaining associations.
func (h *ImagesHandler) DeleteImage(c *gin.Context) {
	if err := h.service.DeleteImage(c.Request.Context(), c.Param("imageId")); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// RegenerateVariant queues a fresh rendering of one variant kind.
func (h *ImagesHandler) RegenerateVariant(c *gin.Context) {
	err := h.service.RegenerateVariant(c.Param("imageId"), domain.VariantKind(c.Param("kind")))
	if err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusAccepted)
}

// Link associates an existing image with an entity's usage slot.
func (h *ImagesHandler) Link(c *gin.Context) {
	var req associationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if req.ImageID == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "image_id is required"})
		return
	}

	err := h.service.LinkImageToEntity(c.Request.Context(), req.ImageID,
		domain.EntityKind(req.EntityType), req.EntityID, req.UsageType, req.IsPrimary)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Unlink removes every association for a slot, reaping orphaned images.
func (h *ImagesHandler) Unlink(c *gin.Context) {
	entityType := c.Query("entity_type")
	entityID := c.Query("entity_id")
	usageType := c.Query("usage_type")

	deleted, err := h.service.UnlinkImageFromEntity(c.Request.Context(),
		domain.EntityKind(entityType), entityID, usageType)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// GetEntityImages lists an entity's images, primary first.
func (h *ImagesHandler) GetEntityImages(c *gin.Context) {
	var usageType *string
	if v := c.Query("usage_type"); v != "" {
		usageType = &v
	}

	images, err := h.service.GetEntityImages(c.Request.Context(),
		domain.EntityKind(c.Param("entityType")), c.Param("entityId"), usageType)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]entityImageResponse, 0, len(images))
	for _, img := range images {
		out = append(out, entityImageResponse{
			ImageID:   img.ImageID,
			UsageType: img.UsageType,
			IsPrimary: img.IsPrimary,
			MimeType:  img.MimeType,
			ByteSize:  img.ByteSize,
			Width:     img.Width,
			Height:    img.Height,
		})
	}

	c.JSON(http.StatusOK, out)
}

// Sweep runs an on-demand cleanup pass.
func (h *ImagesHandler) Sweep(c *gin.Context) {
	result, err := h.cleanup.Sweep(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	sweepErrors := make([]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		sweepErrors = append(sweepErrors, e.ImageID+": "+e.Err.Error())
	}

	c.JSON(http.StatusOK, gin.H{
		"total_expired": result.TotalExpired,
		"deleted_count": result.DeletedCount,
		"errors":        sweepErrors,
	})
}

// Stats reports the temporary-upload population.
func (h *ImagesHandler) Stats(c *gin.Context) {
	stats, err := h.cleanup.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total_temp_images": stats.TotalTempImages,
		"expired_count":     stats.ExpiredCount,
		"active_count":      stats.ActiveCount,
		"soon_expiring":     stats.SoonExpiring,
	})
}

// respondError maps the engine's sentinel errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrExpired):
		status = http.StatusGone
	case errors.Is(err, domain.ErrInvalidState):
		status = http.StatusUnprocessableEntity
	}

	c.JSON(status, errorResponse{Error: err.Error()})
}

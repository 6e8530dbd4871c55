package rest

import (
	"imagevault/images/application"

	"github.com/gin-gonic/gin"
)

// NewApi registers the engine's collaborator-facing routes.
// Authentication is the caller's concern and is not wired here.
func NewApi(router *gin.Engine, service *application.ImageService, cleanup *application.CleanupService) {
	h := NewImagesHandler(service, cleanup)

	imagesV1 := router.Group("images/v1")
	{
		imagesV1.POST("/uploads", h.UploadTemporary)
		imagesV1.POST("/uploads/:imageId/confirm", h.Confirm)
		imagesV1.DELETE("/uploads/:imageId", h.DeleteTemporary)

		imagesV1.GET("/images/:imageId", h.GetImage)
		imagesV1.DELETE("/images/:imageId", h.DeleteImage)
		imagesV1.POST("/images/:imageId/variants/:kind", h.RegenerateVariant)

		imagesV1.POST("/associations", h.Link)
		imagesV1.DELETE("/associations", h.Unlink)

		imagesV1.GET("/entities/:entityType/:entityId", h.GetEntityImages)

		imagesV1.POST("/admin/sweep", h.Sweep)
		imagesV1.GET("/admin/stats", h.Stats)
	}
}

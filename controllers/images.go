package controllers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"closetapi/models"
	"closetapi/services"
	"closetapi/tasks"
	"closetapi/vectorindex"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

type WardrobeController struct {
	AWSService services.AWSServiceProvider
	URLCache   services.URLCacheServiceProvider
}

func (controller *WardrobeController) WardrobeRoutes(g *echo.Group) {
	g.POST("/images", controller.CreateWardrobeImage)
	g.POST("/images/:id/uploaded", controller.MarkWardrobeImageUploaded)
	g.GET("/images", controller.ListWardrobeImages)
	g.DELETE("/images/:id", controller.DeleteWardrobeImage)
}

func (controller *WardrobeController) CreateWardrobeImage(c echo.Context) error {
	var req models.WardrobeImageIn
	if err := c.Bind(&req); err != nil {
		fmt.Println(err)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	user, ok := c.Get("currentUser").(models.UserAccount)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	db, ok := c.Get("__db").(*gorm.DB)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Database connection error"})
	}

	objectName := fmt.Sprintf("images/%s", strings.ReplaceAll(uuid.New().String(), "-", ""))
	image := models.WardrobeImage{
		Name:               req.Name,
		OwnerID:            user.ID,
		ObjectName:         objectName,
		ImageStatus:        "draft",
		ProcessingStatus:   "idle",
		AlertWhenProcessed: req.AlertWhenProcessed,
	}

	var bucketName = services.GetEnv("R2_BUCKET_NAME", "")
	uploadUrl, presignErr := controller.AWSService.PresignLink(context.Background(), bucketName, objectName)
	if presignErr != nil {
		log.Printf("Unable to presign upload for %s!, %s", image.Name, presignErr)
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"message": "Error while creating wardrobe image",
		})
	}

	if err := db.Create(&image).Error; err != nil {
		sentry.CaptureException(err)
		return err
	}

	return c.JSON(http.StatusCreated, models.WardrobeImageUploadOut{
		Id:        image.ID,
		UploadUrl: uploadUrl,
	})
}

func (controller *WardrobeController) MarkWardrobeImageUploaded(c echo.Context) error {
	user, ok := c.Get("currentUser").(models.UserAccount)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	db, ok := c.Get("__db").(*gorm.DB)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Database connection error"})
	}
	asynqClient, ok := c.Get("__asynqclient").(*asynq.Client)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Service is not available, please try again a bit later"})
	}

	imageId, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid image id"})
	}

	var image models.WardrobeImage
	r := db.Where("id = ? and owner_id = ?", imageId, user.ID).Limit(1).Find(&image)
	if r.Error != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to fetch wardrobe image"})
	}
	if r.RowsAffected == 0 {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Wardrobe image not found"})
	}
	if image.ImageStatus == "uploaded" && image.ProcessingStatus != "failed" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Image is already uploaded"})
	}

	image.ImageStatus = "uploaded"
	image.ProcessingStatus = "idle"
	image.ProcessRetryTimes = 0
	image.ProcessErrorMsg = nil
	if err := db.Save(&image).Error; err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Failed to update image status, please try again"})
	}

	task, err := tasks.NewWardrobeImageProcessingTask(image.ID)
	if err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Sorry, could not process image, please try again"})
	}
	info, err := asynqClient.Enqueue(task, asynq.MaxRetry(3), asynq.Queue("process"))
	if err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Sorry, could not process image, please try again"})
	}
	fmt.Println("[Queue] Process wardrobe image task submitted, Image ID: ", image.ID, " Task ID: ", info.ID)

	return c.JSON(http.StatusOK, echo.Map{
		"id":                image.ID,
		"image_status":      image.ImageStatus,
		"processing_status": image.ProcessingStatus,
	})
}

// populatePresignedImageURLs enriches wardrobe image rows with presigned read URLs concurrently.
// When the cache layer itself fails it falls back to a direct presign call.
func (controller *WardrobeController) populatePresignedImageURLs(ctx context.Context, images []models.WardrobeImage) []models.WardrobeImageOut {
	if len(images) == 0 {
		return []models.WardrobeImageOut{}
	}

	var wg sync.WaitGroup
	processed := make([]models.WardrobeImageOut, len(images))
	bucketName := services.GetEnv("R2_BUCKET_NAME", "")

	for i, imageItem := range images {
		wg.Add(1)
		go func(index int, item models.WardrobeImage) {
			defer wg.Done()

			resolve := func(objectKey string) string {
				if objectKey == "" {
					return ""
				}
				url, err := controller.URLCache.GetReadURL(ctx, objectKey)
				if err == nil {
					return url
				}
				log.Printf("CACHE WARNING: Cache system failed for key '%s': %v. Triggering manual R2 fallback.", objectKey, err)
				sentry.WithScope(func(scope *sentry.Scope) {
					scope.SetTag("failure_type", "cache_system")
					scope.SetExtra("objectKey", objectKey)
					sentry.CaptureException(err)
				})
				fallbackUrl, fallbackErr := controller.AWSService.GetPresignedR2FileReadURL(ctx, bucketName, objectKey)
				if fallbackErr != nil {
					log.Printf("CRITICAL: Manual R2 fallback also failed for key '%s': %v", objectKey, fallbackErr)
					sentry.CaptureException(fallbackErr)
					return ""
				}
				return fallbackUrl
			}

			imageUrl := resolve(item.ObjectName)
			var thumbnailUrl string
			if item.ThumbnailObjectKey != nil {
				thumbnailUrl = resolve(*item.ThumbnailObjectKey)
			}
			processed[index] = models.WardrobeImageOut{
				Id:               item.ID,
				Name:             item.Name,
				ClothingType:     item.ClothingType,
				ImageStatus:      item.ImageStatus,
				ProcessingStatus: item.ProcessingStatus,
				ImageURL:         NilString(imageUrl),
				ThumbnailURL:     NilString(thumbnailUrl),
			}
		}(i, imageItem)
	}

	wg.Wait()
	return processed
}

func (controller *WardrobeController) ListWardrobeImages(c echo.Context) error {
	user, ok := c.Get("currentUser").(models.UserAccount)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	db, ok := c.Get("__db").(*gorm.DB)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Database connection error"})
	}

	var images []models.WardrobeImage
	if err := db.Where("owner_id = ?", user.ID).Order("id desc").Find(&images).Error; err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to fetch wardrobe images"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"images": controller.populatePresignedImageURLs(c.Request().Context(), images),
	})
}

func (controller *WardrobeController) DeleteWardrobeImage(c echo.Context) error {
	user, ok := c.Get("currentUser").(models.UserAccount)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	db, ok := c.Get("__db").(*gorm.DB)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Database connection error"})
	}
	asynqClient, ok := c.Get("__asynqclient").(*asynq.Client)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Service is not available, please try again a bit later"})
	}

	imageId, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid image id"})
	}

	var image models.WardrobeImage
	r := db.Where("id = ? and owner_id = ?", imageId, user.ID).Limit(1).Find(&image)
	if r.Error != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to fetch wardrobe image"})
	}
	if r.RowsAffected == 0 {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Wardrobe image not found"})
	}

	if err := db.Delete(&image).Error; err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to delete wardrobe image"})
	}

	// objects and points are purged in the background, the record is gone either way
	objectNames := []string{image.ObjectName}
	if image.ThumbnailObjectKey != nil {
		objectNames = append(objectNames, *image.ThumbnailObjectKey)
	}
	task, err := tasks.NewIndexPurgeTask(vectorindex.CollectionWardrobeItems, image.PointIDs, objectNames)
	if err != nil {
		sentry.CaptureException(err)
	} else if info, err := asynqClient.Enqueue(task, asynq.MaxRetry(3), asynq.Queue("process")); err != nil {
		sentry.CaptureException(err)
	} else {
		fmt.Println("[Queue] Purge index task submitted, Image ID: ", image.ID, " Task ID: ", info.ID)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"message": "deleted",
	})
}

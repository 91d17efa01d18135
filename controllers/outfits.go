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

type OutfitsController struct {
	AWSService services.AWSServiceProvider
	URLCache   services.URLCacheServiceProvider
}

func (controller *OutfitsController) OutfitRoutes(g *echo.Group) {
	g.POST("", controller.CreateOutfit)
	g.POST("/:id/uploaded", controller.MarkOutfitUploaded)
	g.GET("", controller.ListOutfits)
	g.GET("/:id", controller.GetOutfit)
	g.DELETE("/:id", controller.DeleteOutfit)
}

func (controller *OutfitsController) CreateOutfit(c echo.Context) error {
	var req models.OutfitIn
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

	objectName := fmt.Sprintf("outfits/%s", strings.ReplaceAll(uuid.New().String(), "-", ""))
	outfit := models.Outfit{
		Name:             req.Name,
		Description:      req.Description,
		OwnerID:          user.ID,
		ObjectName:       objectName,
		ImageStatus:      "draft",
		ProcessingStatus: "idle",
	}

	var bucketName = services.GetEnv("R2_BUCKET_NAME", "")
	uploadUrl, presignErr := controller.AWSService.PresignLink(context.Background(), bucketName, objectName)
	if presignErr != nil {
		log.Printf("Unable to presign upload for %s!, %s", outfit.Name, presignErr)
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"message": "Error while creating outfit",
		})
	}

	if err := db.Create(&outfit).Error; err != nil {
		sentry.CaptureException(err)
		return err
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"id":         outfit.ID,
		"upload_url": uploadUrl,
	})
}

func (controller *OutfitsController) MarkOutfitUploaded(c echo.Context) error {
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

	outfitId, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid outfit id"})
	}

	var outfit models.Outfit
	r := db.Where("id = ? and owner_id = ?", outfitId, user.ID).Limit(1).Find(&outfit)
	if r.Error != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to fetch outfit"})
	}
	if r.RowsAffected == 0 {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Outfit not found"})
	}
	if outfit.ImageStatus == "uploaded" && outfit.ProcessingStatus != "failed" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Outfit image is already uploaded"})
	}

	outfit.ImageStatus = "uploaded"
	outfit.ProcessingStatus = "idle"
	outfit.ProcessErrorMsg = nil
	if err := db.Save(&outfit).Error; err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Failed to update outfit status, please try again"})
	}

	task, err := tasks.NewOutfitProcessingTask(outfit.ID)
	if err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Sorry, could not process outfit, please try again"})
	}
	info, err := asynqClient.Enqueue(task, asynq.MaxRetry(3), asynq.Queue("process"))
	if err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Sorry, could not process outfit, please try again"})
	}
	fmt.Println("[Queue] Process outfit task submitted, Outfit ID: ", outfit.ID, " Task ID: ", info.ID)

	return c.JSON(http.StatusOK, echo.Map{
		"id":                outfit.ID,
		"image_status":      outfit.ImageStatus,
		"processing_status": outfit.ProcessingStatus,
	})
}

func (controller *OutfitsController) populatePresignedOutfitURLs(ctx context.Context, outfits []models.Outfit) []models.OutfitOut {
	if len(outfits) == 0 {
		return []models.OutfitOut{}
	}

	var wg sync.WaitGroup
	processed := make([]models.OutfitOut, len(outfits))
	bucketName := services.GetEnv("R2_BUCKET_NAME", "")

	for i, outfitItem := range outfits {
		wg.Add(1)
		go func(index int, item models.Outfit) {
			defer wg.Done()

			var imageUrl string
			if item.ObjectName != "" {
				url, err := controller.URLCache.GetReadURL(ctx, item.ObjectName)
				if err == nil {
					imageUrl = url
				} else {
					log.Printf("CACHE WARNING: Cache system failed for key '%s': %v. Triggering manual R2 fallback.", item.ObjectName, err)
					sentry.WithScope(func(scope *sentry.Scope) {
						scope.SetTag("failure_type", "cache_system")
						scope.SetExtra("objectKey", item.ObjectName)
						sentry.CaptureException(err)
					})
					fallbackUrl, fallbackErr := controller.AWSService.GetPresignedR2FileReadURL(ctx, bucketName, item.ObjectName)
					if fallbackErr != nil {
						log.Printf("CRITICAL: Manual R2 fallback also failed for key '%s': %v", item.ObjectName, fallbackErr)
						sentry.CaptureException(fallbackErr)
					} else {
						imageUrl = fallbackUrl
					}
				}
			}
			processed[index] = models.OutfitOut{
				Id:               item.ID,
				Name:             item.Name,
				Description:      item.Description,
				ImageStatus:      item.ImageStatus,
				ProcessingStatus: item.ProcessingStatus,
				ImageURL:         NilString(imageUrl),
				ItemCount:        len(item.ItemPointIDs),
			}
		}(i, outfitItem)
	}

	wg.Wait()
	return processed
}

func (controller *OutfitsController) ListOutfits(c echo.Context) error {
	user, ok := c.Get("currentUser").(models.UserAccount)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	db, ok := c.Get("__db").(*gorm.DB)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Database connection error"})
	}

	var outfits []models.Outfit
	if err := db.Where("owner_id = ?", user.ID).Order("id desc").Find(&outfits).Error; err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to fetch outfits"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"outfits": controller.populatePresignedOutfitURLs(c.Request().Context(), outfits),
	})
}

func (controller *OutfitsController) GetOutfit(c echo.Context) error {
	user, ok := c.Get("currentUser").(models.UserAccount)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	db, ok := c.Get("__db").(*gorm.DB)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Database connection error"})
	}

	outfitId, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid outfit id"})
	}

	var outfit models.Outfit
	r := db.Where("id = ? and owner_id = ?", outfitId, user.ID).Limit(1).Find(&outfit)
	if r.Error != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to fetch outfit"})
	}
	if r.RowsAffected == 0 {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Outfit not found"})
	}

	out := controller.populatePresignedOutfitURLs(c.Request().Context(), []models.Outfit{outfit})
	return c.JSON(http.StatusOK, out[0])
}

func (controller *OutfitsController) DeleteOutfit(c echo.Context) error {
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

	outfitId, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid outfit id"})
	}

	var outfit models.Outfit
	r := db.Where("id = ? and owner_id = ?", outfitId, user.ID).Limit(1).Find(&outfit)
	if r.Error != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to fetch outfit"})
	}
	if r.RowsAffected == 0 {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Outfit not found"})
	}

	// saved recommendations reference the outfit row, they go first
	if err := db.Where("outfit_id = ?", outfit.ID).Delete(&models.SavedOutfit{}).Error; err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to delete outfit"})
	}
	if err := db.Delete(&outfit).Error; err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to delete outfit"})
	}

	task, err := tasks.NewIndexPurgeTask(vectorindex.CollectionOutfitItems, outfit.ItemPointIDs, []string{outfit.ObjectName})
	if err != nil {
		sentry.CaptureException(err)
	} else if info, err := asynqClient.Enqueue(task, asynq.MaxRetry(3), asynq.Queue("process")); err != nil {
		sentry.CaptureException(err)
	} else {
		fmt.Println("[Queue] Purge index task submitted, Outfit ID: ", outfit.ID, " Task ID: ", info.ID)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"message": "deleted",
	})
}

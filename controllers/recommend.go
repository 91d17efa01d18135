package controllers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"closetapi/models"
	"closetapi/search"
	"closetapi/services"
	"closetapi/vectorindex"

	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

// outfits sampled from the catalog when the client does not run candidate
// generation against its own wardrobe
const sampledOutfitCount = 30

type RecommendedOutfitOut struct {
	search.RecommendedOutfit
	OutfitName     string  `json:"outfit_name"`
	OutfitImageURL *string `json:"outfit_image_url"`
}

type RecommendController struct {
	Engine     *search.Engine
	Index      vectorindex.Index
	AWSService services.AWSServiceProvider
	URLCache   services.URLCacheServiceProvider
}

func (controller *RecommendController) RecommendRoutes(g *echo.Group) {
	g.POST("/outfits", controller.RecommendOutfits)
	g.POST("/outfits/sampled", controller.RecommendSampledOutfits)
}

// buildWardrobe flattens the indexed garments of every processed wardrobe
// image into the item list the engine consumes. Item indexes are assigned in
// image id order so the same wardrobe always produces the same list.
func (controller *RecommendController) buildWardrobe(ctx context.Context, db *gorm.DB, userId uint, imageIds []uint) ([]search.WardrobeItem, error) {
	query := db.Where("owner_id = ? and processing_status = ?", userId, "completed")
	if len(imageIds) > 0 {
		query = query.Where("id in ?", imageIds)
	}
	var images []models.WardrobeImage
	if err := query.Order("id").Find(&images).Error; err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return []search.WardrobeItem{}, nil
	}

	objectNameByImage := make(map[uint]string, len(images))
	for _, image := range images {
		objectNameByImage[image.ID] = image.ObjectName
	}

	points, err := controller.Index.ScrollByPayload(ctx, vectorindex.CollectionWardrobeItems,
		vectorindex.Filter{UserID: userId})
	if err != nil {
		return nil, err
	}

	wardrobe := make([]search.WardrobeItem, 0, len(points))
	for _, point := range points {
		objectName, ok := objectNameByImage[point.Payload.WardrobeImageID]
		if !ok {
			// image outside the selection, or deleted with its points
			// still pending async purge
			continue
		}
		wardrobe = append(wardrobe, search.WardrobeItem{
			Index:        len(wardrobe),
			ObjectName:   objectName,
			ClothingType: point.Payload.ClothingType,
			Embedding:    point.Vector,
		})
	}
	return wardrobe, nil
}

func (controller *RecommendController) populateOutfitDetails(ctx context.Context, db *gorm.DB, recommended []search.RecommendedOutfit) []RecommendedOutfitOut {
	out := make([]RecommendedOutfitOut, 0, len(recommended))
	for _, rec := range recommended {
		entry := RecommendedOutfitOut{RecommendedOutfit: rec}
		outfitId, err := strconv.Atoi(rec.OutfitID)
		if err != nil {
			fmt.Printf("[Outfit: %v] Unparseable outfit id in index payload\n", rec.OutfitID)
			sentry.CaptureException(err)
			out = append(out, entry)
			continue
		}
		var outfit models.Outfit
		r := db.Limit(1).Find(&outfit, "id = ?", outfitId)
		if r.Error == nil && r.RowsAffected > 0 {
			entry.OutfitName = outfit.Name
			url, err := controller.URLCache.GetReadURL(ctx, outfit.ObjectName)
			if err != nil {
				fmt.Printf("[Outfit: %v] Failed to presign outfit image: %v\n", outfit.ID, err)
				sentry.CaptureException(err)
			} else {
				entry.OutfitImageURL = NilString(url)
			}
		}
		out = append(out, entry)
	}
	return out
}

func (controller *RecommendController) RecommendOutfits(c echo.Context) error {
	var req models.RecommendIn
	if err := c.Bind(&req); err != nil {
		fmt.Println(err)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	user, ok := c.Get("currentUser").(models.UserAccount)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	db, ok := c.Get("__db").(*gorm.DB)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Database connection error"})
	}

	ctx := c.Request().Context()
	wardrobe, err := controller.buildWardrobe(ctx, db, user.ID, req.ImageIDs)
	if err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to load your wardrobe, please try again"})
	}
	if len(wardrobe) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Your wardrobe is empty, add some clothes first"})
	}

	engine := controller.Engine
	if req.LimitOutfits > 0 {
		engine = engine.WithLimit(req.LimitOutfits)
	}
	recommended, err := engine.FindCandidates(ctx, wardrobe)
	if err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to find outfits, please try again"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"outfits": controller.populateOutfitDetails(ctx, db, recommended),
	})
}

func (controller *RecommendController) RecommendSampledOutfits(c echo.Context) error {
	var req models.RecommendIn
	if err := c.Bind(&req); err != nil {
		fmt.Println(err)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	user, ok := c.Get("currentUser").(models.UserAccount)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	db, ok := c.Get("__db").(*gorm.DB)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Database connection error"})
	}

	ctx := c.Request().Context()
	wardrobe, err := controller.buildWardrobe(ctx, db, user.ID, nil)
	if err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to load your wardrobe, please try again"})
	}
	if len(wardrobe) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Your wardrobe is empty, add some clothes first"})
	}

	var outfitIds []uint
	if err := db.Model(&models.Outfit{}).Where("processing_status = ?", "completed").
		Order("random()").Limit(sampledOutfitCount).Pluck("id", &outfitIds).Error; err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to sample outfits, please try again"})
	}
	candidateIds := make([]string, 0, len(outfitIds))
	for _, id := range outfitIds {
		candidateIds = append(candidateIds, fmt.Sprintf("%d", id))
	}

	engine := controller.Engine
	if req.LimitOutfits > 0 {
		engine = engine.WithLimit(req.LimitOutfits)
	}
	recommended, err := engine.FindCandidatesV2(ctx, wardrobe, candidateIds)
	if err != nil {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to find outfits, please try again"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"outfits": controller.populateOutfitDetails(ctx, db, recommended),
	})
}

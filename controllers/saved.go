package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"closetapi/models"

	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

type SavedOutfitsController struct{}

func (controller *SavedOutfitsController) SavedOutfitRoutes(g *echo.Group) {
	g.POST("", controller.SaveOutfit)
	g.GET("", controller.ListSavedOutfits)
	g.DELETE("/:id", controller.DeleteSavedOutfit)
}

func (controller *SavedOutfitsController) SaveOutfit(c echo.Context) error {
	var req models.SavedOutfitIn
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

	var outfit models.Outfit
	r := db.Limit(1).Find(&outfit, "id = ?", req.OutfitID)
	if r.Error != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to fetch outfit"})
	}
	if r.RowsAffected == 0 {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Outfit not found"})
	}

	saved := models.SavedOutfit{
		OwnerID:           user.ID,
		OutfitID:          outfit.ID,
		CompletenessScore: req.CompletenessScore,
		Matches:           string(req.Matches),
	}
	result := db.Where("owner_id = ? and outfit_id = ?", user.ID, outfit.ID).FirstOrCreate(&saved)
	if result.Error != nil {
		sentry.CaptureException(result.Error)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to save outfit"})
	}

	return c.JSON(http.StatusCreated, models.SavedOutfitOut{
		Id:                saved.ID,
		OutfitID:          saved.OutfitID,
		CompletenessScore: saved.CompletenessScore,
		Matches:           json.RawMessage(saved.Matches),
	})
}

func (controller *SavedOutfitsController) ListSavedOutfits(c echo.Context) error {
	user, ok := c.Get("currentUser").(models.UserAccount)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	db, ok := c.Get("__db").(*gorm.DB)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Database connection error"})
	}

	var saved []models.SavedOutfit
	if err := db.Where("owner_id = ?", user.ID).Order("id desc").Find(&saved).Error; err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to fetch saved outfits"})
	}

	out := make([]models.SavedOutfitOut, 0, len(saved))
	for _, item := range saved {
		matches := json.RawMessage(item.Matches)
		if item.Matches == "" {
			matches = json.RawMessage("[]")
		}
		out = append(out, models.SavedOutfitOut{
			Id:                item.ID,
			OutfitID:          item.OutfitID,
			CompletenessScore: item.CompletenessScore,
			Matches:           matches,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"saved_outfits": out,
	})
}

func (controller *SavedOutfitsController) DeleteSavedOutfit(c echo.Context) error {
	user, ok := c.Get("currentUser").(models.UserAccount)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	db, ok := c.Get("__db").(*gorm.DB)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Database connection error"})
	}

	savedId, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid saved outfit id"})
	}

	result := db.Where("id = ? and owner_id = ?", savedId, user.ID).Delete(&models.SavedOutfit{})
	if result.Error != nil {
		sentry.CaptureException(result.Error)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to delete saved outfit"})
	}
	if result.RowsAffected == 0 {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Saved outfit not found"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message": "deleted",
	})
}

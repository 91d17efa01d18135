package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"closetapi/dbhelper"
	"closetapi/models"
	"closetapi/test"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveOutfitOk(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	e := setupTestServer(db, test.NewIndexMock())
	user := test.FakeUser(db)

	outfit := models.Outfit{
		Name: "Summer look", OwnerID: user.ID, ObjectName: "outfits/aaa",
		ImageStatus: "uploaded", ProcessingStatus: "completed",
	}
	require.NoError(t, db.Create(&outfit).Error)

	matchesJSON := `[{"outfit_item_id":"a-shirt","score":1,"wardrobe_image_index":0,"wardrobe_image_object_name":"images/aaa","suggested_item_product_link":null,"suggested_item_image_link":null}]`
	reqBody := models.SavedOutfitIn{
		OutfitID:          outfit.ID,
		CompletenessScore: 0.75,
		Matches:           json.RawMessage(matchesJSON),
	}

	req := test.NewJSONAuthRequest("POST", "/closet/saved-outfits", strconv.FormatUint(uint64(user.ID), 10), reqBody)
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var response models.SavedOutfitOut
	err := json.Unmarshal(rec.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, outfit.ID, response.OutfitID)
	assert.InDelta(t, 0.75, response.CompletenessScore, 1e-6)
	assert.JSONEq(t, matchesJSON, string(response.Matches))

	var saved models.SavedOutfit
	db.First(&saved, "owner_id = ?", user.ID)
	assert.Equal(t, outfit.ID, saved.OutfitID)
	assert.JSONEq(t, matchesJSON, saved.Matches)
}

func TestSaveOutfitTwiceKeepsOne(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	e := setupTestServer(db, test.NewIndexMock())
	user := test.FakeUser(db)

	outfit := models.Outfit{
		Name: "Summer look", OwnerID: user.ID, ObjectName: "outfits/aaa",
		ImageStatus: "uploaded", ProcessingStatus: "completed",
	}
	require.NoError(t, db.Create(&outfit).Error)

	reqBody := models.SavedOutfitIn{OutfitID: outfit.ID, CompletenessScore: 0.5, Matches: json.RawMessage(`[]`)}
	for i := 0; i < 2; i++ {
		req := test.NewJSONAuthRequest("POST", "/closet/saved-outfits", strconv.FormatUint(uint64(user.ID), 10), reqBody)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	var count int64
	db.Model(&models.SavedOutfit{}).Where("owner_id = ?", user.ID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestSaveOutfitNotFound(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	e := setupTestServer(db, test.NewIndexMock())
	user := test.FakeUser(db)

	reqBody := models.SavedOutfitIn{OutfitID: 99999, CompletenessScore: 0.5, Matches: json.RawMessage(`[]`)}
	req := test.NewJSONAuthRequest("POST", "/closet/saved-outfits", strconv.FormatUint(uint64(user.ID), 10), reqBody)
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSavedOutfits(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	e := setupTestServer(db, test.NewIndexMock())
	user := test.FakeUser(db)

	outfit := models.Outfit{
		Name: "Summer look", OwnerID: user.ID, ObjectName: "outfits/aaa",
		ImageStatus: "uploaded", ProcessingStatus: "completed",
	}
	require.NoError(t, db.Create(&outfit).Error)
	saved := models.SavedOutfit{
		OwnerID: user.ID, OutfitID: outfit.ID, CompletenessScore: 0.9,
		Matches: `[{"outfit_item_id":"a-shirt","score":0.9}]`,
	}
	require.NoError(t, db.Create(&saved).Error)

	req := test.NewJSONAuthRequest("GET", "/closet/saved-outfits", strconv.FormatUint(uint64(user.ID), 10), "")
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var response map[string][]models.SavedOutfitOut
	err := json.Unmarshal(rec.Body.Bytes(), &response)
	require.NoError(t, err)
	savedOutfits := response["saved_outfits"]
	require.Len(t, savedOutfits, 1)
	assert.Equal(t, outfit.ID, savedOutfits[0].OutfitID)
	assert.InDelta(t, 0.9, savedOutfits[0].CompletenessScore, 1e-6)
}

func TestDeleteSavedOutfit(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	e := setupTestServer(db, test.NewIndexMock())
	user := test.FakeUser(db)

	outfit := models.Outfit{
		Name: "Summer look", OwnerID: user.ID, ObjectName: "outfits/aaa",
		ImageStatus: "uploaded", ProcessingStatus: "completed",
	}
	require.NoError(t, db.Create(&outfit).Error)
	saved := models.SavedOutfit{OwnerID: user.ID, OutfitID: outfit.ID, CompletenessScore: 0.9, Matches: "[]"}
	require.NoError(t, db.Create(&saved).Error)

	req := test.NewJSONAuthRequest("DELETE", fmt.Sprintf("/closet/saved-outfits/%v", saved.ID), strconv.FormatUint(uint64(user.ID), 10), "")
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var count int64
	db.Model(&models.SavedOutfit{}).Where("owner_id = ?", user.ID).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestDeleteSavedOutfitNotFound(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	e := setupTestServer(db, test.NewIndexMock())
	user := test.FakeUser(db)

	req := test.NewJSONAuthRequest("DELETE", "/closet/saved-outfits/99999", strconv.FormatUint(uint64(user.ID), 10), "")
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

package controllers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"closetapi/dbhelper"
	"closetapi/models"
	"closetapi/test"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOutfitOk(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	e := setupTestServer(db, test.NewIndexMock())
	user := test.FakeUser(db)

	reqBody := models.OutfitIn{
		Name:        "Summer look",
		Description: test.NewRefString("Linen shirt with shorts"),
	}

	req := test.NewJSONAuthRequest("POST", "/closet/outfits", strconv.FormatUint(uint64(user.ID), 10), reqBody)
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, "Expected status code 201 Created, got %d: %s", rec.Code, rec.Body.String())

	var response map[string]interface{}
	err := json.Unmarshal(rec.Body.Bytes(), &response)
	require.NoError(t, err)
	require.NotEmpty(t, response["upload_url"])

	var outfit models.Outfit
	db.First(&outfit, "owner_id = ?", user.ID)
	assert.Equal(t, "Summer look", outfit.Name)
	assert.Equal(t, "draft", outfit.ImageStatus)
	assert.Equal(t, "idle", outfit.ProcessingStatus)
	assert.True(t, strings.HasPrefix(outfit.ObjectName, "outfits/"), outfit.ObjectName)
}

func TestCreateOutfitInvalidInput(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	e := setupTestServer(db, test.NewIndexMock())
	user := test.FakeUser(db)

	// name missing
	reqBody := models.OutfitIn{Description: test.NewRefString("no name")}

	req := test.NewJSONAuthRequest("POST", "/closet/outfits", strconv.FormatUint(uint64(user.ID), 10), reqBody)
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListOutfitsOk(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	e := setupTestServer(db, test.NewIndexMock())
	user := test.FakeUser(db)

	outfit := models.Outfit{
		Name: "Summer look", OwnerID: user.ID, ObjectName: "outfits/aaa",
		ImageStatus: "uploaded", ProcessingStatus: "completed",
		ItemPointIDs: pq.StringArray{"p1", "p2", "p3"},
	}
	require.NoError(t, db.Create(&outfit).Error)

	req := test.NewJSONAuthRequest("GET", "/closet/outfits", strconv.FormatUint(uint64(user.ID), 10), "")
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, "Expected status code 200 OK, got %d: %s", rec.Code, rec.Body.String())

	var response map[string][]models.OutfitOut
	err := json.Unmarshal(rec.Body.Bytes(), &response)
	require.NoError(t, err)
	outfits := response["outfits"]
	require.Len(t, outfits, 1)
	assert.Equal(t, "Summer look", outfits[0].Name)
	assert.Equal(t, 3, outfits[0].ItemCount)
	require.NotNil(t, outfits[0].ImageURL)
	assert.Equal(t, "https://fakebucketurl.com/outfits/aaa", *outfits[0].ImageURL)
}

func TestListOutfitsEmpty(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	e := setupTestServer(db, test.NewIndexMock())
	user := test.FakeUser(db)

	req := test.NewJSONAuthRequest("GET", "/closet/outfits", strconv.FormatUint(uint64(user.ID), 10), "")
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var response map[string][]models.OutfitOut
	err := json.Unmarshal(rec.Body.Bytes(), &response)
	require.NoError(t, err)
	require.Len(t, response["outfits"], 0)
}

func TestMarkOutfitUploadedNotOwned(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	e := setupTestServer(db, test.NewIndexMock())
	user := test.FakeUser(db)
	other := test.FakeUserV2(db, "other", "other@example.com")

	outfit := models.Outfit{
		Name: "Not mine", OwnerID: other.ID, ObjectName: "outfits/bbb",
		ImageStatus: "draft", ProcessingStatus: "idle",
	}
	require.NoError(t, db.Create(&outfit).Error)

	req := test.NewJSONAuthRequest("POST", "/closet/outfits/"+strconv.FormatUint(uint64(outfit.ID), 10)+"/uploaded", strconv.FormatUint(uint64(user.ID), 10), "")
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetOutfitOk(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	e := setupTestServer(db, test.NewIndexMock())
	user := test.FakeUser(db)

	outfit := models.Outfit{
		Name: "Summer look", OwnerID: user.ID, ObjectName: "outfits/aaa",
		ImageStatus: "uploaded", ProcessingStatus: "completed",
		ItemPointIDs: pq.StringArray{"p1", "p2"},
	}
	require.NoError(t, db.Create(&outfit).Error)

	req := test.NewJSONAuthRequest("GET", "/closet/outfits/"+strconv.FormatUint(uint64(outfit.ID), 10), strconv.FormatUint(uint64(user.ID), 10), "")
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, "Expected status code 200 OK, got %d: %s", rec.Code, rec.Body.String())

	var response models.OutfitOut
	err := json.Unmarshal(rec.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, outfit.ID, response.Id)
	assert.Equal(t, "Summer look", response.Name)
	assert.Equal(t, 2, response.ItemCount)
	require.NotNil(t, response.ImageURL)
	assert.Equal(t, "https://fakebucketurl.com/outfits/aaa", *response.ImageURL)
}

func TestDeleteOutfitWithSavedRows(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	e := setupTestServer(db, test.NewIndexMock())
	user := test.FakeUser(db)
	other := test.FakeUserV2(db, "other", "other@example.com")

	outfit := models.Outfit{
		Name: "Summer look", OwnerID: user.ID, ObjectName: "outfits/aaa",
		ImageStatus: "uploaded", ProcessingStatus: "completed",
		ItemPointIDs: pq.StringArray{"p1", "p2"},
	}
	require.NoError(t, db.Create(&outfit).Error)
	// both the owner and another user saved it
	require.NoError(t, db.Create(&models.SavedOutfit{OwnerID: user.ID, OutfitID: outfit.ID, CompletenessScore: 0.9}).Error)
	require.NoError(t, db.Create(&models.SavedOutfit{OwnerID: other.ID, OutfitID: outfit.ID, CompletenessScore: 0.8}).Error)

	req := test.NewJSONAuthRequest("DELETE", "/closet/outfits/"+strconv.FormatUint(uint64(outfit.ID), 10), strconv.FormatUint(uint64(user.ID), 10), "")
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, "Expected status code 200 OK, got %d: %s", rec.Code, rec.Body.String())

	var count int64
	db.Model(&models.Outfit{}).Where("id = ?", outfit.ID).Count(&count)
	assert.Equal(t, int64(0), count)
	db.Model(&models.SavedOutfit{}).Where("outfit_id = ?", outfit.ID).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestGetOutfitNotFound(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	e := setupTestServer(db, test.NewIndexMock())
	user := test.FakeUser(db)

	req := test.NewJSONAuthRequest("GET", "/closet/outfits/99999", strconv.FormatUint(uint64(user.ID), 10), "")
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

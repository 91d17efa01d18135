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
	"closetapi/vectorindex"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// seeds one completed wardrobe image with a shirt embedding and one catalog
// outfit holding a matching shirt plus a pants slot the wardrobe cannot fill
func seedRecommendData(t *testing.T, db *gorm.DB, index *test.IndexMock, user *models.UserAccount) models.Outfit {
	t.Helper()

	image := models.WardrobeImage{
		Name: "White tee", OwnerID: user.ID, ObjectName: "images/aaa",
		ImageStatus: "uploaded", ProcessingStatus: "completed",
		ClothingType: test.NewRefString("shirt"),
	}
	require.NoError(t, db.Create(&image).Error)

	outfit := models.Outfit{
		Name: "Summer look", OwnerID: user.ID, ObjectName: "outfits/aaa",
		ImageStatus: "uploaded", ProcessingStatus: "completed",
	}
	require.NoError(t, db.Create(&outfit).Error)
	outfitID := fmt.Sprintf("%d", outfit.ID)

	index.Upsert(nil, vectorindex.CollectionWardrobeItems, []vectorindex.Point{
		{ID: "w1", Vector: []float32{1, 0, 0}, Payload: vectorindex.Payload{
			WardrobeImageID: image.ID, UserID: user.ID, ClothingType: "shirt",
		}},
	})
	index.Upsert(nil, vectorindex.CollectionOutfitItems, []vectorindex.Point{
		{ID: "a-shirt", Vector: []float32{1, 0, 0}, Payload: vectorindex.Payload{
			OutfitID: outfitID, ClothingType: "shirt",
		}},
		{ID: "b-pants", Vector: []float32{0, 1, 0}, Payload: vectorindex.Payload{
			OutfitID: outfitID, ClothingType: "pants",
		}},
	})
	return outfit
}

func TestRecommendOutfitsOk(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	index := test.NewIndexMock()
	e := setupTestServer(db, index)
	user := test.FakeUser(db)
	outfit := seedRecommendData(t, db, index, user)

	req := test.NewJSONAuthRequest("POST", "/recommend/outfits", strconv.FormatUint(uint64(user.ID), 10), models.RecommendIn{})
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var response map[string][]RecommendedOutfitOut
	err := json.Unmarshal(rec.Body.Bytes(), &response)
	require.NoError(t, err)
	outfits := response["outfits"]
	require.Len(t, outfits, 1)

	recommended := outfits[0]
	assert.Equal(t, fmt.Sprintf("%d", outfit.ID), recommended.OutfitID)
	assert.Equal(t, "Summer look", recommended.OutfitName)
	require.NotNil(t, recommended.OutfitImageURL)
	assert.Equal(t, "https://fakebucketurl.com/outfits/aaa", *recommended.OutfitImageURL)

	// shirt slot matched fully, pants slot is a gap scored at half the
	// running mean of matched slots
	assert.InDelta(t, 0.75, recommended.CompletenessScore, 1e-6)
	require.Len(t, recommended.Matches, 2)

	shirtMatch := recommended.Matches[0]
	assert.Equal(t, "a-shirt", shirtMatch.OutfitItemID)
	assert.InDelta(t, 1.0, shirtMatch.Score, 1e-6)
	require.NotNil(t, shirtMatch.WardrobeImageObjectName)
	assert.Equal(t, "images/aaa", *shirtMatch.WardrobeImageObjectName)
	assert.Nil(t, shirtMatch.SuggestedItemProductLink)

	pantsGap := recommended.Matches[1]
	assert.Equal(t, "b-pants", pantsGap.OutfitItemID)
	assert.InDelta(t, 0.5, pantsGap.Score, 1e-6)
	assert.Nil(t, pantsGap.WardrobeImageObjectName)
	require.NotNil(t, pantsGap.SuggestedItemProductLink)
	require.NotNil(t, pantsGap.SuggestedItemImageLink)
}

func TestRecommendOutfitsEmptyWardrobe(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	e := setupTestServer(db, test.NewIndexMock())
	user := test.FakeUser(db)

	req := test.NewJSONAuthRequest("POST", "/recommend/outfits", strconv.FormatUint(uint64(user.ID), 10), models.RecommendIn{})
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestRecommendOutfitsNoCandidates(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	index := test.NewIndexMock()
	e := setupTestServer(db, index)
	user := test.FakeUser(db)

	image := models.WardrobeImage{
		Name: "White tee", OwnerID: user.ID, ObjectName: "images/aaa",
		ImageStatus: "uploaded", ProcessingStatus: "completed",
	}
	require.NoError(t, db.Create(&image).Error)
	index.Upsert(nil, vectorindex.CollectionWardrobeItems, []vectorindex.Point{
		{ID: "w1", Vector: []float32{1, 0, 0}, Payload: vectorindex.Payload{
			WardrobeImageID: image.ID, UserID: user.ID, ClothingType: "shirt",
		}},
	})

	req := test.NewJSONAuthRequest("POST", "/recommend/outfits", strconv.FormatUint(uint64(user.ID), 10), models.RecommendIn{})
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var response map[string][]RecommendedOutfitOut
	err := json.Unmarshal(rec.Body.Bytes(), &response)
	require.NoError(t, err)
	require.Len(t, response["outfits"], 0)
}

func TestRecommendSampledOutfitsOk(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	index := test.NewIndexMock()
	e := setupTestServer(db, index)
	user := test.FakeUser(db)
	outfit := seedRecommendData(t, db, index, user)

	req := test.NewJSONAuthRequest("POST", "/recommend/outfits/sampled", strconv.FormatUint(uint64(user.ID), 10), models.RecommendIn{})
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var response map[string][]RecommendedOutfitOut
	err := json.Unmarshal(rec.Body.Bytes(), &response)
	require.NoError(t, err)
	outfits := response["outfits"]
	require.Len(t, outfits, 1)
	assert.Equal(t, fmt.Sprintf("%d", outfit.ID), outfits[0].OutfitID)
	assert.InDelta(t, 0.75, outfits[0].CompletenessScore, 1e-6)
}

func TestRecommendOutfitsImageSubset(t *testing.T) {
	db := dbhelper.SetupTestDB()
	cleaner := dbhelper.SetupCleaner(db)
	defer cleaner()
	index := test.NewIndexMock()
	e := setupTestServer(db, index)
	user := test.FakeUser(db)
	seedRecommendData(t, db, index, user)

	// no processed image carries this id, the filtered wardrobe is empty
	reqBody := models.RecommendIn{ImageIDs: []uint{99999}}
	req := test.NewJSONAuthRequest("POST", "/recommend/outfits", strconv.FormatUint(uint64(user.ID), 10), reqBody)
	rec := httptest.NewRecorder()

	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

package test

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"time"

	"closetapi/models"
	"closetapi/services"
	"closetapi/vectorindex"

	"github.com/golang-jwt/jwt/v4"
	"google.golang.org/api/idtoken"
	"gorm.io/gorm"
)

func JsonString(model interface{}) string {
	bytes, _ := json.Marshal(model)
	return string(bytes)
}

func NewJSONRequest(method string, target string, param interface{}) *http.Request {

	req := httptest.NewRequest(method, target, strings.NewReader(JsonString(param)))
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Accept", "application/json")
	return req
}

func GenerateUserToken(userPk string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userPk,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour * 72)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	})
	t, err := token.SignedString([]byte(os.Getenv("JWT_SECRET")))
	if err != nil {
		log.Fatalf("Error when signing user token for %s. Error %s ", userPk, err)
	}
	return t
}

func NewJSONAuthRequest(method string, target string, userPk string, param interface{}) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(JsonString(param)))
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Accept", "application/json")
	token := GenerateUserToken(userPk)
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", token))
	return req
}

func NewJSONAuthRequestRaw(method string, target string, userPk string, json string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(json))
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Accept", "application/json")
	token := GenerateUserToken(userPk)
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", token))
	return req
}

func Int64Pointer(i int64) *int64 {
	return &i
}

func NewRefString(data string) *string {
	return &data
}

func Contains(items []string, lookFor string) bool {

	for i := 0; i < len(items); i++ {

		if items[i] == lookFor {
			return true
		}
	}
	return false
}

func FakeUser(db *gorm.DB) *models.UserAccount {
	user := &models.UserAccount{
		Name:      "OurName",
		Email:     "email@example.com",
		GoogleID:  "12232",
		Platform:  models.PlatformIOS,
		LastIp:    "123.122.122.122",
		Status:    "FINISHED_AUTH",
		AvatarURL: "pictureurl",
	}
	db.Create(&user)

	tokenDb := models.UserPushToken{
		UserAccountID: user.ID,
		Platform:      "android",
		Token:         "cX-UZ3zwQEiPt-2GJkG2gA:APA91bGqRflaGrJrnynhRwZ442HdgUjVcO7mWMFnx6IwAdJ9RRKopvSP4QU7hbvTmk1XAp8XGvtHZLvo5JmOPTVKBbGqqvhfbZWKlXA9csEjx1hgpNvrWepU",
		Active:        true,
	}
	db.Save(&tokenDb)

	return user
}

func FakeUserV2(db *gorm.DB, userName string, email string) *models.UserAccount {

	if email == "" {
		email = "email@example.com"
	}
	user := &models.UserAccount{
		Name:      userName,
		Email:     email,
		GoogleID:  "12232",
		Platform:  models.PlatformIOS,
		LastIp:    "123.122.122.122",
		Status:    "FINISHED_AUTH",
		AvatarURL: "pictureurl",
	}
	db.Create(&user)
	return user
}

type GoogleServiceMock struct{}

func (gsm GoogleServiceMock) ValidateIdToken(ctx context.Context, idToken string, audience string) (*idtoken.Payload, error) {

	return &idtoken.Payload{Issuer: "Issue", Audience: "AAA", Expires: 119919191919, IssuedAt: 12312321321, Subject: "fake@example.com", Claims: map[string]interface{}{
		"email":   "fake@example.com",
		"picture": "pictureurl",
		"sub":     "123googleid",
	}}, nil

}

type AWSProviderMock struct {
	MockUrl        string
	DeletedObjects []string
}

func (awsService *AWSProviderMock) InitPresignClient(ctx context.Context) error {
	return nil
}

func (awsService *AWSProviderMock) PresignLink(ctx context.Context, bucketName string, fileName string) (string, error) {

	return fmt.Sprintf("https://fakebucketurl.com/%s", fileName), nil
}

func (awsService *AWSProviderMock) GetPresignedR2FileReadURL(ctx context.Context, bucketName, fileKey string) (string, error) {
	if awsService.MockUrl != "" {
		return awsService.MockUrl, nil
	}
	return fmt.Sprintf("https://fakebucketurl.com/%s", fileKey), nil
}

func (awsService *AWSProviderMock) UploadToPresignedURL(ctx context.Context, bucketName, url string, fileContent []byte) (string, int, error) {
	return url, 200, nil
}

func (awsService *AWSProviderMock) DeleteObject(ctx context.Context, bucketName, fileKey string) error {
	awsService.DeletedObjects = append(awsService.DeletedObjects, fileKey)
	return nil
}

type URLCacheMock struct{}

func (URLCacheMock) GetReadURL(ctx context.Context, objectKey string) (string, error) {
	if objectKey == "" {
		return "", nil
	}
	return fmt.Sprintf("https://fakebucketurl.com/%s", objectKey), nil
}

// EncoderMock maps every image to the same fixed vector unless Vectors is
// primed with per-call results.
type EncoderMock struct {
	Dim     int
	Vectors [][]float32
}

func (m *EncoderMock) Embed(ctx context.Context, images [][]byte) ([][]float32, error) {
	out := make([][]float32, len(images))
	for i := range images {
		if i < len(m.Vectors) {
			out[i] = m.Vectors[i]
			continue
		}
		vec := make([]float32, m.dim())
		vec[0] = 1
		out[i] = vec
	}
	return out, nil
}

func (m *EncoderMock) EmbedOne(ctx context.Context, image []byte) ([]float32, error) {
	vecs, err := m.Embed(ctx, [][]byte{image})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (m *EncoderMock) Dimensions() int {
	return m.dim()
}

func (m *EncoderMock) dim() int {
	if m.Dim > 0 {
		return m.Dim
	}
	return 512
}

type SegmenterMock struct {
	Garments []services.SegmentedGarment
}

func (m *SegmenterMock) Segment(ctx context.Context, image []byte) ([]services.SegmentedGarment, error) {
	return m.Garments, nil
}

// IndexMock keeps points in memory and answers the same operation set as the
// pgvector index, enough to exercise the recommendation flow end to end.
type IndexMock struct {
	Points map[vectorindex.Collection][]vectorindex.Point
}

func NewIndexMock() *IndexMock {
	return &IndexMock{Points: map[vectorindex.Collection][]vectorindex.Point{}}
}

func (m *IndexMock) Upsert(ctx context.Context, collection vectorindex.Collection, points []vectorindex.Point) error {
	for _, p := range points {
		replaced := false
		for i, existing := range m.Points[collection] {
			if existing.ID == p.ID {
				m.Points[collection][i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			m.Points[collection] = append(m.Points[collection], p)
		}
	}
	return nil
}

func (m *IndexMock) Search(ctx context.Context, collection vectorindex.Collection, vector []float32, threshold float64, limit int, filter vectorindex.Filter) ([]vectorindex.ScoredPoint, error) {
	hits := []vectorindex.ScoredPoint{}
	for _, p := range m.Points[collection] {
		if !m.matches(p, filter) {
			continue
		}
		score := dot(vector, p.Vector)
		if score >= threshold {
			hits = append(hits, vectorindex.ScoredPoint{Point: p, Score: score})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *IndexMock) GetByID(ctx context.Context, collection vectorindex.Collection, id string) (*vectorindex.Point, error) {
	for _, p := range m.Points[collection] {
		if p.ID == id {
			point := p
			return &point, nil
		}
	}
	return nil, nil
}

func (m *IndexMock) ScrollByPayload(ctx context.Context, collection vectorindex.Collection, filter vectorindex.Filter) ([]vectorindex.Point, error) {
	points := []vectorindex.Point{}
	for _, p := range m.Points[collection] {
		if m.matches(p, filter) {
			points = append(points, p)
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].ID < points[j].ID })
	return points, nil
}

func (m *IndexMock) DeleteByID(ctx context.Context, collection vectorindex.Collection, ids []string) error {
	kept := []vectorindex.Point{}
	for _, p := range m.Points[collection] {
		if !Contains(ids, p.ID) {
			kept = append(kept, p)
		}
	}
	m.Points[collection] = kept
	return nil
}

func (m *IndexMock) DeleteByPayload(ctx context.Context, collection vectorindex.Collection, filter vectorindex.Filter) error {
	kept := []vectorindex.Point{}
	for _, p := range m.Points[collection] {
		if !m.matches(p, filter) {
			kept = append(kept, p)
		}
	}
	m.Points[collection] = kept
	return nil
}

func (m *IndexMock) matches(p vectorindex.Point, filter vectorindex.Filter) bool {
	if filter.OutfitID != "" && p.OutfitID != filter.OutfitID {
		return false
	}
	if filter.WardrobeImageID != 0 && p.WardrobeImageID != filter.WardrobeImageID {
		return false
	}
	if filter.UserID != 0 && p.UserID != filter.UserID {
		return false
	}
	if filter.ClothingType != "" && p.ClothingType != filter.ClothingType {
		return false
	}
	return true
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

type ClassifierMock struct {
	Label string
}

func (m *ClassifierMock) ClassifyClothing(ctx context.Context, image []byte, modelName services.LLMModelName) (string, error) {
	if m.Label == "" {
		return "shirt", nil
	}
	return m.Label, nil
}

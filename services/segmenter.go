package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SegmentedGarment is one detected garment crop from an outfit or closet
// photo. Polygon is the normalized segmentation outline, optional.
type SegmentedGarment struct {
	Label   string
	Image   []byte
	Polygon [][]float64
}

// GarmentSegmenterProvider runs detection + segmentation over a photo and
// returns labeled crops. An empty result means nothing to index.
type GarmentSegmenterProvider interface {
	Segment(ctx context.Context, image []byte) ([]SegmentedGarment, error)
}

// HTTPSegmenterService calls the detection sidecar (YOLO + SAM behind a
// JSON API).
type HTTPSegmenterService struct {
	BaseURL    string
	HttpClient *http.Client
}

func NewHTTPSegmenterService() *HTTPSegmenterService {
	return &HTTPSegmenterService{
		BaseURL:    GetEnv("SEGMENTER_URL", "http://localhost:8091"),
		HttpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

type segmentRequest struct {
	Image string `json:"image"`
}

type segmentResponseItem struct {
	Label   string      `json:"label"`
	Image   string      `json:"image"`
	Polygon [][]float64 `json:"polygon,omitempty"`
}

type segmentResponse struct {
	Items []segmentResponseItem `json:"items"`
}

func (s *HTTPSegmenterService) Segment(ctx context.Context, image []byte) ([]SegmentedGarment, error) {
	payload, err := json.Marshal(segmentRequest{Image: base64.StdEncoding.EncodeToString(image)})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal segment request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.BaseURL+"/segment", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create segment request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.HttpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("segmenter unreachable: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("segmenter returned %d: %s", resp.StatusCode, string(body))
	}

	var out segmentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode segmenter response: %v", err)
	}

	garments := make([]SegmentedGarment, 0, len(out.Items))
	for _, item := range out.Items {
		crop, err := base64.StdEncoding.DecodeString(item.Image)
		if err != nil {
			return nil, fmt.Errorf("failed to decode crop for label %s: %v", item.Label, err)
		}
		garments = append(garments, SegmentedGarment{
			Label:   item.Label,
			Image:   crop,
			Polygon: item.Polygon,
		})
	}
	return garments, nil
}

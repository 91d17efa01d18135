package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

// EmbeddingEncoderProvider maps images into a shared semantic vector space.
// Batch-first: for a single image pass a slice with one element. Output
// vectors are L2-normalized so dot product equals cosine similarity.
//
// All points in one index must come from the same encoder model; mixing
// encoder versions silently corrupts similarity semantics.
type EmbeddingEncoderProvider interface {
	Embed(ctx context.Context, images [][]byte) ([][]float32, error)
	EmbedOne(ctx context.Context, image []byte) ([]float32, error)
	Dimensions() int
}

// HTTPEncoderService calls the CLIP sidecar, which exposes the model over a
// small JSON API.
type HTTPEncoderService struct {
	BaseURL    string
	Dim        int
	HttpClient *http.Client
}

func NewHTTPEncoderService() *HTTPEncoderService {
	return &HTTPEncoderService{
		BaseURL:    GetEnv("ENCODER_URL", "http://localhost:8090"),
		Dim:        512,
		HttpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type encodeRequest struct {
	Images []string `json:"images"`
}

type encodeResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (e *HTTPEncoderService) Embed(ctx context.Context, images [][]byte) ([][]float32, error) {
	if len(images) == 0 {
		return [][]float32{}, nil
	}
	encoded := make([]string, len(images))
	for i, image := range images {
		encoded[i] = base64.StdEncoding.EncodeToString(image)
	}
	payload, err := json.Marshal(encodeRequest{Images: encoded})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.BaseURL+"/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create encode request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HttpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("encoder unreachable: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("encoder returned %d: %s", resp.StatusCode, string(body))
	}

	var out encodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode encoder response: %v", err)
	}
	if len(out.Embeddings) != len(images) {
		return nil, fmt.Errorf("encoder returned %d embeddings for %d images", len(out.Embeddings), len(images))
	}
	for i, vector := range out.Embeddings {
		if len(vector) != e.Dim {
			return nil, fmt.Errorf("encoder returned vector of size %d, expected %d", len(vector), e.Dim)
		}
		out.Embeddings[i] = normalizeL2(vector)
	}
	return out.Embeddings, nil
}

func (e *HTTPEncoderService) EmbedOne(ctx context.Context, image []byte) ([]float32, error) {
	vectors, err := e.Embed(ctx, [][]byte{image})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *HTTPEncoderService) Dimensions() int {
	return e.Dim
}

// normalizeL2 makes the vector unit-length so dot product equals cosine.
func normalizeL2(vector []float32) []float32 {
	sum := 0.0
	for _, v := range vector {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return vector
	}
	for i := range vector {
		vector[i] = float32(float64(vector[i]) / norm)
	}
	return vector
}

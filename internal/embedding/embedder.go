// Package embedding computes document vectors through an OpenAI-compatible
// embeddings endpoint.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"docingest/internal/config"
)

var (
	// ErrDimensionMismatch is returned when the service answers with a vector of the wrong length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrEmptyInput is returned for blank input; the API rejects it anyway.
	ErrEmptyInput = errors.New("embedding input is empty")
)

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, input string) ([]float32, error)
	// Dimensions is the length of every vector Embed returns.
	Dimensions() int
}

// OpenAIEmbedder generates embeddings with the OpenAI embeddings API.
// Rate-limit responses (HTTP 429) are retried with exponential backoff within
// the retry budget; every other error is permanent.
type OpenAIEmbedder struct {
	client      openai.Client
	model       string
	dimensions  int
	retryBudget time.Duration
}

// NewOpenAIEmbedder builds an embedder from config.
func NewOpenAIEmbedder(cfg config.EmbeddingConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding api key is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive")
	}

	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}),
	)

	return &OpenAIEmbedder{
		client:      client,
		model:       cfg.Model,
		dimensions:  cfg.Dimensions,
		retryBudget: cfg.RetryBudget,
	}, nil
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// Dimensions returns the configured vector length.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Embed returns the vector for input.
func (e *OpenAIEmbedder) Embed(ctx context.Context, input string) ([]float32, error) {
	if input == "" {
		return nil, ErrEmptyInput
	}

	var vec []float32
	operation := func() error {
		resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfString: openai.String(input),
			},
			Model:      openai.EmbeddingModel(e.model),
			Dimensions: openai.Int(int64(e.dimensions)),
		})
		if err != nil {
			if isRateLimitError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if len(resp.Data) == 0 {
			return backoff.Permanent(fmt.Errorf("embedding response has no data"))
		}
		vec = toFloat32(resp.Data[0].Embedding)
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = e.retryBudget

	var policy backoff.BackOff = b
	if e.retryBudget <= 0 {
		policy = &backoff.StopBackOff{}
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(vec) != e.dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), e.dimensions)
	}
	return vec, nil
}

func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// toFloat32 narrows the API's float64 values to the float32 stored in pgvector.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}

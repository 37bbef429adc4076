package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/fin-onboard/backend/internal/model/persona"
	"github.com/zhouzirui/fin-onboard/backend/internal/model/recommendation"
)

const (
	opRecommend = "recommend"
	opNews      = "news"
)

// Recommender produces the recommendation set for a persona.
type Recommender interface {
	Recommend(ctx context.Context, p persona.Persona) (recommendation.Set, error)
}

// RecommenderClient reads GET /api/v1/recommendations and GET /api/v1/news.
// The recommender scores against the persona saved for the bearer token.
type RecommenderClient struct {
	call
	budget time.Duration
}

// NewRecommenderClient builds a client for cfg.RecommenderURL.
func NewRecommenderClient(cfg Config, tokens TokenSource, logger *zap.SugaredLogger) *RecommenderClient {
	return &RecommenderClient{
		call:   call{client: newRestyClient(cfg.RecommenderURL, cfg.RecommendTimeout), token: tokens, logger: logger},
		budget: cfg.RecommendTimeout,
	}
}

// Recommend fetches recommendations then news within one budget. Either
// failing fails the whole call.
func (c *RecommenderClient) Recommend(ctx context.Context, p persona.Persona) (recommendation.Set, error) {
	if p.Empty() {
		return recommendation.Set{}, &Fault{Op: opRecommend, Kind: KindMalformed, Message: "persona is empty"}
	}

	ctx, cancel := withBudget(ctx, c.budget)
	defer cancel()

	raw, err := c.get(ctx, opRecommend, "/api/v1/recommendations")
	if err != nil {
		return recommendation.Set{}, err
	}
	recs, err := decodeRecommendations(raw)
	if err != nil {
		return recommendation.Set{}, err
	}

	raw, err = c.get(ctx, opNews, "/api/v1/news")
	if err != nil {
		return recommendation.Set{}, err
	}
	news, err := decodeNews(raw)
	if err != nil {
		return recommendation.Set{}, err
	}

	return recommendation.Set{Recommendations: recs, News: news}, nil
}

func (c *RecommenderClient) get(ctx context.Context, op, path string) ([]byte, error) {
	req, err := c.request(ctx, op)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	resp, err := req.Get(path)
	return c.finish(op, started, resp, err)
}

type recommendationPayload struct {
	Product         json.RawMessage `json:"product"`
	Confidence      *float64        `json:"confidence"`
	ConfidenceScore *float64        `json:"confidence_score"`
	Explanation     *string         `json:"explanation"`
}

func decodeRecommendations(raw []byte) ([]recommendation.Recommendation, error) {
	var payload struct {
		Recommendations *[]recommendationPayload `json:"recommendations"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, malformed(opRecommend, "invalid json: %v", err)
	}
	if payload.Recommendations == nil {
		return nil, malformed(opRecommend, "missing recommendations")
	}

	out := make([]recommendation.Recommendation, 0, len(*payload.Recommendations))
	for i, item := range *payload.Recommendations {
		product, err := decodeProduct(item.Product)
		if err != nil {
			return nil, malformed(opRecommend, "recommendation %d: %v", i, err)
		}

		confidence := item.Confidence
		if confidence == nil {
			confidence = item.ConfidenceScore
		}
		if confidence == nil {
			return nil, malformed(opRecommend, "recommendation %d: missing confidence", i)
		}
		if *confidence < 0 || *confidence > 1 {
			return nil, malformed(opRecommend, "recommendation %d: confidence %v outside [0,1]", i, *confidence)
		}
		if item.Explanation == nil {
			return nil, malformed(opRecommend, "recommendation %d: missing explanation", i)
		}

		out = append(out, recommendation.Recommendation{
			Product:     product,
			Confidence:  *confidence,
			Explanation: *item.Explanation,
		})
	}
	return out, nil
}

// decodeProduct accepts the recommender's product object or a bare product name.
func decodeProduct(raw json.RawMessage) (recommendation.Product, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return recommendation.Product{}, fmt.Errorf("missing product")
	}

	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		if strings.TrimSpace(name) == "" {
			return recommendation.Product{}, fmt.Errorf("empty product name")
		}
		return recommendation.Product{Name: name}, nil
	}

	var product recommendation.Product
	if err := json.Unmarshal(raw, &product); err != nil {
		return recommendation.Product{}, fmt.Errorf("invalid product: %w", err)
	}
	if strings.TrimSpace(product.Name) == "" {
		return recommendation.Product{}, fmt.Errorf("product without name")
	}
	return product, nil
}

func decodeNews(raw []byte) ([]recommendation.NewsItem, error) {
	var payload struct {
		News *[]struct {
			Title   *string `json:"title"`
			Summary *string `json:"summary"`
			Date    string  `json:"date"`
		} `json:"news"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, malformed(opNews, "invalid json: %v", err)
	}
	if payload.News == nil {
		return nil, malformed(opNews, "missing news")
	}

	out := make([]recommendation.NewsItem, 0, len(*payload.News))
	for i, item := range *payload.News {
		if item.Title == nil || strings.TrimSpace(*item.Title) == "" {
			return nil, malformed(opNews, "news %d: missing title", i)
		}
		if item.Summary == nil {
			return nil, malformed(opNews, "news %d: missing summary", i)
		}
		out = append(out, recommendation.NewsItem{
			Title:   *item.Title,
			Summary: *item.Summary,
			Date:    parseNewsDate(item.Date),
		})
	}
	return out, nil
}

// parseNewsDate is lenient: date is optional, so an unreadable one is dropped.
func parseNewsDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config carries base URLs and per-call budgets.
type Config struct {
	UnderstanderURL   string
	AuthURL           string
	RecommenderURL    string
	UnderstandTimeout time.Duration
	BootstrapTimeout  time.Duration
	ProfileTimeout    time.Duration
	RecommendTimeout  time.Duration
}

// DefaultConfig returns local service addresses with the browser client budgets.
func DefaultConfig() Config {
	return Config{
		UnderstanderURL:   "http://localhost:5052",
		AuthURL:           "http://localhost:5053",
		RecommenderURL:    "http://localhost:5050",
		UnderstandTimeout: 15 * time.Second,
		BootstrapTimeout:  10 * time.Second,
		ProfileTimeout:    10 * time.Second,
		RecommendTimeout:  10 * time.Second,
	}
}

func newRestyClient(baseURL string, timeout time.Duration) *resty.Client {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")
	return client
}

// call bundles what every gateway request needs.
type call struct {
	client *resty.Client
	token  TokenSource
	logger *zap.SugaredLogger
}

func (c call) request(ctx context.Context, op string) (*resty.Request, error) {
	req := c.client.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", uuid.NewString())

	if c.token != nil {
		token, err := c.token.Token(ctx)
		if err != nil {
			return nil, &Fault{Op: op, Kind: KindUnreachable, Err: err}
		}
		if token != "" {
			req.SetAuthToken(token)
		}
	}
	return req, nil
}

// finish turns a resty result into either the raw body or a Fault.
func (c call) finish(op string, started time.Time, resp *resty.Response, err error) ([]byte, error) {
	if err != nil {
		fault := transportFault(op, err)
		c.logger.Warnf("[gateway] %s failed after %s: %v", op, time.Since(started), fault)
		return nil, fault
	}

	c.logger.Debugf("[gateway] %s status=%d in %s", op, resp.StatusCode(), time.Since(started))

	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		return nil, &Fault{
			Op:      op,
			Kind:    KindServerError,
			Status:  resp.StatusCode(),
			Message: serverMessage(resp.Body()),
		}
	}
	return resp.Body(), nil
}

// serverMessage extracts {"error": "..."} or {"message": "..."} from a failed response.
func serverMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Error != "" {
		return payload.Error
	}
	return payload.Message
}

func withBudget(ctx context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	if budget <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, budget)
}

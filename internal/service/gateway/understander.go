package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"
)

const opUnderstand = "understand"

// Reply is the understander's answer to one user turn.
type Reply struct {
	SessionID  string
	Text       string
	IsComplete bool
}

// Understander delegates text understanding to the NLU service.
type Understander interface {
	Understand(ctx context.Context, text, sessionID string) (Reply, error)
}

// UnderstanderClient calls POST /api/v1/understand.
type UnderstanderClient struct {
	call
	turnBudget      time.Duration
	bootstrapBudget time.Duration
}

// NewUnderstanderClient builds a client for cfg.UnderstanderURL.
func NewUnderstanderClient(cfg Config, tokens TokenSource, logger *zap.SugaredLogger) *UnderstanderClient {
	budget := cfg.UnderstandTimeout
	if cfg.BootstrapTimeout > budget {
		budget = cfg.BootstrapTimeout
	}
	return &UnderstanderClient{
		call:            call{client: newRestyClient(cfg.UnderstanderURL, budget), token: tokens, logger: logger},
		turnBudget:      cfg.UnderstandTimeout,
		bootstrapBudget: cfg.BootstrapTimeout,
	}
}

type understandRequest struct {
	Message   string  `json:"message"`
	SessionID *string `json:"session_id"`
}

type understandResponse struct {
	SessionID *string `json:"session_id"`
	Text      *string `json:"text"`
	State     *struct {
		IsComplete *bool `json:"is_complete"`
	} `json:"state"`
}

// Understand sends one user turn. An empty sessionID asks the server to open
// a new session and is held to the bootstrap budget.
func (c *UnderstanderClient) Understand(ctx context.Context, text, sessionID string) (Reply, error) {
	budget := c.turnBudget
	body := understandRequest{Message: text}
	if sessionID != "" {
		body.SessionID = &sessionID
	} else {
		budget = c.bootstrapBudget
	}

	ctx, cancel := withBudget(ctx, budget)
	defer cancel()

	req, err := c.request(ctx, opUnderstand)
	if err != nil {
		return Reply{}, err
	}

	started := time.Now()
	resp, err := req.SetBody(body).Post("/api/v1/understand")
	raw, err := c.finish(opUnderstand, started, resp, err)
	if err != nil {
		return Reply{}, withSession(err, sessionID)
	}
	return decodeReply(raw)
}

func decodeReply(raw []byte) (Reply, error) {
	var payload understandResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Reply{}, malformed(opUnderstand, "invalid json: %v", err)
	}
	if payload.SessionID == nil || strings.TrimSpace(*payload.SessionID) == "" {
		return Reply{}, malformed(opUnderstand, "missing session_id")
	}
	if payload.Text == nil || strings.TrimSpace(*payload.Text) == "" {
		return Reply{}, malformed(opUnderstand, "missing text")
	}
	if payload.State == nil || payload.State.IsComplete == nil {
		return Reply{}, malformed(opUnderstand, "missing state.is_complete")
	}

	return Reply{
		SessionID:  *payload.SessionID,
		Text:       *payload.Text,
		IsComplete: *payload.State.IsComplete,
	}, nil
}

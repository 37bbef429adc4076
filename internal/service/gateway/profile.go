package gateway

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/fin-onboard/backend/internal/model/persona"
)

const (
	opExtractPersona = "extract_persona"
	opSavePersona    = "save_persona"
)

// ProfileService derives the persona from a completed session and stores it
// against the signed-in user.
type ProfileService interface {
	ExtractPersona(ctx context.Context, sessionID string) (persona.Persona, error)
	SavePersona(ctx context.Context, p persona.Persona) error
}

// ProfileClient extracts personas from the understander and saves them to the
// auth service.
type ProfileClient struct {
	extract call
	save    call
	budget  time.Duration
}

// NewProfileClient builds a client for cfg.UnderstanderURL and cfg.AuthURL.
func NewProfileClient(cfg Config, tokens TokenSource, logger *zap.SugaredLogger) *ProfileClient {
	return &ProfileClient{
		extract: call{client: newRestyClient(cfg.UnderstanderURL, cfg.ProfileTimeout), token: tokens, logger: logger},
		save:    call{client: newRestyClient(cfg.AuthURL, cfg.ProfileTimeout), token: tokens, logger: logger},
		budget:  cfg.ProfileTimeout,
	}
}

// ExtractPersona calls POST /api/v1/user/profile.
func (c *ProfileClient) ExtractPersona(ctx context.Context, sessionID string) (persona.Persona, error) {
	ctx, cancel := withBudget(ctx, c.budget)
	defer cancel()

	req, err := c.extract.request(ctx, opExtractPersona)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	resp, err := req.SetBody(map[string]string{"session_id": sessionID}).Post("/api/v1/user/profile")
	raw, err := c.extract.finish(opExtractPersona, started, resp, err)
	if err != nil {
		return nil, withSession(err, sessionID)
	}
	return decodePersona(raw)
}

func decodePersona(raw []byte) (persona.Persona, error) {
	var payload struct {
		Persona *map[string]any `json:"persona"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, malformed(opExtractPersona, "invalid json: %v", err)
	}
	if payload.Persona == nil {
		return nil, malformed(opExtractPersona, "missing persona")
	}
	p, err := persona.FromObject(*payload.Persona)
	if err != nil {
		return nil, malformed(opExtractPersona, "%v", err)
	}
	return p, nil
}

// SavePersona calls POST /api/v1/auth/persona.
func (c *ProfileClient) SavePersona(ctx context.Context, p persona.Persona) error {
	ctx, cancel := withBudget(ctx, c.budget)
	defer cancel()

	req, err := c.save.request(ctx, opSavePersona)
	if err != nil {
		return err
	}

	started := time.Now()
	resp, err := req.SetBody(map[string]any{"persona": p}).Post("/api/v1/auth/persona")
	raw, err := c.save.finish(opSavePersona, started, resp, err)
	if err != nil {
		return err
	}

	var payload struct {
		Success *bool  `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return malformed(opSavePersona, "invalid json: %v", err)
	}
	if payload.Success == nil {
		return malformed(opSavePersona, "missing success")
	}
	if !*payload.Success {
		return &Fault{Op: opSavePersona, Kind: KindServerError, Status: resp.StatusCode(), Message: payload.Error}
	}
	return nil
}

package onboarding

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/fin-onboard/backend/internal/service/gateway"
	"github.com/zhouzirui/fin-onboard/backend/internal/storage"
)

// ErrUnknownClient is returned for a client id the registry has not opened.
var ErrUnknownClient = errors.New("onboarding: unknown client")

// RegistryConfig wires controllers for every client.
type RegistryConfig struct {
	Controller Config
	Gateway    gateway.Config
	// Storage is shared by all clients; each sees its own namespace.
	Storage storage.KV
	Consent ConsentClassifier
	Logger  *zap.SugaredLogger
	// NewGateway replaces the HTTP gateway, e.g. with fakes in tests.
	NewGateway func(tokens gateway.TokenSource) gateway.Gateway
}

// Client is one browser client's controller plus its private storage.
type Client struct {
	ID string
	*Controller

	kv storage.KV
}

// SetToken records the bearer token the client signed in with. Persona saves
// read it from here. An empty token leaves the stored one alone.
func (c *Client) SetToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	return c.kv.Set(ctx, gateway.TokenKey, token)
}

func (c *Client) close() {
	c.Controller.Close()
}

// Registry holds one controller per client id.
type Registry struct {
	cfg    RegistryConfig
	logger *zap.SugaredLogger

	mu      sync.Mutex
	clients map[string]*Client
	closed  bool
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Storage == nil {
		cfg.Storage = storage.NewMemoryStore()
	}
	if cfg.NewGateway == nil {
		gwCfg, logger := cfg.Gateway, cfg.Logger
		cfg.NewGateway = func(tokens gateway.TokenSource) gateway.Gateway {
			return gateway.New(gwCfg, tokens, logger)
		}
	}
	return &Registry{cfg: cfg, logger: cfg.Logger, clients: make(map[string]*Client)}
}

// Open returns the controller for clientID, creating it when needed. An empty
// id mints a new one. A new controller for a known id picks up whatever that
// client persisted before. created reports whether Start still has to run.
func (r *Registry) Open(clientID string) (client *Client, created bool, err error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		clientID = uuid.NewString()
	} else if _, perr := uuid.Parse(clientID); perr != nil {
		return nil, false, ErrUnknownClient
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false, ErrClosed
	}
	if existing, ok := r.clients[clientID]; ok {
		return existing, false, nil
	}

	kv := storage.WithNamespace(r.cfg.Storage, "client:"+clientID)
	ctrl := New(r.cfg.Controller, Deps{
		Gateway: r.cfg.NewGateway(gateway.StoredToken{KV: kv}),
		Storage: kv,
		Consent: r.cfg.Consent,
		Logger:  r.logger.With("client", clientID),
	})

	client = &Client{ID: clientID, Controller: ctrl, kv: kv}

	r.clients[clientID] = client
	r.logger.Infof("[onboarding] opened client %s", clientID)
	return client, true, nil
}

// Get looks up an open client.
func (r *Registry) Get(clientID string) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	client, ok := r.clients[clientID]
	if !ok {
		return nil, ErrUnknownClient
	}
	return client, nil
}

// Remove closes and forgets a client. Persisted data is kept.
func (r *Registry) Remove(clientID string) {
	r.mu.Lock()
	client, ok := r.clients[clientID]
	delete(r.clients, clientID)
	r.mu.Unlock()
	if ok {
		client.close()
	}
}

// Len is the number of open clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Close shuts every controller down.
func (r *Registry) Close() {
	r.mu.Lock()
	clients := make([]*Client, 0, len(r.clients))
	for id, c := range r.clients {
		clients = append(clients, c)
		delete(r.clients, id)
	}
	r.closed = true
	r.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

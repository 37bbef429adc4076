package gateway

import "go.uber.org/zap"

// Gateway groups the three service clients one controller talks to.
type Gateway struct {
	Understander Understander
	Profiles     ProfileService
	Recommender  Recommender
}

// New builds HTTP clients for every remote service.
func New(cfg Config, tokens TokenSource, logger *zap.SugaredLogger) Gateway {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return Gateway{
		Understander: NewUnderstanderClient(cfg, tokens, logger),
		Profiles:     NewProfileClient(cfg, tokens, logger),
		Recommender:  NewRecommenderClient(cfg, tokens, logger),
	}
}

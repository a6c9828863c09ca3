package ai

import (
	"context"

	"github.com/pledgeflow/reconciler/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Cfg       config.Config
	Log       *zap.Logger
}

// NewOracle wires GeminiOracle when GEMINI_API_KEY is configured, else
// falls back to NoOpOracle — the email.NoOpProvider pattern applied to
// the AI seam.
func NewOracle(p Params) Oracle {
	if p.Cfg.GeminiAPIKey == "" {
		p.Log.Warn("ai: GEMINI_API_KEY not set, using NoOpOracle")
		return NoOpOracle{}
	}

	oracle, err := NewGeminiOracle(context.Background(), p.Cfg.GeminiAPIKey, p.Cfg.GeminiModel, p.Log)
	if err != nil {
		p.Log.Error("ai: failed to initialize GeminiOracle, falling back to NoOpOracle", zap.Error(err))
		return NoOpOracle{}
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return oracle.Close()
		},
	})
	return oracle
}

var Module = fx.Module("ai.oracle",
	fx.Provide(NewOracle),
)

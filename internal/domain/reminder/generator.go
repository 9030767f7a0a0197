package reminder

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Generator runs the periodic regeneration batch that keeps every active
// medication's reminder horizon topped up.
type Generator struct {
	svc *Service
	log zerolog.Logger

	// Interval controls how often Start runs a pass.
	Interval time.Duration
	// DaysAhead is the horizon each pass fills.
	DaysAhead int
}

func NewGenerator(svc *Service, log zerolog.Logger) *Generator {
	return &Generator{
		svc:       svc,
		log:       log.With().Str("component", "generator").Logger(),
		Interval:  24 * time.Hour,
		DaysAhead: 7,
	}
}

// Start runs regeneration passes until ctx is cancelled.
func (g *Generator) Start(ctx context.Context) {
	ticker := time.NewTicker(g.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := g.RunOnce(ctx); err != nil {
				g.log.Error().Err(err).Msg("generation pass failed")
			}
		}
	}
}

// RunOnce regenerates reminders for all active medications and returns how
// many were created.
func (g *Generator) RunOnce(ctx context.Context) (int, error) {
	return g.svc.RegenerateAll(ctx, g.DaysAhead)
}

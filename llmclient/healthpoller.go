package llmclient

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ledgerflow/ledgercore/external"
	"github.com/ledgerflow/ledgercore/metrics"
)

// HealthPoller periodically exercises the configured LLM provider with
// a cheap probe prompt and caches whether it is currently reachable;
// Healthy reports the last probe's result. The classifier does not
// consult it.
// Adapted from a multi-provider gateway's health poller, trimmed to the
// single-provider case.
type HealthPoller struct {
	provider     external.LLMProvider
	providerName string
	logger       zerolog.Logger
	interval     time.Duration
	healthy      atomic.Bool
	metrics      *metrics.Metrics

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHealthPoller constructs a HealthPoller for a provider identified by
// providerName (used as the LLMHealthy gauge's label, e.g. "anthropic").
// m may be nil in tests that don't assert on exported metrics.
func NewHealthPoller(provider external.LLMProvider, providerName string, logger zerolog.Logger, interval time.Duration, m *metrics.Metrics) *HealthPoller {
	if interval < 5*time.Second {
		interval = 30 * time.Second
	}
	hp := &HealthPoller{
		provider:     provider,
		providerName: providerName,
		logger:       logger.With().Str("component", "llm_health_poller").Logger(),
		interval:     interval,
		metrics:      m,
		done:         make(chan struct{}),
	}
	healthy := provider != nil
	hp.healthy.Store(healthy)
	hp.recordHealthy(healthy)
	return hp
}

func (hp *HealthPoller) recordHealthy(healthy bool) {
	if hp.metrics == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1.0
	}
	hp.metrics.LLMHealthy.WithLabelValues(hp.providerName).Set(v)
}

func (hp *HealthPoller) Start() {
	if hp.provider == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	hp.cancel = cancel
	go hp.loop(ctx)
}

func (hp *HealthPoller) Stop() {
	if hp.cancel != nil {
		hp.cancel()
		<-hp.done
	}
}

func (hp *HealthPoller) loop(ctx context.Context) {
	defer close(hp.done)
	ticker := time.NewTicker(hp.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hp.probe(ctx)
		}
	}
}

func (hp *HealthPoller) probe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, hp.interval/2)
	defer cancel()

	_, err := hp.provider.Classify(pctx, "ping")
	wasHealthy := hp.healthy.Load()
	healthy := err == nil
	hp.healthy.Store(healthy)
	hp.recordHealthy(healthy)
	if wasHealthy != healthy {
		hp.logger.Warn().Bool("healthy", healthy).Err(err).Msg("llm provider health transition")
	}
}

// Healthy reports the last-observed reachability of the configured
// provider.
func (hp *HealthPoller) Healthy() bool {
	return hp.healthy.Load()
}

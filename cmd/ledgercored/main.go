// Command ledgercored runs the replicated ledger core as an HTTP
// service: entity CRUD, the sync orchestrator, and the transaction
// classifier, behind the full middleware chain.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ledgerflow/ledgercore/audit"
	"github.com/ledgerflow/ledgercore/cache"
	"github.com/ledgerflow/ledgercore/classifier"
	"github.com/ledgerflow/ledgercore/concurrency"
	"github.com/ledgerflow/ledgercore/config"
	"github.com/ledgerflow/ledgercore/entity"
	"github.com/ledgerflow/ledgercore/external"
	"github.com/ledgerflow/ledgercore/fx"
	"github.com/ledgerflow/ledgercore/llmclient"
	"github.com/ledgerflow/ledgercore/localstore"
	"github.com/ledgerflow/ledgercore/logger"
	"github.com/ledgerflow/ledgercore/metrics"
	"github.com/ledgerflow/ledgercore/redisclient"
	"github.com/ledgerflow/ledgercore/router"
	"github.com/ledgerflow/ledgercore/ruleengine"
	"github.com/ledgerflow/ledgercore/sync"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("ledgercored starting")

	redisClient, err := redisclient.New(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("redis init failed, continuing without a shared cache")
		redisClient = nil
	} else if err := redisclient.Ping(redisClient); err != nil {
		log.Warn().Err(err).Msg("redis ping failed, continuing without a shared cache")
		redisClient = nil
	} else {
		log.Info().Msg("redis connected")
	}

	m := metrics.New()

	readCache := cache.New(log, redisClient, cache.Config{}, m)

	fxUpstream := external.NewHTTPFXProvider("https://api.exchangerate.host", 5*time.Second)
	fxResolver := fx.New(log, readCache, fxUpstream)

	localKV, err := external.NewFileKV(cfg.LocalDataDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.LocalDataDir).Msg("failed to open local data directory")
	}
	persist := localstore.New(localKV)

	store := entity.NewStore(log, fxResolver, readCache, persist, entity.Config{})

	auditSink := audit.NewLogSink(log)
	auditPipeline := audit.NewPipeline(log, auditSink, audit.Config{}, m)
	auditPipeline.Start(context.Background())

	// The production cloud counterpart (object storage or a managed
	// document backend) is swapped in behind external.CloudDocumentStore;
	// this in-memory store lets a single ledgercored instance round-trip
	// syncs against itself in self-hosted, single-replica deployments.
	docs := external.NewInMemoryCloudStore()
	syncGuard := concurrency.NewSyncGuard()
	identityProvider := external.NewContextIdentityProvider()
	orch := sync.New(identityProvider, docs, store, syncGuard, sync.Config{
		DebounceWindow: cfg.SyncDebounceWindow,
	}, log, m)
	orch.StartAutoSync(context.Background())

	var llmProvider external.LLMProvider = llmclient.NullProvider{}
	var healthPoller *llmclient.HealthPoller
	if cfg.LLMEnabled && cfg.AnthropicAPIKey != "" {
		anthropicClient := llmclient.NewAnthropicClassifier(llmclient.Config{
			APIKey:  cfg.AnthropicAPIKey,
			BaseURL: cfg.AnthropicBaseURL,
			Model:   cfg.AnthropicModel,
		}, m)
		llmProvider = anthropicClient
		healthPoller = llmclient.NewHealthPoller(anthropicClient, "anthropic", log, 30*time.Second, m)
		healthPoller.Start()
		log.Info().Msg("anthropic classifier connector enabled")
	}

	rules := ruleengine.NewEngine(log)
	for _, rule := range ruleengine.DefaultRules() {
		rules.AddRule(rule)
	}
	merchants := classifier.NewMerchantIndex()
	cls := classifier.New(store, merchants, rules, llmProvider, classifier.Config{
		LLMEnabled:             cfg.LLMEnabled,
		LLMConfidenceThreshold: cfg.LLMConfidenceThreshold,
	}, log, m)

	pending := entity.NewPendingQueue()

	go func() {
		for ev := range store.Changes() {
			auditPipeline.Record(audit.Event{
				Kind:     audit.EventEntityMutated,
				UserID:   ev.UserID,
				EntityID: ev.ID,
				Detail:   map[string]any{"kind": ev.Kind},
			})
		}
	}()

	handlerRouter := router.New(cfg, log, router.Deps{
		Store:      store,
		Orch:       orch,
		Classifier: cls,
		Pending:    pending,
		Metrics:    m,
		Redis:      redisClient,
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handlerRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.DefaultTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("ledgercored listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	if healthPoller != nil {
		healthPoller.Stop()
	}
	auditPipeline.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("ledgercored stopped gracefully")
	}
}

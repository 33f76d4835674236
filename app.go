// app.go wires the configured components together. Every subcommand opens
// one app and closes it on exit.
package main

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/AaronKronberg/OpusPipeline/internal/config"
	"github.com/AaronKronberg/OpusPipeline/internal/events"
	"github.com/AaronKronberg/OpusPipeline/internal/executor"
	"github.com/AaronKronberg/OpusPipeline/internal/knowledge"
	"github.com/AaronKronberg/OpusPipeline/internal/llm"
	"github.com/AaronKronberg/OpusPipeline/internal/logging"
	"github.com/AaronKronberg/OpusPipeline/internal/metrics"
	"github.com/AaronKronberg/OpusPipeline/internal/pipeline"
	"github.com/AaronKronberg/OpusPipeline/internal/prompt"
	"github.com/AaronKronberg/OpusPipeline/internal/queue"
	"github.com/AaronKronberg/OpusPipeline/internal/store"
	"github.com/AaronKronberg/OpusPipeline/internal/tracker"
)

type app struct {
	cfg       *config.Config
	log       *zap.Logger
	store     *store.Store
	tracker   *tracker.Tracker
	knowledge *knowledge.Store
	completer *llm.OllamaCompleter
	resolver  *prompt.Resolver
	composer  *pipeline.Composer
	events    events.Publisher
	metrics   *metrics.Metrics
}

// openApp loads the config, opens and migrates the database and builds the
// shared components. Nothing here talks to Redis or Ollama yet.
func openApp(cfgFile string) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Database.Path, log.Named("store"))
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(context.Background()); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate %s: %w", cfg.Database.Path, err)
	}

	completer, err := llm.NewOllamaCompleter(cfg.Ollama.Host, cfg.Ollama.DefaultModel, cfg.Ollama.Timeout, log.Named("llm"))
	if err != nil {
		st.Close()
		return nil, err
	}

	var pub events.Publisher = events.Nop{}
	if cfg.Events.NATSURL != "" {
		p, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.SubjectPrefix)
		if err != nil {
			st.Close()
			return nil, err
		}
		pub = p
	}

	kb := knowledge.NewStore(st.DB())
	opts := []prompt.Option{prompt.WithMaxDepth(cfg.Prompt.MaxDepth)}
	if cfg.Prompt.ChainWithModel {
		opts = append(opts, prompt.WithSubPromptRunner(llm.SubPromptRunner{Completer: completer}))
	}
	resolver := prompt.NewResolver(st, opts...)
	composer := pipeline.New(st, resolver,
		pipeline.WithKnowledge(kb),
		pipeline.WithProfiles(cfg.Models),
		pipeline.WithContextLen(cfg.Knowledge.MaxContextLen),
		pipeline.WithLogger(log.Named("pipeline")),
	)

	return &app{
		cfg:       cfg,
		log:       log,
		store:     st,
		tracker:   tracker.New(st.DB()),
		knowledge: kb,
		completer: completer,
		resolver:  resolver,
		composer:  composer,
		events:    pub,
		metrics:   metrics.New(),
	}, nil
}

func (a *app) deps() executor.Deps {
	return executor.Deps{
		Store:    a.store,
		Tracker:  a.tracker,
		Composer: a.composer,
		Events:   a.events,
		Metrics:  a.metrics,
		Log:      a.log.Named("executor"),
	}
}

func (a *app) redis() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	}
}

func (a *app) queueOptions() queue.Options {
	return queue.Options{
		Queue:    a.cfg.Worker.Queue,
		MaxRetry: a.cfg.Worker.MaxRetry,
		Timeout:  a.cfg.Worker.TaskTimeout,
	}
}

func (a *app) Close() {
	if err := a.events.Close(); err != nil {
		a.log.Warn("close event publisher", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("close store", zap.Error(err))
	}
	_ = a.log.Sync()
}

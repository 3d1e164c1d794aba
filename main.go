package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"parley/backend/internal/app"
	"parley/backend/internal/config"
	"parley/backend/internal/logger"
	"parley/backend/internal/worker"

	"github.com/nsqio/go-nsq"
)

func main() {
	// Structured logger with correlation id propagation
	handler := logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(slog.New(handler))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer deps.DB.Close()
	defer deps.Embedder.Close()
	defer deps.Generator.Close()
	defer deps.NSQProducer.Stop()

	a, err := app.New(cfg, deps.DB, deps.VectorStore, deps.Embedder, deps.Generator, deps.NSQProducer)
	if err != nil {
		slog.Error("failed to wire app", "error", err)
		os.Exit(1)
	}

	if cfg.EnableScheduler {
		go a.Scheduler.Start(ctx)
		slog.Info("embedding scheduler started",
			"interval_seconds", cfg.SchedulerIntervalSeconds, "page_size", cfg.SchedulerPageSize)
	}

	var consumers []*nsq.Consumer
	if cfg.EnableEventConsumer {
		consumers = connectEventConsumers(cfg, a.EventConsumer)
	}
	defer func() {
		for _, c := range consumers {
			c.Stop()
		}
	}()

	if err := a.Run(ctx); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// connectEventConsumers subscribes to the chat app's lifecycle topics so
// deleted messages drop their vectors and edited messages get re-embedded.
func connectEventConsumers(cfg *config.Config, ec *worker.EventConsumer) []*nsq.Consumer {
	subscribe := func(topic string, h nsq.HandlerFunc) *nsq.Consumer {
		consumer, err := nsq.NewConsumer(topic, "embeddings", nsq.NewConfig())
		if err != nil {
			slog.Error("failed to create NSQ consumer", "topic", topic, "error", err)
			return nil
		}
		consumer.AddHandler(h)
		if err := consumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
			slog.Error("failed to connect to NSQLookupd", "topic", topic, "error", err)
			return nil
		}
		slog.Info("NSQ consumer connected", "topic", topic)
		return consumer
	}

	var consumers []*nsq.Consumer
	if c := subscribe(config.TopicMessageDeleted, ec.HandleDeleted); c != nil {
		consumers = append(consumers, c)
	}
	if c := subscribe(config.TopicMessageUpdated, ec.HandleUpdated); c != nil {
		consumers = append(consumers, c)
	}
	return consumers
}

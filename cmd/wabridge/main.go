// wabridge relays WhatsApp messages to an HTTP backend and answers text
// messages with an echo or an AI reply.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sipeed/wabridge/pkg/api"
	"github.com/sipeed/wabridge/pkg/bus"
	"github.com/sipeed/wabridge/pkg/config"
	"github.com/sipeed/wabridge/pkg/dispatcher"
	"github.com/sipeed/wabridge/pkg/forwarder"
	"github.com/sipeed/wabridge/pkg/infrastructure/eventbus"
	"github.com/sipeed/wabridge/pkg/logger"
	"github.com/sipeed/wabridge/pkg/media"
	"github.com/sipeed/wabridge/pkg/providers"
	"github.com/sipeed/wabridge/pkg/responder"
	"github.com/sipeed/wabridge/pkg/whatsapp"
)

const inboundQueueSize = 64

func main() {
	os.Exit(realMain())
}

// realMain returns the exit code so deferred cleanup runs before os.Exit.
func realMain() int {
	configPath := flag.String("config", os.Getenv("WABRIDGE_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wabridge: %v\n", err)
		return 1
	}
	if err := logger.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
		fmt.Fprintf(os.Stderr, "wabridge: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.ErrorCF("main", "wabridge stopped with error", map[string]interface{}{
			"error": err,
		})
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg *config.Config) error {
	events := eventbus.New()
	defer events.Close()

	msgBus := bus.NewMessageBus(inboundQueueSize)

	mgr, err := whatsapp.NewManager(ctx, whatsapp.Options{
		SessionDB: cfg.WhatsApp.SessionDB,
		SendRate:  cfg.WhatsApp.SendRate,
		SendBurst: cfg.WhatsApp.SendBurst,
	}, msgBus, events)
	if err != nil {
		return err
	}
	defer mgr.Close()

	var llm providers.LLM
	if cfg.Bot.AIEnabled {
		provider, err := providers.CreateProvider(cfg.AI)
		if err != nil {
			logger.WarnCF("main", "AI provider unavailable, replies will use the fallback text", map[string]interface{}{
				"provider": cfg.AI.Provider,
				"error":    err,
			})
		} else {
			llm = providers.NewGenerator(provider, cfg.AI)
			logger.InfoCF("main", "AI replies enabled", map[string]interface{}{
				"provider": cfg.AI.Provider,
				"model":    cfg.AI.Model,
			})
		}
	}

	resp := responder.New(mgr, llm, responder.Config{
		AIEnabled:    cfg.Bot.AIEnabled,
		EchoPrefix:   cfg.Bot.EchoPrefix,
		FallbackText: cfg.Bot.FallbackText,
	})
	receipts := media.NewStore(cfg.Relay.ReceiptsDir)
	disp := dispatcher.New(
		receipts,
		forwarder.New(cfg.Backend.URL, cfg.Backend.Secret, cfg.Backend.Timeout),
		resp,
		events,
		dispatcher.Config{
			AllowFrom:      cfg.Relay.AllowFrom,
			MessageTimeout: cfg.Relay.MessageTimeout,
		},
	)

	// The dispatcher outlives ctx so queued messages drain after a signal.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		disp.Run(context.WithoutCancel(ctx), msgBus)
	}()

	srv := api.NewServer(cfg.Gateway, mgr, events)
	if err := srv.Start(ctx); err != nil {
		msgBus.Close()
		wg.Wait()
		return err
	}

	if err := mgr.Start(ctx); err != nil {
		srv.Stop()
		msgBus.Close()
		wg.Wait()
		return err
	}

	logger.InfoCF("main", "wabridge running", map[string]interface{}{
		"addr":     cfg.Gateway.Addr(),
		"backend":  cfg.Backend.URL,
		"ai":       cfg.Bot.AIEnabled,
		"receipts": receipts.Dir(),
	})

	<-ctx.Done()
	logger.InfoC("main", "Shutting down")

	if err := srv.Stop(); err != nil {
		logger.WarnCF("main", "HTTP shutdown error", map[string]interface{}{"error": err})
	}
	msgBus.Close()
	wg.Wait()
	return nil
}

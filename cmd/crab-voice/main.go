package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"crabstack.local/projects/crab-voice/internal/calls"
	"crabstack.local/projects/crab-voice/internal/completion"
	"crabstack.local/projects/crab-voice/internal/config"
	"crabstack.local/projects/crab-voice/internal/dispatch"
	"crabstack.local/projects/crab-voice/internal/httpapi"
	"crabstack.local/projects/crab-voice/internal/listener"
	"crabstack.local/projects/crab-voice/internal/locale"
	"crabstack.local/projects/crab-voice/internal/media"
	"crabstack.local/projects/crab-voice/internal/messaging"
	"crabstack.local/projects/crab-voice/internal/metrics"
	"crabstack.local/projects/crab-voice/internal/pool"
	"crabstack.local/projects/crab-voice/internal/queue"
	"crabstack.local/projects/crab-voice/internal/state"
	"crabstack.local/projects/crab-voice/internal/subscribers"
	logging "crabstack.local/projects/crab-voice/internal/subscribers/logging"
	"crabstack.local/projects/crab-voice/internal/subscribers/webhook"
	"crabstack.local/projects/crab-voice/internal/voice/bridge"
)

func main() {
	logger := log.New(os.Stdout, "crab-voice ", log.Ldate|log.Ltime|log.Lmicroseconds|log.LUTC)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Printf(".env load warning: %v", err)
	}
	cfg, err := config.FromYAMLAndEnv()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	sessions := pool.New(logger)
	clients := make([]*bridge.Client, 0, len(cfg.Assistants))
	for _, assistant := range cfg.Assistants {
		client := bridge.New(assistant.Name, assistant.URL, logger, bridge.WithPingInterval(cfg.PingInterval))
		if err := sessions.Add(client); err != nil {
			logger.Fatalf("invalid assistant %s: %v", assistant.Name, err)
		}
		clients = append(clients, client)
	}
	defer func() {
		for _, client := range clients {
			if err := client.Close(); err != nil {
				logger.Printf("bridge close error identity=%s err=%v", client.Identity(), err)
			}
		}
	}()

	store, err := state.Open(cfg.DBDriver, cfg.DBDSN, logger)
	if err != nil {
		logger.Fatalf("failed to initialize state store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Printf("store close error: %v", err)
		}
	}()

	catalog, err := locale.NewCatalog(cfg.DefaultLang, logger)
	if err != nil {
		logger.Fatalf("failed to load languages: %v", err)
	}
	if err := catalog.LoadDir(cfg.LangDir); err != nil {
		logger.Fatalf("failed to load language dir: %v", err)
	}

	session, err := messaging.NewDiscordSession(cfg.DiscordBotToken)
	if err != nil {
		logger.Fatalf("failed to create discord session: %v", err)
	}

	subs := []subscribers.Subscriber{logging.New(logger)}
	for idx, webhookURL := range cfg.WebhookURLs {
		subs = append(subs, webhook.New(webhookSubscriberName(idx, webhookURL), webhookURL, logger))
	}
	dispatcher := dispatch.New(logger, subs)

	m := metrics.New("")

	orchestrator, err := calls.New(calls.Config{
		DefaultThumbnail: cfg.DefaultThumbnail,
		SupportChat:      cfg.SupportChat,
	}, calls.Deps{
		Pool:      sessions,
		Store:     store,
		Queue:     queue.NewMemoryQueue(),
		Messenger: messaging.NewDiscord(session),
		Fetcher:   media.NewYTDLP(cfg.MediaCacheDir, cfg.MediaBaseURL, logger),
		Locale:    catalog,
		Events:    dispatcher,
		Metrics:   m,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatalf("failed to build call orchestrator: %v", err)
	}
	if err := m.RegisterAveragePing(orchestrator.AveragePing); err != nil {
		logger.Fatalf("failed to register ping gauge: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	completions := completion.NewListener(orchestrator, logger, cfg.NotifyQueueSize, completion.WithMetrics(m))
	bootCtx, bootCancel := context.WithTimeout(ctx, 30*time.Second)
	err = orchestrator.Boot(bootCtx, completions)
	bootCancel()
	if err != nil {
		if errors.Is(err, pool.ErrNoHandles) {
			logger.Fatalf("no assistants available: %v", err)
		}
		logger.Fatalf("boot failed: %v", err)
	}

	controls := listener.NewListener(orchestrator, logger)
	if err := controls.Start(ctx, session); err != nil {
		logger.Fatalf("failed to start control listener: %v", err)
	}

	srv := httpapi.NewServer(logger, cfg.HTTPAddr, orchestrator, m.Handler())
	go func() {
		logger.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server crashed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http server shutdown error: %v", err)
	}
	if err := controls.Stop(); err != nil {
		logger.Printf("control listener shutdown error: %v", err)
	}
	if err := completions.Close(shutdownCtx); err != nil {
		logger.Printf("completion listener shutdown error: %v", err)
	}
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		logger.Printf("event delivery shutdown error: %v", err)
	}
}

func webhookSubscriberName(index int, webhookURL string) string {
	parsed, err := url.Parse(webhookURL)
	if err == nil {
		host := strings.TrimSpace(parsed.Host)
		if host != "" {
			return host
		}
	}
	return fmt.Sprintf("webhook-%d", index+1)
}

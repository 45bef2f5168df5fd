package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"

	appConfig "chimebot/config"
	"chimebot/controller"
	"chimebot/discord"
	"chimebot/handlers"
	"chimebot/logging"
	appSentry "chimebot/sentry"
	"chimebot/server"
	"chimebot/stats"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warnf("Error loading .env file: %v", err)
	}
	if err := appConfig.NewConfig(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := logging.Setup(appConfig.Config.Options.LogLevel); err != nil {
		log.Warnf("%v, falling back to info", err)
	}
	if err := appSentry.Init(appConfig.Config.Sentry.DSN, appConfig.Config.Sentry.Release); err != nil {
		log.Fatalf("sentry.Init: %v", err)
	}
	defer appSentry.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		appSentry.ReportError(err)
		log.Errorf("chimebot stopped: %v", err)
		appSentry.Flush(2 * time.Second)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg := appConfig.Config

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := stats.NewMetrics(registry)

	session, err := discord.NewSession(cfg)
	if err != nil {
		return err
	}

	identity, err := discord.FetchIdentity(session, cfg.Discord.AppID)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"module": "main",
	}).Infof("running as %s, owners: %v", identity.BotName, identity.OwnerIDs())

	// left nil when voice is disabled
	var (
		voice     *controller.Controller
		joiner    handlers.VoiceJoiner
		voiceSink handlers.BotVoiceStateSink
		sessions  server.VoiceSessions
	)
	if cfg.Voice.Enabled {
		voice = controller.NewController(
			discord.NewVoiceTransport(session),
			discord.NewVoiceStateResolver(session.State),
			controller.Options{
				TickInterval: cfg.Voice.TickInterval(),
				Metrics:      metrics,
			},
		)
		joiner, voiceSink, sessions = voice, voice, voice
	}

	catalog := handlers.NewCatalog(cfg.Voice.Enabled, cfg.Discord.TestGuildID)
	dispatcher := handlers.NewDispatcher(stats.NewCommandCounter(), metrics, joiner).WithHelp(handlers.HelpOptions{
		Catalog: catalog,
		Owners:  identity,
		Prefix:  cfg.Prefix.Prefix,
	})
	manager := handlers.NewManager(session, dispatcher, voiceSink, handlers.Options{
		AppID:         cfg.Discord.AppID,
		Catalog:       catalog,
		PrefixEnabled: cfg.Prefix.Enabled,
		Prefix:        cfg.Prefix.Prefix,
		Metrics:       metrics,
	})
	manager.SetBotUserID(identity.BotUserID)
	for _, remove := range manager.Attach(session) {
		defer remove()
	}

	if err := session.Open(); err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warnf("error closing discord session: %v", err)
		}
	}()

	srv := server.NewServer(server.Options{
		Port:     cfg.Options.Port,
		Gatherer: registry,
		Gateway:  manager,
		Commands: dispatcher.Counter(),
		Voice:    sessions,
	})
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Run()
	}()

	log.Info("Bot is now running. Press CTRL-C to exit.")

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-serverErr:
	}

	if voice != nil {
		voice.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Warnf("error shutting down server: %v", shutdownErr)
	}
	return err
}

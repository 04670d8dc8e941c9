package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mailpilot-io/mailpilot-ce/internal/api"
	"github.com/mailpilot-io/mailpilot-ce/internal/auth"
	"github.com/mailpilot-io/mailpilot-ce/internal/automation"
	"github.com/mailpilot-io/mailpilot-ce/internal/autoreply"
	"github.com/mailpilot-io/mailpilot-ce/internal/config"
	"github.com/mailpilot-io/mailpilot-ce/internal/database"
	"github.com/mailpilot-io/mailpilot-ce/internal/dnsverify"
	"github.com/mailpilot-io/mailpilot-ce/internal/email/connector"
	"github.com/mailpilot-io/mailpilot-ce/internal/email/ingest"
	"github.com/mailpilot-io/mailpilot-ce/internal/email/outbound"
	"github.com/mailpilot-io/mailpilot-ce/internal/mailbox"
	"github.com/mailpilot-io/mailpilot-ce/internal/reply"
	"github.com/mailpilot-io/mailpilot-ce/internal/repository"
	"github.com/mailpilot-io/mailpilot-ce/internal/runner"
	"github.com/mailpilot-io/mailpilot-ce/internal/runner/tasks"
	"github.com/mailpilot-io/mailpilot-ce/internal/scheduler"
	"github.com/mailpilot-io/mailpilot-ce/internal/secrets"
	"github.com/mailpilot-io/mailpilot-ce/internal/verification"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:     "mailpilot",
	Short:   "Tenant mailbox synchronization and automation engine",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background sync runner",
	RunE:  runServe,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass over all active mailboxes and exit",
	RunE:  runSyncOnce,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the configuration file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the wired engine.
type app struct {
	cfg    *config.Config
	syncer *scheduler.Syncer
	server *api.Server

	accounts  *repository.MailAccountRepository
	verifier  *dnsverify.Verifier
	autoreply *autoreply.Service
}

func buildApp() (*app, func(), error) {
	if err := config.Load(configPath); err != nil {
		return nil, nil, err
	}
	cfg := config.Get()

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { db.Close() }
	if err := database.Migrate(db, "postgres"); err != nil {
		cleanup()
		return nil, nil, err
	}

	sealer, err := secrets.NewSealer(cfg.Secrets.EncryptionSecret)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	accounts := repository.NewMailAccountRepository(db)
	messages := repository.NewIncomingMessageRepository(db)
	logs := repository.NewOutgoingLogRepository(db)
	automations := repository.NewMailboxAutomationRepository(db)
	dnsRecords := repository.NewDNSRecordRepository(db)
	projects := repository.NewAutomationProjectRepository(db)

	workerOpts := []ingest.WorkerOption{}
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		workerOpts = append(workerOpts, ingest.WithDeduper(ingest.NewRedisDeduper(client, 0)))
	}
	worker := ingest.NewWorker(messages, workerOpts...)

	syncer := scheduler.NewSyncer(accounts, connector.DefaultFactory(), worker, sealer,
		scheduler.WithWorkers(cfg.Sync.Workers),
		scheduler.WithFetchLimit(cfg.Sync.FetchLimit),
	)

	verifier := dnsverify.NewVerifier(dnsRecords, cfg.DNS.Resolver, cfg.DNS.Timeout)
	verificationSvc := verification.NewService(accounts, automations, dnsRecords, sealer,
		verification.WithCheckTimeout(cfg.Sync.AuthTimeout))
	sender := outbound.NewSMTPSender(cfg.Sync.AuthTimeout, cfg.Sync.SendTimeout)
	dispatcher := outbound.NewDispatcher(messages, logs, automations, sealer, sender,
		outbound.WithSendTimeout(cfg.Sync.SendTimeout))
	controller := automation.NewController(projects, accounts, automations)
	registry := mailbox.NewRegistry(accounts, dnsRecords, sealer)
	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, 24*time.Hour)

	server := api.NewServer(registry, syncer, verifier, verificationSvc, dispatcher,
		controller, dnsRecords, jwtManager)

	aiClient := &http.Client{Timeout: cfg.AI.Timeout}
	var providers []reply.Provider
	if cfg.AI.OpenAIKey != "" {
		providers = append(providers, reply.NewOpenAI(cfg.AI.OpenAIKey, reply.WithChatHTTPClient(aiClient)))
	}
	if cfg.AI.DeepSeekKey != "" {
		providers = append(providers, reply.NewDeepSeek(cfg.AI.DeepSeekKey, reply.WithChatHTTPClient(aiClient)))
	}
	if cfg.AI.GeminiKey != "" {
		providers = append(providers, reply.NewGemini(cfg.AI.GeminiKey, reply.WithGeminiHTTPClient(aiClient)))
	}
	if cfg.AI.ClaudeKey != "" {
		providers = append(providers, reply.NewClaude(cfg.AI.ClaudeKey, reply.WithClaudeHTTPClient(aiClient)))
	}
	attempts := repository.NewReplyAttemptRepository(db)
	chain := reply.NewChain(attempts, providers)
	settings := repository.NewTenantAISettingsRepository(db)
	autoReply := autoreply.NewService(accounts, messages, settings, automations, chain, dispatcher)

	return &app{
		cfg:       cfg,
		syncer:    syncer,
		server:    server,
		accounts:  accounts,
		verifier:  verifier,
		autoreply: autoReply,
	}, cleanup, nil
}

func runServe(_ *cobra.Command, _ []string) error {
	a, cleanup, err := buildApp()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	background := runner.New()
	if err := background.Register(tasks.NewMailSync(a.syncer, a.cfg.Sync.Schedule, 0)); err != nil {
		return err
	}
	if err := background.Register(tasks.NewDNSVerify(a.accounts, a.verifier, "")); err != nil {
		return err
	}
	if err := background.Register(tasks.NewAutoReply(a.autoreply, "")); err != nil {
		return err
	}
	go func() {
		if err := background.Run(ctx); err != nil {
			log.Printf("[RUNNER] stopped: %v", err)
		}
	}()

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port),
		Handler: a.server.Router(),
	}
	go func() {
		log.Printf("[SERVER] listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[SERVER] %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func runSyncOnce(_ *cobra.Command, _ []string) error {
	a, cleanup, err := buildApp()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := a.syncer.RunPass(ctx)
	if result != nil {
		log.Printf("[SYNC] pass finished: %d total, %d succeeded, %d failed, %d skipped, %d inserted",
			result.Total, result.Succeeded, result.Failed, result.Skipped, result.Inserted)
	}
	return err
}

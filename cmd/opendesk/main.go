package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opendesk-io/opendesk-ce/internal/api"
	"github.com/opendesk-io/opendesk-ce/internal/config"
	"github.com/opendesk-io/opendesk-ce/internal/database"
	"github.com/opendesk-io/opendesk-ce/internal/displayid"
	"github.com/opendesk-io/opendesk-ce/internal/email/inbound/connector"
	"github.com/opendesk-io/opendesk-ce/internal/email/inbound/filters"
	"github.com/opendesk-io/opendesk-ce/internal/email/inbound/postmaster"
	"github.com/opendesk-io/opendesk-ce/internal/email/pipeline"
	"github.com/opendesk-io/opendesk-ce/internal/notifications"
	"github.com/opendesk-io/opendesk-ce/internal/repository"
	"github.com/opendesk-io/opendesk-ce/internal/runner"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "opendesk",
	Short:   "OpenDesk - helpdesk ticketing server",
	Long:    "OpenDesk runs the ticket API, the mailbox ingestion poller, and outbound notifications.",
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the mail ingestion poller",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and exit",
	RunE:  runMigrate,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".", "directory containing config.yaml")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openDatabase(cfg *config.Config) (*database.DB, error) {
	return database.Open(database.Options{
		Driver:       cfg.Database.Driver,
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		Name:         cfg.Database.Name,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		SSLMode:      cfg.Database.SSLMode,
		Path:         cfg.Database.Path,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	if err := config.Load(configPath); err != nil {
		return err
	}
	db, err := openDatabase(config.Get())
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(cmd.Context(), db); err != nil {
		return err
	}
	log.Printf("schema up to date (%s)", db.Dialect)
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := config.Load(configPath); err != nil {
		return err
	}
	cfg := config.Get()

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	accountID := cfg.Tickets.AccountID
	allocator := displayid.NewAllocator(db, displayid.NewDBStore(db, cfg.Tickets.DisplayIDFloor))
	tickets := repository.NewTicketRepository(db, allocator, accountID, repository.Defaults{
		Status:   cfg.Tickets.DefaultStatus,
		Priority: cfg.Tickets.DefaultPriority,
		Source:   cfg.Tickets.DefaultSource,
	})
	users := repository.NewUserRepository(db, accountID)

	provider := notifications.NewSMTPProvider(&cfg.Email)
	notifier := notifications.NewTicketNotifier(provider, cfg.App.BaseURL)

	// Mail ingestion: filter chain -> postmaster -> repositories.
	inboundLog := log.New(os.Stdout, "[inbound] ", log.LstdFlags)
	processor := postmaster.NewTicketProcessor(tickets, tickets, allocator, users,
		postmaster.WithTicketProcessorTenant(accountID),
		postmaster.WithTicketProcessorAckSender(notifier),
		postmaster.WithTicketProcessorLogger(inboundLog),
	)
	// The recipient gate runs first so misdirected mail never reaches the
	// thread-matching filters.
	service := postmaster.Service{
		FilterChain: filters.NewChain(
			filters.NewRecipientFilter(cfg.Email.Inbound.Address, inboundLog),
			filters.NewAutoReplyFilter(inboundLog),
			filters.NewSubjectTokenFilter(inboundLog),
			filters.NewBodyTokenFilter(inboundLog),
		),
		Handler: processor,
	}

	cutoff, err := cfg.Email.Inbound.Cutoff()
	if err != nil {
		return err
	}

	registry := runner.NewTaskRegistry()
	if accounts := mailboxAccounts(cfg); len(accounts) > 0 {
		pollTask := pipeline.NewPollTask(accounts, connector.DefaultFactory(), service, pipeline.NewDBMarkStore(db),
			pipeline.WithPollSchedule(cfg.Email.Inbound.Schedule),
			pipeline.WithPollTimeout(cfg.Email.Inbound.Timeout),
			pipeline.WithPollMaxAuthFailures(cfg.Email.Inbound.MaxAuthFailures),
			pipeline.WithPollCutoff(cutoff),
			pipeline.WithPollLogger(inboundLog),
		)
		registry.Register(pollTask)
	}

	// Start blocks until shutdown and stops its tasks on ctx cancel.
	taskRunner := runner.NewRunner(registry)
	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		if err := taskRunner.Start(ctx); err != nil && ctx.Err() == nil {
			log.Printf("task runner: %v", err)
		}
	}()

	handler := api.NewTicketHandler(tickets, users, notifier)
	server := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      api.NewRouter(cfg, handler, db),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	<-runnerDone
	log.Printf("shut down cleanly")
	return nil
}

func mailboxAccounts(cfg *config.Config) []connector.Account {
	var accounts []connector.Account
	for _, m := range cfg.Email.Accounts {
		accounts = append(accounts, connector.Account{
			ID:       m.ID,
			Name:     m.Name,
			Protocol: m.Protocol,
			Host:     m.Host,
			Port:     m.Port,
			Username: m.Username,
			Password: []byte(m.Password),
			Folder:   m.Folder,
		})
	}
	return accounts
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}

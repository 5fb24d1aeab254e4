// Command mailsyncd runs the sync engine: it polls every configured account, keeps the
// local cache current and serves the HTTP and WebSocket API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/vdavid/mailsync/internal/accounts"
	"github.com/vdavid/mailsync/internal/api"
	"github.com/vdavid/mailsync/internal/auth"
	"github.com/vdavid/mailsync/internal/config"
	"github.com/vdavid/mailsync/internal/credential"
	"github.com/vdavid/mailsync/internal/crypto"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/events"
	"github.com/vdavid/mailsync/internal/imap"
	"github.com/vdavid/mailsync/internal/notify"
	"github.com/vdavid/mailsync/internal/poller"
	"github.com/vdavid/mailsync/internal/repository"
	"github.com/vdavid/mailsync/internal/rules"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	prefs, err := config.LoadPreferences(cfg.PreferencesPath)
	if err != nil {
		log.Fatalf("Failed to load preferences: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.NewConnection(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.CloseConnection(database)

	log.Printf("Successfully connected to %s database", database.Driver())

	secrets, err := newSecretStore(cfg, database)
	if err != nil {
		log.Fatalf("Failed to open secret store: %v", err)
	}

	d := newDaemon(cfg, prefs, database, secrets)
	if err := d.run(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
	log.Printf("mailsyncd stopped")
}

// newSecretStore opens the configured password store.
func newSecretStore(cfg *config.Config, database *db.DB) (credential.Store, error) {
	switch cfg.SecretBackend {
	case config.SecretBackendDatabase:
		encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
		if err != nil {
			return nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
		return credential.NewEncryptedStore(database, encryptor), nil
	default:
		return credential.OpenKeyring(cfg.KeyringDir, cfg.EncryptionKeyBase64)
	}
}

// daemon holds every long-lived component. Construction starts nothing but the
// pool's idle cleanup; run starts the rest.
type daemon struct {
	cfg      *config.Config
	prefs    *config.Preferences
	accounts *accounts.Manager
	rules    *rules.Manager
	pool     *imap.Pool
	hub      *events.Hub
	silencer *notify.Silencer
	registry *repository.Registry
	poller   *poller.Poller
	guard    *auth.Guard
	// idle is nil when IDLE is disabled.
	idle *imap.IdleListener
}

func newDaemon(cfg *config.Config, prefs *config.Preferences, database *db.DB, secrets credential.Store) *daemon {
	manager := accounts.NewManager(database, secrets)
	pool := imap.NewPool(manager, cfg.IMAPTimeout)
	hub := events.NewHub(0, 0)
	silencer := notify.NewSilencer(notify.LogNotifier{}, !prefs.Notifications.Enabled)

	d := &daemon{
		cfg:      cfg,
		prefs:    prefs,
		accounts: manager,
		rules:    rules.NewManager(database),
		pool:     pool,
		hub:      hub,
		silencer: silencer,
		registry: repository.NewRegistry(pool, database, manager, hub),
		poller: poller.New(manager, pool, database, silencer, hub, poller.Options{
			Interval:         prefs.PollInterval(),
			MaxNotifications: prefs.Notifications.MaxPerPoll,
		}),
		guard: auth.NewGuard(cfg.APIToken),
	}
	if cfg.IdleEnabled {
		d.idle = imap.NewIdleListener(pool, func(string) { d.poller.Trigger() })
	}
	return d
}

// handler creates and returns the HTTP handler for the API server.
func (d *daemon) handler() http.Handler {
	foldersHandler := api.NewFoldersHandler(d.registry)
	threadsHandler := api.NewThreadsHandler(d.registry, d.prefs.ThreadsPerPage)
	messagesHandler := api.NewMessagesHandler(d.registry)
	var watcher api.Watcher
	if d.idle != nil {
		watcher = d.idle
	}
	accountsHandler := api.NewAccountsHandler(d.accounts, d.registry, watcher)
	rulesHandler := api.NewRulesHandler(d.rules)
	notificationsHandler := api.NewNotificationsHandler(d.silencer)
	wsHandler := api.NewWebSocketHandler(d.guard, d.hub, d.registry, d.rules, d.prefs.ThreadsPerPage,
		func(string) { d.poller.Trigger() })

	guarded := func(h http.Handler) http.Handler { return d.guard.RequireToken(h) }

	mux := http.NewServeMux()

	mux.HandleFunc("/health", handleHealth)

	mux.Handle("/api/v1/folders", guarded(foldersHandler))
	mux.Handle("/api/v1/threads", guarded(http.HandlerFunc(threadsHandler.GetThreads)))
	mux.Handle("/api/v1/threads/cached", guarded(http.HandlerFunc(threadsHandler.GetCachedThreads)))
	mux.Handle("/api/v1/message", guarded(http.HandlerFunc(messagesHandler.GetMessage)))
	mux.Handle("/api/v1/messages/move", guarded(http.HandlerFunc(messagesHandler.Move)))
	mux.Handle("/api/v1/messages/copy", guarded(http.HandlerFunc(messagesHandler.Copy)))
	mux.Handle("/api/v1/messages/flags", guarded(http.HandlerFunc(messagesHandler.Flags)))
	mux.Handle("/api/v1/messages/delete", guarded(http.HandlerFunc(messagesHandler.Delete)))
	mux.Handle("/api/v1/messages/archive", guarded(http.HandlerFunc(messagesHandler.Archive)))
	mux.Handle("/api/v1/accounts", guarded(accountsHandler))
	mux.Handle("/api/v1/rules", guarded(rulesHandler))
	mux.Handle("/api/v1/notifications", guarded(notificationsHandler))
	// WebSocket handler handles its own authentication via query parameter
	// (since browsers can't set headers on WebSocket connections).
	mux.Handle("/api/v1/ws", http.HandlerFunc(wsHandler.Handle))

	return mux
}

// run serves until ctx is canceled, then shuts everything down in reverse order.
func (d *daemon) run(ctx context.Context) error {
	defer d.pool.Close()
	d.poller.Start()
	defer d.poller.Stop()

	if d.idle != nil {
		d.startIdleListeners(ctx)
	}

	server := &http.Server{
		Addr:              ":" + d.cfg.Port,
		Handler:           d.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.Printf("mailsyncd starting on %s (environment: %s)", server.Addr, d.cfg.Environment)
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Printf("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

// startIdleListeners keeps an IDLE session per account that wakes the poller on new mail.
// Accounts added later are watched through the accounts handler.
func (d *daemon) startIdleListeners(ctx context.Context) {
	list, err := d.accounts.List(ctx)
	if err != nil {
		log.Printf("Failed to list accounts for IDLE: %v", err)
	}

	emails := make([]string, 0, len(list))
	for _, account := range list {
		emails = append(emails, account.Email)
	}
	d.idle.Start(ctx, emails)
	log.Printf("IDLE listeners started for %d accounts", len(emails))
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprint(w, `{"status":"ok"}`)
}

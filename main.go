package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"staysync/alert"
	"staysync/config"
	"staysync/logging"
	"staysync/pms"
	"staysync/scheduler"
	"staysync/storage"
	"staysync/sync"
	"staysync/webhook"
	"staysync/workers"
)

var (
	syncNow     = flag.Bool("sync", false, "Run one full sync pass and exit")
	registerNow = flag.Bool("register-webhooks", false, "Ensure webhook subscriptions and exit")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logFile, err := logging.Setup(cfg.LogPath, cfg.LogMaxSizeMB, cfg.LogBackups)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting staysync...")
	log.Printf("Loaded %d integration configs", len(cfg.Integrations))
	for id, ic := range cfg.Integrations {
		log.Printf("  - %s (%s)", ic.Name, id)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	var (
		services   []*sync.Service
		ingestors  = make(map[string]*webhook.Ingestor)
		registrars = make(map[string]*webhook.Registrar)
	)
	for id, ic := range cfg.Integrations {
		client, err := pms.NewClient(ic)
		if err != nil {
			log.Fatalf("Integration %s: %v", id, err)
		}

		svc := sync.NewService(store, client, id, ic.MaxPages)
		services = append(services, svc)
		ingestors[id] = webhook.NewIngestor(store, svc, ic.WebhookDomain)
		if cfg.CallbackBase != "" {
			callback := cfg.CallbackBase + "/webhooks/" + id
			registrars[id] = webhook.NewRegistrar(store, client, id, callback)
		}
	}
	if len(services) == 0 {
		log.Fatal("No integrations configured, nothing to sync")
	}

	var notifier alert.Notifier = alert.NoopNotifier{}
	if cfg.Alert.WebhookURL != "" {
		notifier = alert.NewWebhookNotifier(cfg.Alert.WebhookURL)
	}

	sched := scheduler.New(cfg, store, services, notifier)
	for id, reg := range registrars {
		sched.SetRegistrar(id, reg)
	}

	// One-shot modes.
	if *syncNow {
		log.Println("Running one-off sync pass...")
		sched.TriggerNow(ctx)
		log.Println("Sync complete")
		return
	}
	if *registerNow {
		for id, reg := range registrars {
			if err := reg.EnsureRegistrations(ctx); err != nil {
				log.Fatalf("Webhook registration for %s failed: %v", id, err)
			}
		}
		log.Println("Webhook subscriptions in place")
		return
	}

	// Daemon mode.
	for id, reg := range registrars {
		if err := reg.EnsureRegistrations(ctx); err != nil {
			log.Printf("Warning: webhook registration for %s failed: %v", id, err)
		}
	}

	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	if cfg.S3.Bucket != "" {
		uploader, err := storage.NewS3Uploader(ctx, storage.S3Config(cfg.S3))
		if err != nil {
			log.Fatalf("Failed to init S3 uploader: %v", err)
		}
		photoWorker := workers.NewPhotoWorker(store, uploader)
		sched.SetPhotoWorker(photoWorker)
		go photoWorker.Run(ctx, 20, 2*time.Minute)
		log.Println("Photo worker started")
	} else {
		log.Println("No S3 bucket configured, photo mirroring disabled")
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           webhook.NewRouter(store, ingestors),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("Webhook server listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Println("Daemon running. Press Ctrl+C to stop.")
	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Goodbye!")
}

// openStore picks Postgres when DATABASE_URL is set, SQLite otherwise.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.DatabaseURL != "" {
		store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		log.Printf("Connected to Postgres: %s", maskConnString(cfg.DatabaseURL))
		return store, nil
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	log.Printf("SQLite database: %s", cfg.DBPath)
	return store, nil
}

func maskConnString(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil {
		return "(unparseable)"
	}
	return u.Redacted()
}

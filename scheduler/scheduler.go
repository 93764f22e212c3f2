// Package scheduler runs the periodic sync routines. Each (integration,
// entity) pair gets its own loop with its own interval, so a slow or failing
// listings pass never delays reservations. Health is recorded after every
// tick and an alert fires when a routine crosses the failure threshold.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"staysync/alert"
	"staysync/config"
	"staysync/models"
	"staysync/storage"
	"staysync/sync"
)

// Triggerable allows workers to be triggered manually.
type Triggerable interface {
	Trigger()
}

// Registrar re-runs webhook subscription setup on command.
type Registrar interface {
	EnsureRegistrations(ctx context.Context) error
}

type routine struct {
	name     string // "<integration>:<entity>", the health row key
	entity   string
	interval time.Duration
	cronExpr string // overrides interval when set
	run      func(ctx context.Context) (any, error)
}

type Scheduler struct {
	cfg      *config.Config
	store    storage.Store
	services []*sync.Service
	notifier alert.Notifier
	cron     *cron.Cron
	stopCh   chan struct{}

	photoWorker Triggerable
	registrars  map[string]Registrar
}

func New(cfg *config.Config, store storage.Store, services []*sync.Service, notifier alert.Notifier) *Scheduler {
	if notifier == nil {
		notifier = alert.NoopNotifier{}
	}
	return &Scheduler{
		cfg:        cfg,
		store:      store,
		services:   services,
		notifier:   notifier,
		cron:       cron.New(),
		stopCh:     make(chan struct{}),
		registrars: make(map[string]Registrar),
	}
}

// SetPhotoWorker registers the photo mirror worker for manual triggering.
func (s *Scheduler) SetPhotoWorker(w Triggerable) {
	s.photoWorker = w
}

// SetRegistrar registers a webhook registrar for the register command.
func (s *Scheduler) SetRegistrar(integration string, r Registrar) {
	s.registrars[integration] = r
}

func (s *Scheduler) Start(ctx context.Context) error {
	go s.pollCommands(ctx)

	for _, svc := range s.services {
		for _, rt := range s.routinesFor(svc) {
			if rt.cronExpr != "" {
				log.Printf("Scheduler: %s on cron %q", rt.name, rt.cronExpr)
				rt := rt
				job := s.cronJob(ctx, rt)
				if _, err := s.cron.AddJob(rt.cronExpr, job); err != nil {
					return fmt.Errorf("routine %s: invalid cron expression %q: %w", rt.name, rt.cronExpr, err)
				}
				// Cron fires on schedule only; still do the startup pass,
				// through the same job so it cannot overlap the first firing.
				go job.Run()
				continue
			}

			log.Printf("Scheduler: %s every %s", rt.name, rt.interval)
			go s.loop(ctx, rt)
		}
	}

	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
	close(s.stopCh)
}

// routinesFor builds the four entity routines for one integration, applying
// any per-integration interval or cron overrides from its YAML.
func (s *Scheduler) routinesFor(svc *sync.Service) []routine {
	name := svc.Integration()
	routines := []routine{
		{entity: "listings", interval: s.cfg.Sync.ListingsInterval,
			run: func(ctx context.Context) (any, error) { return svc.SyncListings(ctx) }},
		{entity: "reservations", interval: s.cfg.Sync.ReservationsInterval,
			run: func(ctx context.Context) (any, error) { return svc.SyncReservations(ctx) }},
		{entity: "messages", interval: s.cfg.Sync.MessagesInterval,
			run: func(ctx context.Context) (any, error) { return svc.SyncMessages(ctx) }},
		{entity: "reviews", interval: s.cfg.Sync.ReviewsInterval,
			run: func(ctx context.Context) (any, error) { return svc.SyncReviews(ctx) }},
	}

	overrides := map[string]string{}
	if ic, ok := s.cfg.Integrations[name]; ok {
		overrides = ic.Intervals
	}

	for i := range routines {
		routines[i].name = name + ":" + routines[i].entity
		raw, ok := overrides[routines[i].entity]
		if !ok {
			continue
		}
		if d, err := time.ParseDuration(raw); err == nil {
			routines[i].interval = d
		} else {
			routines[i].cronExpr = raw
		}
	}
	return routines
}

// cronJob wraps a routine tick for the cron scheduler. Cron launches every
// due firing in its own goroutine, so a pass that outlives its period would
// overlap itself; the chain skips firings while the previous run is still
// going, matching the interval loop's one-run-at-a-time behavior.
func (s *Scheduler) cronJob(ctx context.Context, rt routine) cron.Job {
	return cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
		s.tick(ctx, rt)
	}))
}

// loop runs a routine immediately, then on its interval.
func (s *Scheduler) loop(ctx context.Context, rt routine) {
	s.tick(ctx, rt)

	ticker := time.NewTicker(rt.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.tick(ctx, rt)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick runs one pass of a routine and records the outcome. A panicking pass
// is contained here so one bad routine cannot take the daemon down.
func (s *Scheduler) tick(ctx context.Context, rt routine) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Error: routine %s panicked: %v", rt.name, r)
			s.recordFailure(ctx, rt.name, fmt.Sprintf("panic: %v", r))
		}
	}()

	stats, err := rt.run(ctx)
	if err != nil {
		log.Printf("Error: routine %s failed: %v", rt.name, err)
		s.recordFailure(ctx, rt.name, err.Error())
		return
	}

	metadata, merr := json.Marshal(stats)
	if merr != nil {
		metadata = nil
	}
	if err := s.store.RecordHealthSuccess(ctx, rt.name, metadata); err != nil {
		log.Printf("Warning: failed to record health for %s: %v", rt.name, err)
	}
}

func (s *Scheduler) recordFailure(ctx context.Context, name, errMsg string) {
	failures, err := s.store.RecordHealthFailure(ctx, name, errMsg)
	if err != nil {
		log.Printf("Warning: failed to record health failure for %s: %v", name, err)
		return
	}

	// Alert once, on the crossing, not on every failure after it.
	if failures == s.cfg.Alert.FailureThreshold {
		msg := fmt.Sprintf("%d consecutive failures, last error: %s", failures, errMsg)
		if err := s.notifier.Notify(ctx, name, msg); err != nil {
			log.Printf("Warning: alert delivery failed for %s: %v", name, err)
		}
	}
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Commands.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cmds, err := s.store.PendingCommands(ctx)
			if err != nil {
				log.Printf("Error getting commands: %v", err)
				continue
			}

			for _, cmd := range cmds {
				log.Printf("Processing command: %s", cmd.Command)
				if err := s.handleCommand(ctx, &cmd); err != nil {
					log.Printf("Command error: %v", err)
				}
				if err := s.store.MarkCommandProcessed(ctx, cmd.ID); err != nil {
					log.Printf("Error marking command processed: %v", err)
				}
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd *models.Command) error {
	var params models.CommandParams
	if len(cmd.Params) > 0 {
		if err := json.Unmarshal(cmd.Params, &params); err != nil {
			return fmt.Errorf("bad command params: %w", err)
		}
	}

	switch cmd.Command {
	case models.CmdSyncNow:
		for _, svc := range s.services {
			if params.Integration != "" && svc.Integration() != params.Integration {
				continue
			}
			for _, rt := range s.routinesFor(svc) {
				s.tick(ctx, rt)
			}
		}
		return nil

	case models.CmdSyncEntity:
		for _, svc := range s.services {
			if params.Integration != "" && svc.Integration() != params.Integration {
				continue
			}
			for _, rt := range s.routinesFor(svc) {
				if rt.entity == params.Entity {
					s.tick(ctx, rt)
				}
			}
		}
		return nil

	case models.CmdMirrorNow:
		if s.photoWorker != nil {
			s.photoWorker.Trigger()
			log.Println("Photo mirror worker triggered via command")
		}
		return nil

	case models.CmdRegisterWeb:
		for name, reg := range s.registrars {
			if params.Integration != "" && name != params.Integration {
				continue
			}
			if err := reg.EnsureRegistrations(ctx); err != nil {
				log.Printf("Error re-registering webhooks for %s: %v", name, err)
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown command: %s", cmd.Command)
	}
}

// TriggerNow runs every routine of every integration once, synchronously.
func (s *Scheduler) TriggerNow(ctx context.Context) {
	for _, svc := range s.services {
		for _, rt := range s.routinesFor(svc) {
			s.tick(ctx, rt)
		}
	}
}

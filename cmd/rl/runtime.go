package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/zulandar/raceline/internal/alert"
	"github.com/zulandar/raceline/internal/config"
	"github.com/zulandar/raceline/internal/db"
	"github.com/zulandar/raceline/internal/logging"
	"github.com/zulandar/raceline/internal/notify"
	"github.com/zulandar/raceline/internal/phone"
	"github.com/zulandar/raceline/internal/registry"
	"github.com/zulandar/raceline/internal/wa"
	"github.com/zulandar/raceline/internal/wa/whatsmeow"
	"gorm.io/gorm"
)

// connectFromConfig loads the config, opens the database and migrates it.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

// newManager returns the registry policy layer for cfg.
func newManager(cfg *config.Config, gormDB *gorm.DB) (*registry.Manager, error) {
	return registry.NewManager(registry.ManagerOpts{
		Store:         registry.New(gormDB),
		SingleSession: cfg.WhatsApp.SingleSessionEnabled(),
	})
}

// runtime is the wired WhatsApp stack shared by serve, qr and send.
type runtime struct {
	cfg        *config.Config
	log        zerolog.Logger
	db         *gorm.DB
	adapter    *whatsmeow.Adapter
	ctrl       *wa.Controller
	manager    *registry.Manager
	dispatcher *wa.Dispatcher
	hooks      *notify.Hooks
	alerts     *alert.Observer
}

func newRuntime(cfg *config.Config, gormDB *gorm.DB, log zerolog.Logger) (*runtime, error) {
	waLog := logging.Component(log, "whatsapp")
	adapter, err := whatsmeow.New(whatsmeow.Opts{
		AuthDir:    cfg.WhatsApp.AuthDir,
		DeviceName: cfg.WhatsApp.DeviceName,
		Log:        &waLog,
	})
	if err != nil {
		return nil, err
	}

	manager, err := newManager(cfg, gormDB)
	if err != nil {
		return nil, err
	}

	alertLog := logging.Component(log, "alert")
	alerts, err := alert.FromConfig(cfg.Alerts, &alertLog)
	if err != nil {
		return nil, err
	}
	var observers []wa.Observer
	if alerts != nil {
		observers = append(observers, alerts)
	}

	ctrlLog := logging.Component(log, "controller")
	ctrl, err := wa.NewController(wa.ControllerOpts{
		Adapter:           adapter,
		Registry:          manager.Store(),
		Log:               &ctrlLog,
		FallbackSessionID: cfg.WhatsApp.FallbackSessionID,
		SendGrace:         cfg.WhatsApp.SendGrace,
		StartStaleAfter:   cfg.WhatsApp.StartStaleAfter,
		Observers:         observers,
	})
	if err != nil {
		return nil, err
	}

	dispLog := logging.Component(log, "dispatcher")
	dispatcher, err := wa.NewDispatcher(wa.DispatcherOpts{
		Controller: ctrl,
		Policy:     phone.ForCountry(cfg.WhatsApp.CountryCode),
		Log:        &dispLog,
	})
	if err != nil {
		return nil, err
	}

	notifyLog := logging.Component(log, "notify")
	hooks, err := notify.NewHooks(notify.HooksOpts{
		Sender:    dispatcher,
		DB:        gormDB,
		Templates: cfg.Notify.Templates,
		Timeout:   cfg.Notify.SendTimeout,
		Log:       &notifyLog,
	})
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg:        cfg,
		log:        log,
		db:         gormDB,
		adapter:    adapter,
		ctrl:       ctrl,
		manager:    manager,
		dispatcher: dispatcher,
		hooks:      hooks,
		alerts:     alerts,
	}, nil
}

// start initializes the adapter and runs the event loop until ctx ends.
func (r *runtime) start(ctx context.Context) error {
	if err := r.ctrl.Init(ctx); err != nil {
		return err
	}
	go r.ctrl.Run(ctx)
	return nil
}

// restore reconnects every active registry session with stored credentials.
func (r *runtime) restore(ctx context.Context) {
	recs, err := r.manager.Store().ListActive(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("list sessions to restore")
		return
	}
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.SessionID)
	}
	n, err := r.ctrl.RestoreSessions(ctx, ids)
	if err != nil {
		r.log.Warn().Err(err).Msg("some sessions were not restored")
	}
	r.log.Info().Int("restored", n).Int("active", len(ids)).Msg("session restore finished")
}

func (r *runtime) close() {
	r.hooks.Wait()
	if r.alerts != nil {
		r.alerts.Wait()
	}
	if err := r.adapter.Close(); err != nil {
		r.log.Warn().Err(err).Msg("close whatsapp adapter")
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(out func(string)) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			if out != nil {
				out(fmt.Sprintf("\nReceived %s, shutting down...\n", sig))
			}
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

// Command agent is a headless loan-ledger client. It keeps its change
// cursor in sync with the store API, listens to the relay for realtime
// events and logs what both paths deliver.
//
//	agent run               poll and listen until SIGINT or SIGTERM
//	agent stats             print pending change statistics
//	agent clean --days 30   delete consumed change records
//	agent resync            reset the cursor and pull the full change log
//
// While running, SIGUSR1 behaves like the app returning to the foreground
// (reconnect if needed and poll now) and SIGUSR2 forces a full resync.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/goccy/go-json"

	"github.com/tomtom215/syncrelay/internal/client"
	"github.com/tomtom215/syncrelay/internal/config"
	"github.com/tomtom215/syncrelay/internal/logging"
	"github.com/tomtom215/syncrelay/internal/models"
	"github.com/tomtom215/syncrelay/internal/supervisor"
	"github.com/tomtom215/syncrelay/internal/supervisor/services"
)

type cli struct {
	Config string `help:"Config file path. Defaults to CONFIG_PATH or ./config.yaml." type:"path"`

	Run    runCmd    `cmd:"" default:"1" help:"Sync changes and listen for realtime events."`
	Stats  statsCmd  `cmd:"" help:"Show pending change statistics."`
	Clean  cleanCmd  `cmd:"" help:"Delete consumed change records older than --days."`
	Resync resyncCmd `cmd:"" help:"Reset the sync cursor and fetch every change."`
}

type runCmd struct{}

type statsCmd struct{}

type cleanCmd struct {
	Days int `help:"Age in days of consumed records to delete." default:"30"`
}

type resyncCmd struct{}

func main() {
	var c cli
	kctx := kong.Parse(&c,
		kong.Name("agent"),
		kong.Description("Loan ledger change sync and realtime client."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)

	cfg, err := loadConfig(c.Config)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})

	kctx.FatalIfErrorf(kctx.Run(cfg))
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func (runCmd) Run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := client.New(ctx, cfg)
	if err != nil {
		return err
	}
	for _, table := range []string{models.TablePayments, models.TableLoans, models.TableCustomers} {
		app.Changes().Subscribe(table, logChanges)
	}
	if rt := app.Realtime(); rt != nil {
		for _, eventType := range models.DomainEvents {
			rt.On(eventType, func(e models.NotificationEvent) {
				logging.Info().Str("event_type", e.Type).RawJSON("data", e.Payload).Msg("Realtime event")
			})
		}
	}

	tree, err := superviseClient(logging.NewSlogLogger(), app)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGUSR1:
				logging.Info().Msg("Foreground requested")
				app.Foreground()
			case syscall.SIGUSR2:
				go func() {
					if err := app.ForceFullResync(ctx); err != nil {
						logging.Error().Err(err).Msg("Full resync failed")
					}
				}()
			default:
				logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
				cancel()
				return
			}
		}
	}()

	logging.Info().
		Str("store", cfg.Store.BaseURL).
		Bool("realtime", cfg.Realtime.Enabled).
		Str("relay", cfg.Realtime.URL).
		Msg("Starting syncrelay agent")

	if err := <-tree.ServeBackground(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor tree: %w", err)
	}
	logging.Info().Msg("Agent stopped gracefully")
	return nil
}

// superviseClient builds the agent tree running app. app is stopped when
// the tree cannot be built, since nothing else would release its cursor
// store.
func superviseClient(logger *slog.Logger, app services.StartStopper) (*supervisor.SupervisorTree, error) {
	tree, err := supervisor.NewSupervisorTree(logger, supervisor.TreeConfig{
		Name: "syncrelay-agent",
	})
	if err != nil {
		if serr := app.Stop(); serr != nil {
			logging.Warn().Err(serr).Msg("Stopping client")
		}
		return nil, fmt.Errorf("create supervisor tree: %w", err)
	}
	tree.AddMessagingService(services.NewLifecycleService("client", app))
	return tree, nil
}

func logChanges(table string, changes []models.ChangeRecord) {
	for _, c := range changes {
		logging.Info().
			Str("table", table).
			Str("action", string(c.Action)).
			Int64("record_id", c.RecordID).
			Int64("change_id", c.ID).
			Msg("Change received")
	}
}

func (statsCmd) Run(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Store.Timeout)
	defer cancel()

	stats, err := client.NewStoreAPI(&cfg.Store).Stats(ctx)
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func (c cleanCmd) Run(cfg *config.Config) error {
	if c.Days < 1 {
		return errors.New("--days must be at least 1")
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Store.Timeout)
	defer cancel()

	msg, err := client.NewStoreAPI(&cfg.Store).CleanOld(ctx, c.Days)
	if err != nil {
		return err
	}
	fmt.Println(msg)
	return nil
}

func (resyncCmd) Run(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cfg.Sync.Enabled = true
	cfg.Realtime.Enabled = false
	app, err := client.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Stop(); err != nil {
			logging.Warn().Err(err).Msg("Stopping client")
		}
	}()

	var received int
	for _, table := range []string{models.TablePayments, models.TableLoans, models.TableCustomers} {
		app.Changes().Subscribe(table, func(_ string, items []models.ChangeRecord) { received += len(items) })
	}
	if err := app.ForceFullResync(ctx); err != nil {
		return err
	}
	return printJSON(struct {
		Changes int `json:"changes"`
		Status  any `json:"status"`
	}{received, app.Sync().Status()})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

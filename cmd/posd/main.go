package main

import (
	"context"
	"flag"
	"log/slog"
	"wisppos-backend/lib/telemetry"
	"wisppos-backend/lib/util/serviceutil"
	"wisppos-backend/services/pos"
)

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	refresh := flag.Bool("refresh", false, "Refresh the plan catalog through the admin account on start.")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	InitTelemetry(ctx, *verbose)

	cfg, err := pos.LoadConfig("config.json5")
	if err != nil {
		serviceutil.Fatal("read config", err)
	}

	app, err := pos.Open(ctx, cfg)
	if err != nil {
		serviceutil.Fatal("open app", err)
	}
	defer app.Close()

	if *refresh {
		catalog, err := app.Service.RefreshCatalog(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "failed to refresh plans", "err", err)
		} else {
			slog.InfoContext(ctx, "refreshed plans", "count", len(catalog.Plans))
		}
	}

	scheduler, err := app.Schedule(ctx)
	if err != nil {
		serviceutil.Fatal("schedule jobs", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	handler := app.Handler()
	slog.InfoContext(ctx, "listening", "port", cfg.Http.Port, "store", cfg.Store.Driver)
	err = serviceutil.StartHttpServer(ctx, cfg.Http.Port, handler.Router(cfg.Http.AllowedOrigins))
	if err != nil {
		serviceutil.Fatal("serve http", err)
	}
}

func InitTelemetry(ctx context.Context, verbose bool) {
	telemetry.InitSlog(verbose)

	if verbose {
		slog.DebugContext(ctx, "verbose logging enabled")
	}

	err := telemetry.SetupFromEnv(ctx, "posd")
	if err != nil {
		slog.WarnContext(ctx, "telemetry disabled", "err", err)
		return
	}
	go func() {
		<-ctx.Done()
		telemetry.Shutdown(context.Background())
	}()
	telemetry.InstrumentPerfStats(ctx)
}

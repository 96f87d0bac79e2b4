package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/perptools/journal/internal/domain"
	"github.com/perptools/journal/internal/notify"
	"github.com/perptools/journal/internal/pipeline"
	"github.com/perptools/journal/internal/platform/apex"
	"github.com/perptools/journal/internal/platform/hyperliquid"
	"github.com/perptools/journal/internal/server"
	"github.com/perptools/journal/internal/server/handler"
	"github.com/perptools/journal/internal/server/ws"
	"github.com/perptools/journal/internal/service"
)

// buildServices constructs the price and journal services shared by every
// mode.
func (a *App) buildServices(deps *Dependencies) (*service.PriceService, *service.JournalService, error) {
	venues := make(map[string]service.BarFetcher)
	if deps.ApexClient != nil {
		venues[apex.Source] = deps.ApexClient
	}
	if deps.HyperliquidClient != nil {
		venues[hyperliquid.Source] = deps.HyperliquidClient
	}

	priceSvc, err := service.NewPriceService(
		deps.PriceBarCache,
		deps.PriceBarStore,
		venues,
		deps.RateLimiter,
		a.cfg.Pricing.Interval,
		a.cfg.Pricing.PadBars,
		a.cfg.Pricing.MaxBarsPerRequest,
		a.logger,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("app: price service: %w", err)
	}

	journalSvc := service.NewJournalService(
		deps.FillStore,
		deps.OrderStore,
		deps.FundingStore,
		deps.TradeStore,
		deps.EquityStore,
		deps.LiquidationStore,
		priceSvc,
		deps.AuditStore,
		deps.SignalBus,
		a.cfg.Pipeline.ExcursionWorkers,
		a.logger,
	)
	return priceSvc, journalSvc, nil
}

// buildScrapers constructs one scraper per enabled venue.
func (a *App) buildScrapers(deps *Dependencies) []*pipeline.Scraper {
	backfill := time.Duration(a.cfg.Pipeline.BackfillDays) * 24 * time.Hour
	overlap := a.cfg.Pipeline.SyncOverlap.Duration

	var scrapers []*pipeline.Scraper
	if deps.ApexClient != nil {
		scrapers = append(scrapers, pipeline.NewScraper(
			pipeline.NewApexSource(deps.ApexClient, a.cfg.Pipeline.PageLimit),
			domain.AccountScope{Source: apex.Source, AccountID: a.cfg.Apex.AccountID},
			deps.FillStore,
			deps.OrderStore,
			deps.FundingStore,
			deps.LockManager,
			backfill, overlap,
			a.logger,
		))
	}
	if deps.HyperliquidClient != nil {
		scrapers = append(scrapers, pipeline.NewScraper(
			pipeline.NewHyperliquidSource(deps.HyperliquidClient),
			domain.AccountScope{Source: hyperliquid.Source, AccountID: a.cfg.Hyperliquid.AccountID},
			deps.FillStore,
			deps.OrderStore,
			deps.FundingStore,
			deps.LockManager,
			backfill, overlap,
			a.logger,
		))
	}
	return scrapers
}

// startNotifier attaches the notification listener to the errgroup when any
// sender is configured.
func (a *App) startNotifier(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Notifier == nil {
		return
	}
	listener := notify.NewEventListener(deps.SignalBus, deps.Notifier, "journal", a.logger)
	g.Go(func() error {
		err := listener.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
}

// startLiveFeed attaches the Hyperliquid userFills stream to the errgroup
// when the venue and its ws endpoint are configured.
func (a *App) startLiveFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies, journalSvc *service.JournalService) {
	if deps.HyperliquidClient == nil || a.cfg.Hyperliquid.WsURL == "" {
		return
	}
	wsClient := hyperliquid.NewWSClient(
		a.cfg.Hyperliquid.WsURL,
		a.cfg.Hyperliquid.WalletAddress,
		a.cfg.Hyperliquid.AccountID,
	)
	feed := pipeline.NewLiveFeed(
		wsClient,
		domain.AccountScope{Source: hyperliquid.Source, AccountID: a.cfg.Hyperliquid.AccountID},
		deps.FillStore,
		journalSvc,
		a.logger,
	)
	g.Go(func() error {
		err := feed.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
}

// SyncMode runs the background pipeline only: incremental venue sync, journal
// rebuild, equity snapshots, and the archiver cron.
func (a *App) SyncMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sync mode")

	_, journalSvc, err := a.buildServices(deps)
	if err != nil {
		return err
	}

	scrapers := a.buildScrapers(deps)
	if len(scrapers) == 0 {
		return fmt.Errorf("app: sync mode: no venues enabled")
	}

	var archiver *pipeline.Archiver
	if deps.Archiver != nil {
		archiver = pipeline.NewArchiver(deps.Archiver, a.cfg.Pipeline.ArchiveRetentionDays, a.logger)
	}

	orch := pipeline.NewOrchestrator(
		scrapers,
		journalSvc,
		archiver,
		a.cfg.Pipeline.SyncInterval.Duration,
		a.cfg.Pipeline.SyncOnce,
		a.cfg.Pipeline.ArchiveCron,
		a.logger,
	)

	// A one-shot run is a batch job: no live feed or notifier goroutines that
	// would keep the process alive after the pass completes.
	if a.cfg.Pipeline.SyncOnce {
		return orch.Run(ctx)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startNotifier(ctx, g, deps)
	a.startLiveFeed(ctx, g, deps, journalSvc)
	g.Go(func() error {
		return orch.Run(ctx)
	})
	return g.Wait()
}

// ServeMode runs the HTTP and WebSocket API without the background pipeline.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	_, journalSvc, err := a.buildServices(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startNotifier(ctx, g, deps)
	a.startServer(ctx, g, deps, journalSvc)
	return g.Wait()
}

// FullMode runs the pipeline and the API server together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	_, journalSvc, err := a.buildServices(deps)
	if err != nil {
		return err
	}

	scrapers := a.buildScrapers(deps)
	if len(scrapers) == 0 {
		return fmt.Errorf("app: full mode: no venues enabled")
	}

	var archiver *pipeline.Archiver
	if deps.Archiver != nil {
		archiver = pipeline.NewArchiver(deps.Archiver, a.cfg.Pipeline.ArchiveRetentionDays, a.logger)
	}

	orch := pipeline.NewOrchestrator(
		scrapers,
		journalSvc,
		archiver,
		a.cfg.Pipeline.SyncInterval.Duration,
		false, // the server keeps running, so the pipeline loops
		a.cfg.Pipeline.ArchiveCron,
		a.logger,
	)

	g, ctx := errgroup.WithContext(ctx)
	a.startNotifier(ctx, g, deps)
	a.startLiveFeed(ctx, g, deps, journalSvc)
	g.Go(func() error {
		return orch.Run(ctx)
	})
	a.startServer(ctx, g, deps, journalSvc)
	return g.Wait()
}

// startServer attaches the HTTP server and WebSocket hub to the errgroup.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, journalSvc *service.JournalService) {
	wsHub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		err := wsHub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.logger),
		Trades: handler.NewTradeHandler(journalSvc, a.cfg.Pipeline.SeriesMaxPoints, a.logger),
		Stats:  handler.NewStatsHandler(journalSvc, a.logger),
		Sync:   handler.NewSyncHandler(journalSvc, deps.Scopes, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		Limiter:     deps.RateLimiter,
		RateLimit:   a.cfg.Server.RateLimitPerMin,
	}, handlers, wsHub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// ReportMode rebuilds the journal once for every configured scope and prints
// a summary to stdout, then exits.
func (a *App) ReportMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting report mode")

	_, journalSvc, err := a.buildServices(deps)
	if err != nil {
		return err
	}

	if len(deps.Scopes) == 0 {
		return fmt.Errorf("app: report mode: no venues enabled")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	for _, scope := range deps.Scopes {
		result, err := journalSvc.Process(ctx, scope)
		if err != nil {
			return fmt.Errorf("app: report: process %s: %w", scope.Source, err)
		}
		a.logger.InfoContext(ctx, "report: scope processed",
			slog.String("source", scope.Source),
			slog.Int("trades", result.Trades),
		)

		summary, err := journalSvc.Summary(ctx, scope, domain.ListOpts{}, nil)
		if err != nil {
			return fmt.Errorf("app: report: summary %s: %w", scope.Source, err)
		}
		if err := enc.Encode(map[string]any{
			"source":     scope.Source,
			"account_id": scope.AccountID,
			"summary":    summary,
		}); err != nil {
			return fmt.Errorf("app: report: encode summary: %w", err)
		}
	}
	return nil
}

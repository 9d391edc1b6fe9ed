package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/otcheredev/ris-dicom-ingest/internal/batch"
	"github.com/otcheredev/ris-dicom-ingest/internal/cache"
	"github.com/otcheredev/ris-dicom-ingest/internal/database"
	"github.com/otcheredev/ris-dicom-ingest/internal/extract"
	"github.com/otcheredev/ris-dicom-ingest/internal/handlers"
	"github.com/otcheredev/ris-dicom-ingest/internal/models"
	"github.com/otcheredev/ris-dicom-ingest/internal/repository"
	"github.com/otcheredev/ris-dicom-ingest/internal/services"
	"github.com/otcheredev/ris-dicom-ingest/internal/sinks"
	"github.com/otcheredev/ris-dicom-ingest/internal/storage"
	"github.com/otcheredev/ris-dicom-ingest/pkg/dimse"
)

var scpCmd = &cobra.Command{
	Use:   "scp",
	Short: "Accept DICOM associations",
	Long: `Accepts C-ECHO and C-STORE, writes every instance to disk and publishes
its transport record. Records of instances in an unsupported transfer syntax
go to the transfer syntax change topic.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()
		return runSCP(ctx, a)
	},
}

func init() {
	rootCmd.AddCommand(scpCmd)
}

func runSCP(ctx context.Context, a *app) error {
	cfg := a.cfg
	log := a.logger.With().Str("service", "scp").Logger()

	db, err := a.openDB()
	if err != nil {
		return err
	}
	defer database.Close(db)

	b, err := a.openBus(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	var tenantCache *cache.Tenants
	if cfg.Cache.Enabled {
		c, err := cache.New(cfg.Cache.Type, b.Client())
		if err != nil {
			return err
		}
		defer c.Close()
		tenantCache = cache.NewTenants(c, cfg.Cache.TenantTTL, cfg.Cache.UnboundTTL)
	}

	tenantRepo := repository.NewTenantRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	tenants := services.NewTenantService(tenantRepo, tenantCache, cfg.SCP.DefaultTenant, log)

	topics := sinks.Topics{
		Main:                 cfg.Bus.Topics.Main,
		ChangeTransferSyntax: cfg.Bus.Topics.ChangeTransferSyntax,
	}
	acc := batch.New[*models.TransportMetadata](
		a.batchConfig("scp", cfg.Pipelines.SCP),
		sinks.NewPublishSink(b, sinks.TransportRoute(topics), cfg.Bus.PublishTimeout, log),
		batch.WithObserver(a.metrics),
		batch.WithLogger(log),
	)

	ingest := services.NewIngestService(services.IngestConfig{
		Extractor:           extract.New(cfg.Transfer.Supported, cfg.Transfer.Fallback),
		Store:               storage.NewInstanceStore(cfg.Storage.DicomRoot),
		Queue:               acc,
		Audits:              auditRepo,
		Metrics:             a.metrics,
		MaxConcurrentWrites: int64(cfg.SCP.MaxConcurrentWrites),
	}, log)

	srv := dimse.NewServer(dimse.ServerConfig{
		AETitle:               cfg.SCP.AETitle,
		StrictCalledAE:        cfg.SCP.StrictCalledAE,
		MaxPDULength:          uint32(cfg.SCP.MaxPDULength),
		MaxInstanceSize:       cfg.SCP.MaxInstanceSize,
		IdleTimeout:           cfg.SCP.IdleTimeout,
		WriteTimeout:          cfg.SCP.WriteTimeout,
		UncompressedOnly:      cfg.SCP.UncompressedOnly,
		ExtraAbstractSyntaxes: cfg.SCP.ExtraAbstractSyntaxes,
	}, tenants, ingest, log)

	management := handlers.NewManagementHandler(tenantRepo, auditRepo, repository.NewStateRepository(db), tenants, log)

	// the accumulator outlives the acceptor so releases still flush while
	// associations drain
	accCtx, stopAcc := context.WithCancel(context.WithoutCancel(ctx))
	defer stopAcc()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return acc.Run(accCtx)
	})
	g.Go(func() error {
		defer stopAcc()
		addr := fmt.Sprintf("%s:%d", cfg.SCP.Host, cfg.SCP.Port)
		log.Info().Str("addr", addr).Str("ae_title", cfg.SCP.AETitle).Msg("SCP starting")
		return srv.ListenAndServe(gctx, addr)
	})
	g.Go(func() error {
		return a.serveOps(gctx, handlers.NewHealthHandler(probes(db, b)), management.Routes)
	})

	err = g.Wait()
	log.Info().Err(err).Msg("SCP stopped")
	return err
}

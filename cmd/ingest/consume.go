package main

import (
	"context"
	"runtime"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/otcheredev/ris-dicom-ingest/internal/batch"
	"github.com/otcheredev/ris-dicom-ingest/internal/bus"
	"github.com/otcheredev/ris-dicom-ingest/internal/config"
	"github.com/otcheredev/ris-dicom-ingest/internal/consumer"
	"github.com/otcheredev/ris-dicom-ingest/internal/database"
	"github.com/otcheredev/ris-dicom-ingest/internal/handlers"
	"github.com/otcheredev/ris-dicom-ingest/internal/models"
	"github.com/otcheredev/ris-dicom-ingest/internal/repository"
	"github.com/otcheredev/ris-dicom-ingest/internal/sinks"
	"github.com/otcheredev/ris-dicom-ingest/internal/storage"
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Run a consumer pipeline",
}

// pipeline is the body of one consume subcommand
type pipeline func(ctx context.Context, a *app, db *gorm.DB, b *bus.RedisBus, log zerolog.Logger) error

func pipelineCmd(name, short string, run pipeline) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

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

			log := a.logger.With().Str("service", name).Logger()
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return run(gctx, a, db, b, log)
			})
			g.Go(func() error {
				return a.serveOps(gctx, handlers.NewHealthHandler(probes(db, b)), nil)
			})
			err = g.Wait()
			log.Info().Err(err).Msg("pipeline stopped")
			return err
		},
	}
}

func init() {
	consumeCmd.AddCommand(
		pipelineCmd("storage", "Persist transport records to dicom_instances", runStorage),
		pipelineCmd("transcode", "Transcode instances to the fallback transfer syntax", runTranscode),
		pipelineCmd("project", "Build state and image records from stored instances", runProject),
		pipelineCmd("state", "Persist series state records", runState),
		pipelineCmd("image", "Persist image records and refresh the JSON cache", runImage),
	)
	rootCmd.AddCommand(consumeCmd)
}

// consume wires topic -> accumulator -> sink and runs the loop until ctx is done
func consume[T any](ctx context.Context, a *app, b *bus.RedisBus, name, topic string, bc config.BatchConfig, sink batch.Sink[T], decode consumer.Decoder[T], log zerolog.Logger) error {
	sub, err := b.Subscribe(ctx, bus.SubscribeConfig{
		Topic:    topic,
		Group:    "ris-ingest-" + name,
		Consumer: a.cfg.Bus.ConsumerName,
		Count:    a.cfg.Bus.ReadCount,
		Block:    a.cfg.Bus.BlockTimeout,
	})
	if err != nil {
		return err
	}

	acc := batch.New(a.batchConfig(name, bc), sink, batch.WithObserver(a.metrics), batch.WithLogger(log))
	return consumer.New(name, sub, acc, decode, bc.Backoff, a.metrics, log).Run(ctx)
}

func runStorage(ctx context.Context, a *app, db *gorm.DB, b *bus.RedisBus, log zerolog.Logger) error {
	sink := sinks.NewInstanceSink(repository.NewInstanceRepository(db), log)
	return consume(ctx, a, b, "storage", a.cfg.Bus.Topics.Main, a.cfg.Pipelines.Storage, batch.Sink[*models.TransportMetadata](sink), sinks.DecodeTransport, log)
}

func runTranscode(ctx context.Context, a *app, db *gorm.DB, b *bus.RedisBus, log zerolog.Logger) error {
	topics := sinks.Topics{Main: a.cfg.Bus.Topics.Main, ChangeTransferSyntax: a.cfg.Bus.Topics.ChangeTransferSyntax}
	republish := sinks.NewPublishSink(b, sinks.TransportRoute(topics), a.cfg.Bus.PublishTimeout, log)
	sink := sinks.NewTranscodeSink(republish, a.cfg.Transfer.Fallback, runtime.NumCPU(), log)
	return consume(ctx, a, b, "transcode", a.cfg.Bus.Topics.ChangeTransferSyntax, a.cfg.Pipelines.Transcode, batch.Sink[*models.TransportMetadata](sink), sinks.DecodeTransport, log)
}

func runProject(ctx context.Context, a *app, db *gorm.DB, b *bus.RedisBus, log zerolog.Logger) error {
	timeout := a.cfg.Bus.PublishTimeout
	sink := sinks.NewProjectSink(
		sinks.NewPublishSink(b, sinks.StateRoute(a.cfg.Bus.Topics.State), timeout, log),
		sinks.NewPublishSink(b, sinks.ImageRoute(a.cfg.Bus.Topics.Image), timeout, log),
		log,
	)
	return consume(ctx, a, b, "project", a.cfg.Bus.Topics.Main, a.cfg.Pipelines.Project, batch.Sink[*models.TransportMetadata](sink), sinks.DecodeTransport, log)
}

func runState(ctx context.Context, a *app, db *gorm.DB, b *bus.RedisBus, log zerolog.Logger) error {
	sink := sinks.NewStateSink(repository.NewStateRepository(db), log)
	return consume(ctx, a, b, "state", a.cfg.Bus.Topics.State, a.cfg.Pipelines.State, batch.Sink[*sinks.StateRecord](sink), sinks.DecodeStateRecord, log)
}

func runImage(ctx context.Context, a *app, db *gorm.DB, b *bus.RedisBus, log zerolog.Logger) error {
	sink := sinks.NewImageSink(repository.NewStateRepository(db), storage.NewJSONCache(a.cfg.Storage.JSONRoot), log)
	return consume(ctx, a, b, "image", a.cfg.Bus.Topics.Image, a.cfg.Pipelines.Image, batch.Sink[*models.ImageMeta](sink), sinks.DecodeImage, log)
}

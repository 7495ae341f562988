package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/your-org/framestream/internal/extractor"
	"github.com/your-org/framestream/internal/ffmpeg"
	"github.com/your-org/framestream/internal/jobs"
	"github.com/your-org/framestream/internal/upload"
	"github.com/your-org/framestream/pkg/config"
	"github.com/your-org/framestream/pkg/kafka"
	"github.com/your-org/framestream/pkg/logger"
	"github.com/your-org/framestream/pkg/storage/objectstore"
	"github.com/your-org/framestream/pkg/tracing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logr, err := logger.New(logger.Config{
		Level:    cfg.App.LogLevel,
		Encoding: cfg.App.LogEncoding,
		Service:  cfg.App.Name,
		Version:  cfg.App.Version,
	})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	traceShutdown, err := tracing.Init(ctx, tracing.Config{
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRatio:    cfg.Tracing.SampleRatio,
		Attributes:     tracing.ParseAttributes(cfg.Tracing.ResourceAttr),
		ServiceName:    cfg.App.Name,
		ServiceVersion: cfg.App.Version,
	})
	if err != nil {
		logr.Fatal("init tracing", zap.Error(err))
	}
	defer traceShutdown(context.Background()) //nolint:errcheck

	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.Kafka.Brokers,
		Topic:        cfg.Kafka.EventsTopic,
		BatchSize:    cfg.Kafka.BatchSize,
		BatchTimeout: cfg.Kafka.BatchTimeout,
		Compression:  kafka.CompressionFromString(cfg.Kafka.CompressionCodec),
		RequiredAcks: kafkago.RequireAll,
		MaxAttempts:  cfg.Kafka.Retries,
		Source:       cfg.App.Name,
	})

	store, err := objectstore.New(ctx, objectstore.Config{
		Provider: cfg.Storage.Provider,
		Bucket:   cfg.Storage.Bucket,
		Region:   cfg.Storage.Region,
		Prefix:   cfg.Storage.Prefix,
		Endpoint: cfg.Storage.Endpoint,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logr.Fatal("init object store", zap.Error(err))
	}

	tool := ffmpeg.NewTool(
		ffmpeg.NewCommandRunner(logr.Named("ffmpeg"), cfg.Extraction.ToolTimeout),
		ffmpeg.Config{FFmpegPath: cfg.Extraction.FFmpegPath, FFprobePath: cfg.Extraction.FFprobePath},
		logr.Named("ffmpeg"),
	)
	ext := extractor.New(tool, logr.Named("extractor"))
	ext.SetVAAPIDevice(cfg.Extraction.VAAPIDevice)

	uploader := upload.NewUploader(store, upload.RetryPolicy{
		BaseDelay:  cfg.Upload.RetryBaseDelay,
		MaxDelay:   cfg.Upload.RetryMaxDelay,
		Jitter:     cfg.Upload.RetryJitter,
		MaxElapsed: cfg.Upload.RetryMaxElapsed,
	}, logr.Named("upload"))

	service := jobs.NewService(jobs.Params{
		Extractor:     ext,
		Uploader:      upload.NewCoordinator(uploader, cfg.Upload.MaxWorkers, logr.Named("upload")),
		Publisher:     producer,
		Logger:        logr.Named("jobs"),
		WorkDir:       cfg.Extraction.WorkDir,
		SegmentLength: cfg.Extraction.SegmentLength,
		KeepWorkDir:   cfg.Extraction.KeepWorkDir,
		MaxConcurrent: cfg.Jobs.MaxConcurrent,
	})

	handler := jobs.NewHTTPHandler(service, logr.Named("http"))

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logr.Error("http server shutdown failed", zap.Error(err))
		}
		if err := service.Close(shutdownCtx); err != nil {
			logr.Error("job service shutdown failed", zap.Error(err))
		}
		if err := producer.Close(shutdownCtx); err != nil {
			logr.Error("kafka producer close failed", zap.Error(err))
		}
		if err := store.Close(); err != nil {
			logr.Error("object store close failed", zap.Error(err))
		}
	}()

	logr.Info("framestream starting",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("storage_provider", cfg.Storage.Provider),
	)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logr.Fatal("http server failed", zap.Error(err))
	}
}

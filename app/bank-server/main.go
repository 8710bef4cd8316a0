package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf"
	"github.com/joho/godotenv"
	"github.com/paynet/bank-gateway/api"
	"github.com/paynet/bank-gateway/business/domain/diagnostics"
	"github.com/paynet/bank-gateway/business/domain/registry"
	"github.com/paynet/bank-gateway/business/domain/tx"
	"github.com/paynet/bank-gateway/business/router"
	"github.com/paynet/bank-gateway/entities"
	"github.com/paynet/bank-gateway/external/kafka"
	"github.com/paynet/bank-gateway/external/wire"
	"github.com/paynet/bank-gateway/infrastructure/store/pebbledb"
	"github.com/paynet/bank-gateway/metrics"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kprom"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const envPrefix = "PAYNET_BANK_SERVER"

func main() {
	if err := run(); err != nil {
		log.Fatalf("main: exited with error: %s", err.Error())
	}
}

func run() error {
	log.SetOutput(os.Stdout) // default is stderr

	config := zap.NewProductionConfig()
	// this is just for sugar, to display a readable date instead of an epoch time
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.DateTime)

	logger, err := config.Build()
	if err != nil {
		return errors.Wrap(err, "creating logger")
	}
	defer logger.Sync()
	sLogger := logger.Sugar()

	var cfg struct {
		Server struct {
			ListenAddr     string        `conf:"default:0.0.0.0:5000"`
			ReadTimeout    time.Duration `conf:"default:10s"`
			WriteTimeout   time.Duration `conf:"default:10s"`
			HandlerTimeout time.Duration `conf:"default:30s"`
			MaxMessageSize int64         `conf:"default:4096"`
		}
		Bank struct {
			InternalStoreFolder string        `conf:"default:store"`
			BcryptCost          int           `conf:"default:10"`
			PublishTimeout      time.Duration `conf:"default:5s"`
		}
		Status struct {
			ServerPort        int           `conf:"default:8000"`
			MetricsPort       int           `conf:"default:9999"`
			MetricsNamespace  string        `conf:"default:paynet_bank"`
			IntegrityCacheTTL time.Duration `conf:"default:1m"`
		}
		Broker struct {
			Enabled          bool     `conf:"default:false"`
			BootstrapServers []string `conf:"default:localhost:9092"`
			ProduceTopic     string   `conf:"default:paynet-bank-receipts"`
		}
		Diagnostics struct {
			MinDelay           time.Duration `conf:"default:1s"`
			MaxDelay           time.Duration `conf:"default:3s"`
			SuccessProbability float64       `conf:"default:0.3"`
		}
	}

	// values from the env file never override the real environment
	if envFile := os.Getenv(envPrefix + "_ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return errors.Wrapf(err, "loading env file [%s]", envFile)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "loading .env file")
	}

	if err := conf.Parse(os.Args[1:], envPrefix, &cfg); err != nil {
		switch {
		case errors.Is(err, conf.ErrHelpWanted):
			usage, err := conf.Usage(envPrefix, &cfg)
			if err != nil {
				return errors.Wrap(err, "generating config usage")
			}
			fmt.Println(usage)
			return nil
		case errors.Is(err, conf.ErrVersionWanted):
			version, err := conf.VersionString(envPrefix, &cfg)
			if err != nil {
				return errors.Wrap(err, "generating config version")
			}
			fmt.Println(version)
			return nil
		}
		return errors.Wrap(err, "parsing config")
	}

	out, err := conf.String(&cfg)
	if err != nil {
		return errors.Wrap(err, "generating config for output")
	}
	log.Printf("main: Config :\n%v\n", out)

	store, err := pebbledb.NewPebbleStore(cfg.Bank.InternalStoreFolder)
	if err != nil {
		return errors.Wrap(err, "creating store")
	}
	defer store.Close()

	var publisher tx.Publisher
	if cfg.Broker.Enabled {
		kafkaMetrics := kprom.NewMetrics(cfg.Status.MetricsNamespace,
			kprom.Registerer(prometheus.DefaultRegisterer),
			kprom.Gatherer(prometheus.DefaultGatherer))
		kcl, err := kgo.NewClient(
			kgo.WithHooks(kafkaMetrics),
			kgo.SeedBrokers(cfg.Broker.BootstrapServers...),
			kgo.DefaultProduceTopic(cfg.Broker.ProduceTopic),
			kgo.ProducerBatchCompression(kgo.ZstdCompression()),
		)
		if err != nil {
			return errors.Wrap(err, "creating kafka client")
		}
		defer kcl.Close()
		publisher = kafka.NewClient(kcl)
	} else {
		log.Println("[WARN] main: Receipt publishing disabled")
	}

	m := metrics.NewMetrics(prometheus.DefaultRegisterer, cfg.Status.MetricsNamespace)
	reg := registry.New(registry.Options{Institutions: entities.DefaultInstitutions, BcryptCost: cfg.Bank.BcryptCost})
	engine := tx.NewEngine(reg, tx.NewChains(entities.DefaultInstitutions, time.Now), store, publisher, sLogger, m, tx.Config{
		PublishTimeout: cfg.Bank.PublishTimeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = engine.Load(ctx); err != nil {
		return errors.Wrap(err, "loading persisted state")
	}

	attack := diagnostics.NewQuantumAttack(diagnostics.Config{
		MinDelay:           cfg.Diagnostics.MinDelay,
		MaxDelay:           cfg.Diagnostics.MaxDelay,
		SuccessProbability: cfg.Diagnostics.SuccessProbability,
	}, sLogger, nil)
	requestRouter := router.NewRouter(engine, attack, sLogger)

	server := wire.NewServer(requestRouter, sLogger, m, wire.ServerConfig{
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		HandlerTimeout: cfg.Server.HandlerTimeout,
		MaxMessageSize: cfg.Server.MaxMessageSize,
	})
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe(ctx, cfg.Server.ListenAddr)
	}()

	// status and metrics endpoint
	integrityCache := api.NewReportCache(cfg.Status.IntegrityCacheTTL)
	go integrityCache.Start()
	defer integrityCache.Stop()

	apiError := make(chan error, 1)
	go func() {
		mux := http.NewServeMux()
		handler := api.NewHandler(engine, api.NewIntegrityCache(engine, integrityCache), store, sLogger)
		handler.Routes(mux)
		log.Printf("main: Starting status server on port [%d].", cfg.Status.ServerPort)
		apiError <- http.ListenAndServe(fmt.Sprintf(":%d", cfg.Status.ServerPort), mux)
	}()

	metricsError := make(chan error, 1)
	go func() {
		log.Printf("main: Starting metrics server on port [%d].", cfg.Status.MetricsPort)
		http.Handle("/metrics", promhttp.Handler())
		metricsError <- http.ListenAndServe(fmt.Sprintf(":%d", cfg.Status.MetricsPort), nil)
	}()

	log.Println("main: Service started.")

	for {
		select {
		case <-ctx.Done():
			log.Println("main: Received shutdown signal, shutting down...")
			// wait for requests in flight before the store is closed
			if err := <-serverErr; err != nil {
				return errors.Wrap(err, "stopping wire server")
			}
			return nil
		case err := <-serverErr:
			return errors.Wrap(err, "wire server")
		case err := <-metricsError:
			return fmt.Errorf("[ERROR] starting metrics server: %v", err)
		case err := <-apiError:
			return fmt.Errorf("[ERROR] starting status server: %v", err)
		}
	}
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-sales-orders/internal/config"
	"github.com/ariefcatur/go-sales-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-sales-orders/internal/kafka"
	"github.com/ariefcatur/go-sales-orders/internal/memstore"
	"github.com/ariefcatur/go-sales-orders/internal/orders"
	"github.com/ariefcatur/go-sales-orders/internal/postgres"
	"github.com/ariefcatur/go-sales-orders/internal/redisx"
	"github.com/ariefcatur/go-sales-orders/internal/reports"
	"github.com/ariefcatur/go-sales-orders/internal/telemetry"
	"github.com/joho/godotenv"
)

type store interface {
	orders.Store
	reports.Source
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownOtel, err := telemetry.Init(ctx, cfg.OTLPEndpoint, cfg.ServiceName)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	defer func() {
		if err := shutdownOtel(context.Background()); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}()

	// Store
	var st store
	switch cfg.StoreDriver {
	case config.DriverMemory:
		mem := memstore.New()
		if err := mem.SeedFile(cfg.SeedFile); err != nil {
			log.Fatalf("memory seed: %v", err)
		}
		log.Printf("using in-memory store, seed=%q", cfg.SeedFile)
		st = mem
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("db connect: %v", err)
		}
		defer db.Close()
		if cfg.DBBootstrap {
			if err := postgres.Bootstrap(ctx, db); err != nil {
				log.Fatalf("db bootstrap: %v", err)
			}
		}
		st = &postgres.Store{DB: db}
	}

	// Redis
	var cache *redisx.Cache
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		cache = redisx.NewCache(rdb, cfg.ReportCacheTTL)
	}

	// Kafka producer
	var prod *kafkax.Producer
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCreated, 1024)
		prod.Start(ctx)
	}

	// Handlers
	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{
		Processor:      orders.NewProcessor(st),
		Store:          st,
		Cache:          cache,
		Service:        cfg.ServiceName,
		ReportLocation: cfg.ReportLocation,
	}
	if prod != nil {
		oh.Producer = prod
	}
	oh.Register(router)
	rh := &httpx.ReportsHandler{
		Reporter: reports.NewReporter(st, cfg.ReportLocation),
		Cache:    cache,
	}
	rh.Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Printf("HTTP listening at %s (store=%s)", cfg.HTTPAddr, cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	if prod != nil {
		prod.Close()      // tutup inbox -> flush & close writer
		prod.WaitClosed() // drain
	}
}

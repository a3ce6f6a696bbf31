package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-stock-reserve.git/internal/config"
	"github.com/ariefcatur/go-stock-reserve.git/internal/httpx"
	"github.com/ariefcatur/go-stock-reserve.git/internal/inventory"
	kafkax "github.com/ariefcatur/go-stock-reserve.git/internal/kafka"
	"github.com/ariefcatur/go-stock-reserve.git/internal/memstore"
	"github.com/ariefcatur/go-stock-reserve.git/internal/postgres"
	"github.com/ariefcatur/go-stock-reserve.git/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// store backend
	var store inventory.Store
	switch cfg.StoreBackend {
	case "memory":
		store = memstore.New()
		log.Info("using in-memory store")
	default:
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PGMaxConns)
		if err != nil {
			log.Fatal("db connect", zap.Error(err))
		}
		defer pool.Close()
		store = postgres.NewStore(pool)
	}

	// redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// kafka producers, one per topic
	pReserved := kafkax.NewProducer(cfg.KafkaBrokers, inventory.TopicReservationCreated, 1024, log)
	pReserved.Start(ctx)
	pReleased := kafkax.NewProducer(cfg.KafkaBrokers, inventory.TopicReservationReleased, 1024, log)
	pReleased.Start(ctx)
	pOrders := kafkax.NewProducer(cfg.KafkaBrokers, inventory.TopicOrderStatusChanged, 1024, log)
	pOrders.Start(ctx)
	pReclaim := kafkax.NewProducer(cfg.KafkaBrokers, inventory.TopicReclaimRequested, 1024, log)
	pReclaim.Start(ctx)

	svc := &inventory.Service{
		Store:             store,
		Log:               log,
		ReservationEvents: pReserved,
		ReleaseEvents:     pReleased,
		OrderEvents:       pOrders,
		ServiceName:       cfg.ServiceName,
		ReservationTTL:    cfg.ReservationTTL,
	}

	router := httpx.NewRouter()
	h := &httpx.InventoryHandler{
		Svc:     svc,
		Store:   store,
		Redis:   rdb,
		Reclaim: pReclaim,
		Service: cfg.ServiceName,
	}
	h.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)

	for _, p := range []*kafkax.Producer{pReserved, pReleased, pOrders, pReclaim} {
		p.Close() // close inbox -> flush & close writer
	}
	for _, p := range []*kafkax.Producer{pReserved, pReleased, pOrders, pReclaim} {
		p.WaitClosed()
	}
	cancel()
}

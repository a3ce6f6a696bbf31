package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-stock-reserve.git/internal/config"
	"github.com/ariefcatur/go-stock-reserve.git/internal/inventory"
	kafkax "github.com/ariefcatur/go-stock-reserve.git/internal/kafka"
	"github.com/ariefcatur/go-stock-reserve.git/internal/memstore"
	"github.com/ariefcatur/go-stock-reserve.git/internal/postgres"
	"github.com/ariefcatur/go-stock-reserve.git/internal/redisx"
)

// The reclaimer runs two triggers over the same pass: a fixed interval and
// on-demand messages on inventory.reclaim.requested. Passes are idempotent
// per reservation, so overlap between triggers (or between replicas) is
// safe; the redis lock only avoids wasted scans.
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

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	pReleased := kafkax.NewProducer(cfg.KafkaBrokers, inventory.TopicReservationReleased, 1024, log)
	pReleased.Start(ctx)

	svc := &inventory.Service{
		Store:         store,
		Log:           log,
		ReleaseEvents: pReleased,
		ServiceName:   cfg.ServiceName + "-reclaimer",
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ReclaimGroup, inventory.TopicReclaimRequested, cfg.ReclaimWorkers, log)

	g, gctx := errgroup.WithContext(ctx)

	// interval trigger
	g.Go(func() error {
		ticker := time.NewTicker(cfg.ReclaimInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				runPass(gctx, svc, rdb, log)
			}
		}
	})

	// on-demand trigger
	g.Go(func() error {
		log.Info("reclaim consumer started",
			zap.String("group", cfg.ReclaimGroup),
			zap.String("topic", inventory.TopicReclaimRequested),
			zap.Int("workers", cfg.ReclaimWorkers),
		)
		return cons.Start(gctx, func(ctx context.Context, m kafkago.Message) error {
			var env inventory.Envelope
			if err := json.Unmarshal(m.Value, &env); err != nil {
				return err
			}
			if env.EventType != inventory.EventReclaimRequested {
				return nil // ignore
			}

			// dedup replayed triggers by event id
			dkey := fmt.Sprintf(redisx.KeyDedup, "reclaimer", env.EventID)
			if exists, _ := redisx.Exists(ctx, rdb, dkey); exists {
				return nil
			}
			_ = rdb.Set(ctx, dkey, "1", redisx.TTLDedup).Err()

			runPass(ctx, svc, rdb, log)
			return nil
		})
	})

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Info("shutting down reclaimer")
		cancel()
	}()

	if err := g.Wait(); err != nil {
		log.Error("reclaimer exit", zap.Error(err))
	}
	pReleased.Close()
	pReleased.WaitClosed()
}

func runPass(ctx context.Context, svc *inventory.Service, rdb *redis.Client, log *zap.Logger) {
	ok, err := redisx.TryLock(ctx, rdb, redisx.KeyReclaimLock, redisx.TTLReclaimLock)
	if err == nil && !ok {
		return // another replica is scanning right now
	}
	if err == nil {
		defer redisx.Unlock(ctx, rdb, redisx.KeyReclaimLock)
	}
	// redis being down is no reason to skip: passes are safe to overlap

	result, err := svc.ReleaseExpired(ctx, time.Now())
	if err != nil {
		log.Error("reclaim pass", zap.Error(err))
		return
	}
	if result.Reclaimed > 0 || len(result.Failures) > 0 {
		log.Info("reclaim pass",
			zap.Int("reclaimed", result.Reclaimed),
			zap.Int("failed", len(result.Failures)),
		)
	}
}

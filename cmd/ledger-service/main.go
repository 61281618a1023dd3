package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	lhttp "github.com/radieske/bet-ledger/internal/ledger-service/http"
	"github.com/radieske/bet-ledger/internal/ledger/alerts"
	"github.com/radieske/bet-ledger/internal/ledger/repo"
	"github.com/radieske/bet-ledger/internal/shared/cache"
	"github.com/radieske/bet-ledger/internal/shared/config"
	"github.com/radieske/bet-ledger/internal/shared/db"
	"github.com/radieske/bet-ledger/internal/shared/kafka"
	"github.com/radieske/bet-ledger/internal/shared/logger"
	"github.com/radieske/bet-ledger/internal/shared/metrics"
	"github.com/radieske/bet-ledger/pkg/contracts/events"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// Postgres
	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	// Redis (cache de dicionários)
	rdb, err := cache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer rdb.Close()

	// Schema idempotente + seed dos dicionários
	ctxBoot, cancelBoot := context.WithTimeout(context.Background(), 30*time.Second)
	if err := repo.EnsureSchema(ctxBoot, pg); err != nil {
		cancelBoot()
		log.Fatal("ensure schema", zap.Error(err))
	}
	cancelBoot()

	// Repositórios
	accounts := repo.NewAccounts(pg)
	coupons := repo.NewCoupons(pg)
	queries := repo.NewQueries(pg)
	alertRepo := repo.NewAlerts(pg)
	reports := repo.NewReports(pg)
	users := repo.NewUsers(pg)
	dict := repo.NewDictionaries(pg, rdb)

	// Avaliador usado pelo endpoint POST /alerts/evaluate
	evaluator := alerts.NewEvaluator(alertRepo, coupons, queries, cfg.Timezone, log)

	// Kafka writer (topic coupon_settled)
	writer := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicCouponSettled)
	defer writer.Close()

	publish := func(ctx context.Context, ev events.CouponSettled) error {
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		key := fmt.Sprintf("%d", ev.UserID)
		return kafka.WriteJSON(ctx, writer, key, payload)
	}

	api := lhttp.NewServer(log, accounts, coupons, queries, alertRepo, reports, users, dict, evaluator, cfg.Timezone, publish)

	// /metrics e /healthz em porta separada
	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		if err := pg.PingContext(ctx); err != nil {
			return err
		}
		return rdb.Ping(ctx).Err()
	})
	defer metricsSrv.Close()

	apiSrv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler: api.Router(),
	}

	// Shutdown gracioso
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = apiSrv.Shutdown(shutdownCtx)
	}()

	log.Info("ledger-service listening", zap.String("addr", apiSrv.Addr))
	if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("api", zap.Error(err))
	}
	log.Info("ledger-service stopped")
}

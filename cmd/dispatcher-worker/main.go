package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/bet-ledger/internal/dispatcher-worker/consumer"
	"github.com/radieske/bet-ledger/internal/dispatcher-worker/delivery"
	"github.com/radieske/bet-ledger/internal/ledger/alerts"
	"github.com/radieske/bet-ledger/internal/ledger/repo"
	"github.com/radieske/bet-ledger/internal/ledger/reports"
	"github.com/radieske/bet-ledger/internal/shared/cache"
	"github.com/radieske/bet-ledger/internal/shared/config"
	"github.com/radieske/bet-ledger/internal/shared/db"
	"github.com/radieske/bet-ledger/internal/shared/i18n"
	"github.com/radieske/bet-ledger/internal/shared/kafka"
	"github.com/radieske/bet-ledger/internal/shared/logger"
	"github.com/radieske/bet-ledger/internal/shared/messaging"
	"github.com/radieske/bet-ledger/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	i18n.SetDefaultLanguage(cfg.DefaultLanguage)

	// Postgres e Redis
	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	rdb, err := cache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer rdb.Close()

	// Canal de entrega (Telegram)
	sender, err := messaging.NewTelegram(cfg.MessagingToken, log)
	if err != nil {
		log.Fatal("telegram connect", zap.Error(err))
	}

	// Repositórios e serviços de domínio
	couponsRepo := repo.NewCoupons(pg)
	queriesRepo := repo.NewQueries(pg)
	alertsRepo := repo.NewAlerts(pg)
	reportsRepo := repo.NewReports(pg)
	usersRepo := repo.NewUsers(pg)
	accountsRepo := repo.NewAccounts(pg)

	evaluator := alerts.NewEvaluator(alertsRepo, couponsRepo, queriesRepo, cfg.Timezone, log)
	scheduler := reports.NewScheduler(reportsRepo, couponsRepo, queriesRepo, usersRepo, sender, cfg.Timezone, cfg.MessagingFancyBalance, log)

	// Métricas Prometheus do despacho
	alertsSent := prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatcher_alerts_sent_total", Help: "alertas entregues"})
	reportsSent := prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatcher_reports_sent_total", Help: "relatórios entregues"})
	budgetSent := prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatcher_budget_alerts_sent_total", Help: "avisos de orçamento entregues"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "dispatcher_errors_total", Help: "erros por estágio"}, []string{"stage"})
	consumed := prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatcher_settlements_consumed_total", Help: "eventos coupon_settled consumidos"})
	streakReset := prometheus.NewCounter(prometheus.CounterOpts{Name: "dispatcher_streak_resets_total", Help: "sequências de derrota zeradas"})
	prometheus.MustRegister(alertsSent, reportsSent, budgetSent, errorsBy, consumed, streakReset)

	disp := &delivery.Dispatcher{
		Log:       log,
		Events:    alertsRepo,
		Users:     usersRepo,
		Deposits:  accountsRepo,
		Evaluator: evaluator,
		Reports:   scheduler,
		Sender:    sender,
		Dedup:     delivery.RedisDedup{Client: rdb},
		Loc:       cfg.Timezone,

		OnAlertSent:  func() { alertsSent.Inc() },
		OnReportSent: func() { reportsSent.Inc() },
		OnBudgetSent: func() { budgetSent.Inc() },
		OnError:      func(stage string) { errorsBy.WithLabelValues(stage).Inc() },
	}

	// Consumer de coupon_settled: reavalia alertas na hora da liquidação
	reader := kafka.NewReader(cfg.KafkaBrokers, cfg.TopicCouponSettled, "dispatcher-worker")
	defer reader.Close()

	proc := &consumer.Processor{
		Log:        log,
		Reader:     reader,
		Alerts:     alertsRepo,
		Evaluator:  evaluator,
		OnConsumed: func() { consumed.Inc() },
		OnReset:    func() { streakReset.Inc() },
		OnError:    func(stage string) { errorsBy.WithLabelValues(stage).Inc() },
	}

	// /metrics e /healthz
	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		if err := pg.PingContext(ctx); err != nil {
			return err
		}
		return rdb.Ping(ctx).Err()
	})
	defer metricsSrv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("consumer stopped", zap.Error(err))
		}
	}()

	alertsTicker := time.NewTicker(cfg.AlertsTick)
	reportsTicker := time.NewTicker(cfg.ReportsTick)
	budgetTicker := time.NewTicker(cfg.BudgetTick)
	defer alertsTicker.Stop()
	defer reportsTicker.Stop()
	defer budgetTicker.Stop()

	log.Info("dispatcher-worker started",
		zap.Duration("alerts_tick", cfg.AlertsTick),
		zap.Duration("reports_tick", cfg.ReportsTick),
		zap.Duration("budget_tick", cfg.BudgetTick))

	// Primeira rodada imediata; depois, nos ticks
	disp.AlertsTick(ctx, time.Now())
	disp.ReportsTick(ctx, time.Now())
	disp.BudgetTick(ctx, time.Now())

	for {
		select {
		case <-ctx.Done():
			log.Info("dispatcher-worker stopped")
			return
		case t := <-alertsTicker.C:
			disp.AlertsTick(ctx, t)
		case t := <-reportsTicker.C:
			disp.ReportsTick(ctx, t)
		case t := <-budgetTicker.C:
			disp.BudgetTick(ctx, t)
		}
	}
}

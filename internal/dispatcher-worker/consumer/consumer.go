// Package consumer reage aos eventos coupon_settled: um cupom WON zera a
// sequência de derrotas na hora, sem esperar o próximo tick do avaliador.
package consumer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/bet-ledger/internal/ledger/model"
	"github.com/radieske/bet-ledger/pkg/contracts/events"
)

type StreakStore interface {
	ResetStreakEvents(ctx context.Context, userID int64) (bool, error)
}

type UserEvaluator interface {
	EvaluateUser(ctx context.Context, now time.Time, userID int64) error
}

// Processor consome coupon_settled e reavalia as regras do usuário
type Processor struct {
	Log       *zap.Logger
	Reader    *kafka.Reader
	Alerts    StreakStore
	Evaluator UserEvaluator

	OnConsumed func()
	OnReset    func()
	OnError    func(string)
}

// Run roda o loop de consumo até o contexto ser cancelado
func (p *Processor) Run(ctx context.Context) error {
	for {
		m, err := p.Reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.Log.Warn("kafka read failed", zap.Error(err))
			if p.OnError != nil {
				p.OnError("read")
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if p.OnConsumed != nil {
			p.OnConsumed()
		}

		var ev events.CouponSettled
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			p.Log.Warn("invalid coupon_settled", zap.Error(err))
			if p.OnError != nil {
				p.OnError("decode")
			}
			continue
		}

		p.handle(ctx, ev)
	}
}

func (p *Processor) handle(ctx context.Context, ev events.CouponSettled) {
	if ev.Status == model.StatusWon {
		reset, err := p.Alerts.ResetStreakEvents(ctx, ev.UserID)
		switch {
		case err != nil:
			p.Log.Warn("streak reset failed",
				zap.Int64("user_id", ev.UserID), zap.Error(err))
			if p.OnError != nil {
				p.OnError("reset")
			}
		case reset:
			if p.OnReset != nil {
				p.OnReset()
			}
		}
	}

	// Liquidação pode cruzar um limiar na hora; reavalia já
	if err := p.Evaluator.EvaluateUser(ctx, time.Now(), ev.UserID); err != nil {
		p.Log.Warn("re-evaluate failed",
			zap.Int64("user_id", ev.UserID), zap.Error(err))
		if p.OnError != nil {
			p.OnError("evaluate")
		}
	}
}

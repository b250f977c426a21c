// Package events publishes trade-settlement notifications onto NATS
// for downstream consumers (indexers, UIs, risk monitors). This sits
// deliberately outside the core: a publish failure never blocks or
// rolls back a settled trade, it is only best-effort fan-out.
package events

import (
	"context"
	"encoding/json"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/curvemargin/marginbook/internal/orderbook"
	"github.com/curvemargin/marginbook/internal/tradeengine"
)

// TradeSettled is the event payload published after a plan has been
// applied through the order book's batch.
type TradeSettled struct {
	Mint             string              `json:"mint"`
	Side             string              `json:"side"`
	Direction        orderbook.Direction `json:"direction"`
	InputAmount      uint64              `json:"input_amount"`
	OutputAmount     uint64              `json:"output_amount"`
	FeeSol           uint64              `json:"fee_sol"`
	LiquidatedOrders []uint16            `json:"liquidated_orders"`
	LiquidateFeeSol  uint64              `json:"liquidate_fee_sol"`
	SettledAt        uint32              `json:"settled_at"`
}

// TradeSettledFromBuy builds a TradeSettled event from a buy plan.
func TradeSettledFromBuy(mint string, plan tradeengine.BuyPlan, settledAt uint32) TradeSettled {
	return TradeSettled{
		Mint:             mint,
		Side:             "buy",
		Direction:        orderbook.Up,
		InputAmount:      plan.RequiredSol,
		OutputAmount:     plan.OutputToken,
		FeeSol:           plan.FeeSol,
		LiquidatedOrders: plan.LiquidateIndices,
		LiquidateFeeSol:  plan.LiquidateFeeSol,
		SettledAt:        settledAt,
	}
}

// TradeSettledFromSell builds a TradeSettled event from a sell plan.
func TradeSettledFromSell(mint string, plan tradeengine.SellPlan, settledAt uint32) TradeSettled {
	return TradeSettled{
		Mint:             mint,
		Side:             "sell",
		Direction:        orderbook.Down,
		InputAmount:      plan.SellToken,
		OutputAmount:     plan.OutputSol,
		FeeSol:           plan.FeeSol,
		LiquidatedOrders: plan.LiquidateIndices,
		LiquidateFeeSol:  plan.LiquidateFeeSol,
		SettledAt:        settledAt,
	}
}

// Publisher publishes TradeSettled events to a single NATS subject.
type Publisher struct {
	pub     message.Publisher
	subject string
	logger  *zap.Logger
}

// NewPublisher dials natsURL and builds a Publisher for subject.
func NewPublisher(natsURL, subject string, logger *zap.Logger) (*Publisher, error) {
	wlogger := watermill.NewStdLoggerWithOut(os.Stdout, false, false)
	pub, err := nats.NewPublisher(
		nats.PublisherConfig{
			URL:       natsURL,
			Marshaler: &nats.GobMarshaler{},
		},
		wlogger,
	)
	if err != nil {
		return nil, err
	}
	return &Publisher{pub: pub, subject: subject, logger: logger}, nil
}

// Publish best-effort publishes evt; failures are logged, never returned
// to the trading request that triggered them.
func (p *Publisher) Publish(ctx context.Context, evt TradeSettled) {
	payload, err := json.Marshal(evt)
	if err != nil {
		p.logger.Warn("failed to marshal trade-settled event", zap.Error(err))
		return
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	if err := p.pub.Publish(p.subject, msg); err != nil {
		p.logger.Warn("failed to publish trade-settled event", zap.Error(err))
	}
}

// Close releases the underlying NATS connection.
func (p *Publisher) Close() error {
	return p.pub.Close()
}

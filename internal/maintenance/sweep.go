// Package maintenance runs the background sweep that closes margin
// orders whose end_time has passed, using the same batch-removal and
// archive path an HTTP-triggered close would use. It is deliberately
// outside the core: the core exposes no timers of its own (§5).
package maintenance

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/curvemargin/marginbook/internal/archive"
	"github.com/curvemargin/marginbook/internal/kvstore"
	"github.com/curvemargin/marginbook/internal/orderbook"
	apperrors "github.com/curvemargin/marginbook/pkg/errors"
)

// BookRef names one (mint, direction) book the sweeper should scan.
type BookRef struct {
	Mint      string
	Direction orderbook.Direction
}

var bookKeyPrefix = []byte("book:")

// DiscoverBooks scans the KV store's book: keyspace and returns every
// (mint, direction) pair currently initialized, so the sweeper never
// needs a statically configured mint list.
func DiscoverBooks(kv *kvstore.Store) ([]BookRef, error) {
	rows, err := kv.Scan(bookKeyPrefix, kvstore.Forward, 0)
	if err != nil {
		return nil, err
	}
	refs := make([]BookRef, 0, len(rows))
	for _, row := range rows {
		key := bytes.TrimPrefix(row.Key, bookKeyPrefix)
		parts := strings.Split(string(key), ":")
		if len(parts) != 2 {
			continue
		}
		dir := orderbook.Down
		if parts[1] == "up" {
			dir = orderbook.Up
		}
		refs = append(refs, BookRef{Mint: parts[0], Direction: dir})
	}
	return refs, nil
}

// Sweeper periodically rediscovers every book in the KV store, finds
// orders whose end_time has passed and closes each book's expired orders
// in one batch, rate-limited per book so a sweep cannot starve normal
// trade traffic for the KV store.
type Sweeper struct {
	kv        *kvstore.Store
	obStore   *orderbook.Store
	archStore *archive.Store
	logger    *zap.Logger
	pool      *ants.Pool
	limiter   *rate.Limiter
	interval  time.Duration
}

// Config configures a Sweeper's pacing and worker count.
type Config struct {
	Interval       time.Duration
	RatePerSecond  float64
	Workers        int
}

// NewSweeper builds a Sweeper that rediscovers the live set of books
// from kv at the start of every sweep.
func NewSweeper(kv *kvstore.Store, obStore *orderbook.Store, archStore *archive.Store, logger *zap.Logger, cfg Config) (*Sweeper, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrIoError, "create maintenance worker pool")
	}
	return &Sweeper{
		kv:        kv,
		obStore:   obStore,
		archStore: archStore,
		logger:    logger,
		pool:      pool,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		interval:  cfg.Interval,
	}, nil
}

// Run blocks, sweeping every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer s.pool.Release()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	now := uint32(time.Now().Unix())
	books, err := DiscoverBooks(s.kv)
	if err != nil {
		s.logger.Warn("maintenance book discovery failed", zap.Error(err))
		return
	}
	for _, ref := range books {
		ref := ref
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		err := s.pool.Submit(func() {
			if err := s.sweepBook(ref, now); err != nil {
				s.logger.Warn("maintenance sweep failed",
					zap.String("mint", ref.Mint),
					zap.Uint8("direction", uint8(ref.Direction)),
					zap.Error(err))
			}
		})
		if err != nil {
			s.logger.Warn("maintenance worker pool rejected task", zap.Error(err))
		}
	}
}

func (s *Sweeper) sweepBook(ref BookRef, now uint32) error {
	book, err := s.obStore.Load(ref.Mint, ref.Direction)
	if err != nil {
		if apperrors.Code(err) == apperrors.ErrNotFound {
			return nil
		}
		return err
	}

	var expired []uint16
	for _, io := range book.GetAllActiveOrders() {
		if io.Order.EndTime != 0 && io.Order.EndTime <= now {
			expired = append(expired, io.Index)
		}
	}
	if len(expired) == 0 {
		return nil
	}

	batch := kvstore.NewBatch()
	removed, err := s.obStore.StageBatchRemove(batch, ref.Mint, ref.Direction, book, expired)
	if err != nil {
		return err
	}
	for _, r := range removed {
		if err := s.archStore.StageClose(batch, ref.Mint, ref.Direction, r.Order, now, archive.CloseForced); err != nil {
			return err
		}
	}
	if err := s.obStore.Write(batch); err != nil {
		return err
	}
	s.logger.Info("maintenance swept expired orders",
		zap.String("mint", ref.Mint),
		zap.Int("count", len(removed)))
	return nil
}

package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/library-reservations/internal/model"
	"github.com/iliyamo/library-reservations/internal/queue"
	"github.com/iliyamo/library-reservations/internal/repository"
)

// ProcessExpired moves every active reservation whose expiration lies
// before now to Expired and returns how many it moved.  Each record is
// re-checked and changed in its own transaction; a record that was changed
// by someone else in the meantime is skipped and a failing record is logged
// without stopping the sweep.  Running it again right away moves nothing.
func (l *Lifecycle) ProcessExpired(ctx context.Context) (int, error) {
	now := l.clock()
	var (
		afterID uint64
		count   int
		failed  int
	)
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		ids, err := l.store.ActiveExpiredBefore(ctx, now, afterID, l.policy.SweepBatch)
		if err != nil {
			return count, err
		}
		for _, id := range ids {
			afterID = id
			ok, err := l.expireOne(ctx, id, now)
			if err != nil {
				failed++
				l.log.Warn("expire reservation failed", zap.Uint64("reservation_id", id), zap.Error(err))
				continue
			}
			if ok {
				count++
			}
		}
		if len(ids) < l.policy.SweepBatch {
			break
		}
	}
	if count > 0 || failed > 0 {
		l.log.Info("expired reservations processed",
			zap.Int("expired", count),
			zap.Int("failed", failed),
			zap.Time("cutoff", now),
		)
	}
	return count, nil
}

// expireOne reports false when the reservation no longer qualifies.
func (l *Lifecycle) expireOne(ctx context.Context, id uint64, now time.Time) (bool, error) {
	var (
		out  model.Reservation
		prev model.Status
		done bool
	)
	err := l.store.InTx(ctx, func(tx repository.Tx) error {
		r, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !r.ExpiredAt(now) {
			return nil
		}
		prev = r.Status
		if err := moveTo(&r, model.StatusExpired); err != nil {
			return err
		}
		r.UpdatedAt = now
		if err := tx.Update(ctx, &r); err != nil {
			return err
		}
		out, done = r, true
		return nil
	})
	if err != nil || !done {
		return false, err
	}
	l.publish(ctx, queue.EventExpired, out, prev)
	return true, nil
}

package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	pfirestore "github.com/finitefield/pos-api/internal/platform/firestore"
)

const countersCollection = "counters"

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	Step         int64     `firestore:"step"`
	MaxValue     *int64    `firestore:"maxValue,omitempty"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository implements repositories.CounterRepository. Increments join the caller's unit of
// work when there is one and run in their own transaction otherwise.
type CounterRepository struct {
	counters *pfirestore.Collection[counterDocument]
	unit     *pfirestore.UnitOfWork
	opts     options
}

func NewCounterRepository(provider *pfirestore.Provider, opts ...Option) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	cfg := newOptions(opts)
	return &CounterRepository{
		counters: pfirestore.NewCollection[counterDocument](provider, countersCollection),
		unit:     pfirestore.NewUnitOfWork(provider, cfg.tx...),
		opts:     cfg,
	}, nil
}

// Next atomically increments the counter and returns the new value. A missing counter starts at step.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, errors.New("counters: counter id is required")
	}
	if step < 0 {
		return 0, errors.New("counters: step must not be negative")
	}

	var next int64
	err := r.unit.RunInTx(ctx, func(ctx context.Context) error {
		doc, err := r.counters.Get(ctx, id)
		if err != nil {
			var repoErr *pfirestore.Error
			if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
				return err
			}
			doc = counterDocument{}
		}

		increment := step
		if increment == 0 {
			increment = max(doc.Step, 1)
		}
		value := doc.CurrentValue + increment
		if doc.MaxValue != nil && value > *doc.MaxValue {
			return pfirestore.Conflict("counters.next", "counter %s exceeded max value %d", id, *doc.MaxValue)
		}

		doc.CurrentValue = value
		doc.Step = increment
		doc.UpdatedAt = r.opts.now()
		if err := r.counters.Set(ctx, id, doc); err != nil {
			return err
		}
		next = value
		return nil
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

// TxFunc is executed within a Firestore transaction.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts overrides the retry attempts for a transaction.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout sets a timeout for the transaction context.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// RunTransaction executes fn within a transaction on the provided client.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	if client == nil {
		return WrapError("transaction", errors.New("firestore: client is nil"))
	}
	if fn == nil {
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}

	cfg := txConfig{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	if deadline, ok := ctx.Deadline(); cfg.timeout > 0 && (!ok || time.Until(deadline) > cfg.timeout) {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	var fnErr error
	err := client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		fnErr = fn(ctx, tx)
		return fnErr
	}, firestore.MaxAttempts(cfg.attempts))
	if err != nil && fnErr != nil && errors.Is(err, fnErr) {
		// errors from fn are returned untouched
		return fnErr
	}
	return WrapError("transaction", err)
}

type txKey struct{}

// txState holds the transaction bound to a unit of work plus the writes buffered until fn returns.
// Firestore requires every read to happen before the first write, so writes are deferred.
type txState struct {
	tx     *firestore.Transaction
	writes map[string]pendingWrite
	order  []string
}

type pendingWrite struct {
	ref    *firestore.DocumentRef
	data   any
	delete bool
}

func (s *txState) put(ref *firestore.DocumentRef, data any, del bool) {
	path := ref.Path
	if _, seen := s.writes[path]; !seen {
		s.order = append(s.order, path)
	}
	s.writes[path] = pendingWrite{ref: ref, data: data, delete: del}
}

func (s *txState) flush() error {
	for _, path := range s.order {
		w := s.writes[path]
		var err error
		if w.delete {
			err = s.tx.Delete(w.ref)
		} else {
			err = s.tx.Set(w.ref, w.data)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func currentTx(ctx context.Context) (*txState, bool) {
	state, ok := ctx.Value(txKey{}).(*txState)
	return state, ok && state != nil
}

// UnitOfWork implements repositories.UnitOfWork on Firestore transactions. Collection helpers called
// with the context handed to fn read through the transaction and buffer their writes.
type UnitOfWork struct {
	provider *Provider
	opts     []TxOption
}

// NewUnitOfWork binds a unit of work to the provider.
func NewUnitOfWork(provider *Provider, opts ...TxOption) *UnitOfWork {
	return &UnitOfWork{provider: provider, opts: opts}
}

// RunInTx runs fn in a transaction. Nested calls join the outer transaction.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := currentTx(ctx); ok {
		return fn(ctx)
	}
	client, err := u.provider.Client(ctx)
	if err != nil {
		return err
	}
	return RunTransaction(ctx, client, func(txCtx context.Context, tx *firestore.Transaction) error {
		state := &txState{tx: tx, writes: make(map[string]pendingWrite)}
		if err := fn(context.WithValue(txCtx, txKey{}, state)); err != nil {
			return err
		}
		return state.flush()
	}, u.opts...)
}

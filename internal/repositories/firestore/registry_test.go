package firestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	pconfig "github.com/finitefield/pos-api/internal/platform/config"
	pfirestore "github.com/finitefield/pos-api/internal/platform/firestore"
)

func TestRegistryOptionsClock(t *testing.T) {
	loc := time.FixedZone("ICT", 7*60*60)
	fixed := time.Date(2025, 10, 1, 19, 0, 0, 0, loc)

	opts := newOptions([]Option{WithClock(func() time.Time { return fixed }), WithClock(nil)})
	require.Equal(t, fixed.UTC(), opts.now())
	require.Equal(t, time.UTC, opts.now().Location())

	defaults := newOptions(nil)
	require.WithinDuration(t, time.Now().UTC(), defaults.now(), time.Minute)
}

func TestRegistryPassesClockToRepositories(t *testing.T) {
	fixed := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "pos-unit-test"})

	reg, err := NewRegistry(provider, WithClock(func() time.Time { return fixed }), WithTxOptions(pfirestore.WithTxAttempts(3)))
	require.NoError(t, err)

	require.Equal(t, fixed, reg.promotions.opts.now())
	require.Equal(t, fixed, reg.ledger.opts.now())
	require.Equal(t, fixed, reg.counters.opts.now())
	require.Len(t, reg.counters.opts.tx, 1)
}

package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "moltens/pkg/platform/audit"
)

type flakyStore struct {
	mu     sync.Mutex
	failOn string
	stored []audit.Event
}

func (f *flakyStore) Append(_ context.Context, e audit.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.Action == f.failOn {
		return errors.New("disk full")
	}
	f.stored = append(f.stored, e)
	return nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRunSkipsFailedAppends(t *testing.T) {
	store := &flakyStore{failOn: "proof_missing"}
	inbox := make(chan audit.Event, 3)
	inbox <- audit.Event{Action: "claim_initiated"}
	inbox <- audit.Event{Action: "proof_missing"}
	inbox <- audit.Event{Action: "claim_verified"}
	close(inbox)

	require.NoError(t, NewWorker(store, inbox, discard()).Run(context.Background()))

	require.Len(t, store.stored, 2)
	assert.Equal(t, "claim_initiated", store.stored[0].Action)
	assert.Equal(t, "claim_verified", store.stored[1].Action)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewWorker(&flakyStore{}, make(chan audit.Event), nil).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

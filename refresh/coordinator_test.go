package refresh

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-authgate/authsession/credential"
	"github.com/go-authgate/authsession/provider"
)

// fakeExchanger counts calls and answers after an optional delay.
type fakeExchanger struct {
	calls  atomic.Int32
	delay  time.Duration
	tokens provider.Tokens
	err    error
	seen   chan string
}

func (f *fakeExchanger) Refresh(ctx context.Context, refreshToken string) (provider.Tokens, error) {
	n := f.calls.Add(1)
	if f.seen != nil {
		f.seen <- refreshToken
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return provider.Tokens{}, ctx.Err()
		}
	}
	if f.err != nil {
		return provider.Tokens{}, f.err
	}
	tokens := f.tokens
	if tokens.AccessToken == "" {
		tokens.AccessToken = fmt.Sprintf("access-%d", n)
	}
	return tokens, nil
}

type countingObserver struct {
	refreshing, ok, failed atomic.Int32
}

func (o *countingObserver) Refreshing()           { o.refreshing.Add(1) }
func (o *countingObserver) RefreshOK()            { o.ok.Add(1) }
func (o *countingObserver) RefreshFailed(_ error) { o.failed.Add(1) }

func seededStore(t *testing.T) *credential.Store {
	t.Helper()
	store := credential.NewStore(credential.NewMemoryMedium())
	require.NoError(t, store.Save(context.Background(), "stale-access", "refresh-1"))
	return store
}

func TestRefresh_ConcurrentCallersShareOneExchange(t *testing.T) {
	store := seededStore(t)
	ex := &fakeExchanger{delay: 200 * time.Millisecond, tokens: provider.Tokens{AccessToken: "fresh-access"}}
	obs := &countingObserver{}
	coord := NewCoordinator(store, ex, 5*time.Second, WithObserver(obs))

	const n = 16
	var wg sync.WaitGroup
	results := make(chan bool, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			results <- coord.Refresh(context.Background())
		}()
	}
	wg.Wait()
	close(results)

	for ok := range results {
		assert.True(t, ok)
	}
	assert.EqualValues(t, 1, ex.calls.Load(), "exactly one exchange for concurrent callers")
	assert.EqualValues(t, 1, coord.Exchanges())
	assert.EqualValues(t, 1, obs.refreshing.Load())
	assert.EqualValues(t, 1, obs.ok.Load())
	assert.Equal(t, Idle, coord.State())

	access, _ := store.Access(context.Background())
	assert.Equal(t, "fresh-access", access)
}

func TestRefresh_SettledHandleAllowsNewExchange(t *testing.T) {
	store := seededStore(t)
	ex := &fakeExchanger{}
	coord := NewCoordinator(store, ex, time.Second)

	assert.True(t, coord.Refresh(context.Background()))
	assert.True(t, coord.Refresh(context.Background()))
	assert.EqualValues(t, 2, ex.calls.Load())

	access, _ := store.Access(context.Background())
	assert.Equal(t, "access-2", access)
}

func TestRefresh_FailureClearsEverything(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	ex := &fakeExchanger{
		delay: 50 * time.Millisecond,
		err:   fmt.Errorf("%w: invalid_grant", provider.ErrRefreshRejected),
	}
	obs := &countingObserver{}
	coord := NewCoordinator(store, ex, time.Second, WithObserver(obs))

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !coord.Refresh(ctx) {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 4, failures.Load())
	assert.EqualValues(t, 1, ex.calls.Load(), "a rejected refresh is not retried")
	assert.EqualValues(t, 1, obs.failed.Load())

	_, hasAccess := store.Access(ctx)
	_, hasRefresh := store.Refresh(ctx)
	assert.False(t, hasAccess)
	assert.False(t, hasRefresh)
}

func TestRefresh_NothingToExchange(t *testing.T) {
	store := credential.NewStore(credential.NewMemoryMedium())
	ex := &fakeExchanger{}
	coord := NewCoordinator(store, ex, time.Second)

	assert.False(t, coord.Refresh(context.Background()))
	assert.Zero(t, ex.calls.Load())
}

func TestRefresh_RotationModes(t *testing.T) {
	tests := []struct {
		name        string
		tokens      provider.Tokens
		wantRefresh string
	}{
		{
			name:        "rotated refresh token replaces the old one",
			tokens:      provider.Tokens{AccessToken: "new-access", RefreshToken: "refresh-2"},
			wantRefresh: "refresh-2",
		},
		{
			name:        "missing refresh token keeps the old one",
			tokens:      provider.Tokens{AccessToken: "new-access"},
			wantRefresh: "refresh-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seededStore(t)
			coord := NewCoordinator(store, &fakeExchanger{tokens: tt.tokens}, time.Second)

			require.True(t, coord.Refresh(context.Background()))

			pair, ok := store.Pair(context.Background())
			require.True(t, ok)
			assert.Equal(t, "new-access", pair.AccessToken)
			assert.Equal(t, tt.wantRefresh, pair.RefreshToken)
		})
	}
}

func TestRefresh_CallerCancelDoesNotAbortSharedExchange(t *testing.T) {
	store := seededStore(t)
	ex := &fakeExchanger{delay: 150 * time.Millisecond, seen: make(chan string, 1)}
	coord := NewCoordinator(store, ex, 5*time.Second)

	impatient, cancel := context.WithCancel(context.Background())
	impatientResult := make(chan bool, 1)
	go func() { impatientResult <- coord.Refresh(impatient) }()

	<-ex.seen
	patientResult := make(chan bool, 1)
	go func() { patientResult <- coord.Refresh(context.Background()) }()

	cancel()
	assert.False(t, <-impatientResult)
	assert.True(t, <-patientResult)
	assert.EqualValues(t, 1, ex.calls.Load())
}

func TestRefresh_TimeoutClearsSession(t *testing.T) {
	store := seededStore(t)
	ex := &fakeExchanger{delay: time.Second}
	coord := NewCoordinator(store, ex, 50*time.Millisecond)

	assert.False(t, coord.Refresh(context.Background()))
	_, ok := store.Refresh(context.Background())
	assert.False(t, ok)
}

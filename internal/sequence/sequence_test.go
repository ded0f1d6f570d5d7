package sequence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/ledger/internal/apperr"
	"github.com/cleared-dev/ledger/internal/config"
	"github.com/cleared-dev/ledger/internal/lock"
	"github.com/cleared-dev/ledger/internal/store"
	"github.com/cleared-dev/ledger/internal/store/memory"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Tenants = []config.TenantConfig{
		{
			ID:     "apr",
			Fiscal: config.FiscalConfig{YearStart: "04-01"},
			Sequences: map[string]config.SequenceConfig{
				"invoice": {Reset: "calendar_year"},
				"payment": {Prefix: "P", Separator: "/", Padding: 3, Reset: "never"},
				"bogus":   {Prefix: "B", Reset: "weekly"},
			},
		},
	}
	return cfg
}

func newAllocator(t *testing.T, opts ...Option) (*Allocator, *memory.Store) {
	t.Helper()
	st := memory.New()
	return NewAllocator(st, lock.NewLocal(time.Second), testConfig(), opts...), st
}

func TestNext_Sequential(t *testing.T) {
	a, _ := newAllocator(t)
	ctx := context.Background()

	for _, want := range []string{"JV-FY2025-00001", "JV-FY2025-00002", "JV-FY2025-00003"} {
		got, err := a.Next(ctx, "acme", "journal", date("2025-06-15"))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// Series are independent per document type and tenant.
	got, err := a.Next(ctx, "acme", "invoice", date("2025-06-15"))
	require.NoError(t, err)
	assert.Equal(t, "INV-FY2025-00001", got)

	got, err = a.Next(ctx, "other", "journal", date("2025-06-15"))
	require.NoError(t, err)
	assert.Equal(t, "JV-FY2025-00001", got)
}

func TestNext_ResetPolicies(t *testing.T) {
	tests := []struct {
		name    string
		docType string
		dates   []string
		want    []string
	}{
		{
			name:    "fiscal year starting in april",
			docType: "journal",
			dates:   []string{"2025-03-30", "2025-03-31", "2025-04-01", "2025-12-31", "2026-01-02"},
			want:    []string{"JV-FY2024-00001", "JV-FY2024-00002", "JV-FY2025-00001", "JV-FY2025-00002", "JV-FY2025-00003"},
		},
		{
			name:    "backdated documents continue their own year",
			docType: "journal",
			dates:   []string{"2025-06-15", "2025-06-16", "2025-03-20", "2025-06-17", "2025-03-21", "2025-06-18"},
			want:    []string{"JV-FY2025-00001", "JV-FY2025-00002", "JV-FY2024-00001", "JV-FY2025-00003", "JV-FY2024-00002", "JV-FY2025-00004"},
		},
		{
			name:    "calendar year",
			docType: "invoice",
			dates:   []string{"2025-03-31", "2025-04-01", "2026-01-01", "2025-12-31", "2026-01-02"},
			want:    []string{"INV-2025-00001", "INV-2025-00002", "INV-2026-00001", "INV-2025-00003", "INV-2026-00002"},
		},
		{
			name:    "never",
			docType: "payment",
			dates:   []string{"2024-12-31", "2025-06-01", "2030-01-01"},
			want:    []string{"P/001", "P/002", "P/003"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newAllocator(t)
			for i, d := range tt.dates {
				got, err := a.Next(context.Background(), "apr", tt.docType, date(d))
				require.NoError(t, err)
				assert.Equal(t, tt.want[i], got, d)
			}
		})
	}
}

func TestNext_UnknownResetPolicy(t *testing.T) {
	a, _ := newAllocator(t)
	_, err := a.Next(context.Background(), "apr", "bogus", date("2025-06-01"))
	assert.ErrorIs(t, err, apperr.ErrInvalidPayload)
}

func TestNextInTx_RollsBackWithCaller(t *testing.T) {
	a, st := newAllocator(t)
	ctx := context.Background()
	boom := errors.New("posting failed")

	err := st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		n, err := a.NextInTx(ctx, tx, "acme", "journal", date("2025-06-15"))
		require.NoError(t, err)
		assert.Equal(t, "JV-FY2025-00001", n)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := a.Next(ctx, "acme", "journal", date("2025-06-15"))
	require.NoError(t, err)
	assert.Equal(t, "JV-FY2025-00001", got, "rolled back number is reissued")
}

func TestNext_ConcurrentUnique(t *testing.T) {
	a, _ := newAllocator(t, WithRetry(10, time.Millisecond))
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]bool, workers)
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := a.Next(ctx, "acme", "journal", date("2025-06-15"))
			if err != nil {
				errs <- err
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[n] {
				errs <- errors.New("duplicate " + n)
			}
			seen[n] = true
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assert.Len(t, seen, workers)
	assert.True(t, seen["JV-FY2025-00001"])
	assert.True(t, seen["JV-FY2025-00050"])
}

// flakyLocks fails the first n acquisitions with err.
type flakyLocks struct {
	mu    sync.Mutex
	fails int
	err   error
	calls int
}

func (f *flakyLocks) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.fails
	f.mu.Unlock()
	if fail {
		return f.err
	}
	return fn(ctx)
}

func TestNext_Retry(t *testing.T) {
	timeout := apperr.New(apperr.CodeLockTimeout, "busy")

	tests := []struct {
		name      string
		fails     int
		err       error
		wantCalls int
		wantCode  apperr.Code
	}{
		{name: "recovers", fails: 2, err: timeout, wantCalls: 3},
		{name: "exhausted", fails: 10, err: timeout, wantCalls: 4, wantCode: apperr.CodeSequenceContention},
		{name: "not retryable", fails: 10, err: apperr.New(apperr.CodeInvalidPayload, "bad"), wantCalls: 1, wantCode: apperr.CodeInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			locks := &flakyLocks{fails: tt.fails, err: tt.err}
			a := NewAllocator(memory.New(), locks, testConfig(), WithRetry(3, time.Millisecond))
			a.backOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

			n, err := a.Next(context.Background(), "acme", "journal", date("2025-06-15"))
			assert.Equal(t, tt.wantCalls, locks.calls)
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, apperr.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "JV-FY2025-00001", n)
		})
	}
}

func TestNext_RetryStopsWhenContextDone(t *testing.T) {
	locks := &flakyLocks{fails: 10, err: apperr.New(apperr.CodeLockTimeout, "busy")}
	a := NewAllocator(memory.New(), locks, testConfig(), WithRetry(5, time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := a.Next(ctx, "acme", "journal", date("2025-06-15"))
	require.Error(t, err)
	assert.Equal(t, apperr.CodeLockTimeout, apperr.CodeOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, locks.calls)
}

func TestExponentialBackOff(t *testing.T) {
	a := NewAllocator(memory.New(), lock.NewLocal(time.Second), testConfig(), WithRetry(3, 10*time.Millisecond))
	b := a.backOff()

	// Each interval is the doubled base with up to 50% jitter either way.
	for _, base := range []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond} {
		d := b.NextBackOff()
		assert.GreaterOrEqual(t, d, base/2)
		assert.LessOrEqual(t, d, base+base/2)
	}
}

func TestFormat(t *testing.T) {
	sc := config.SequenceConfig{Prefix: "JV", Separator: "-", Padding: 5}
	assert.Equal(t, "JV-FY2025-00042", Format(sc, "FY2025", 42))
	assert.Equal(t, "JV-00042", Format(sc, "", 42))
	assert.Equal(t, "FY2025-00042", Format(config.SequenceConfig{Separator: "-", Padding: 5}, "FY2025", 42))
	assert.Equal(t, "JV-FY2025-123456", Format(sc, "FY2025", 123456))
}

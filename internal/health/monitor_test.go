package health

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/crm-reply-router/internal/providers"
	"github.com/tributary-ai/crm-reply-router/internal/types"
)

type probeFunc func(ctx context.Context) (*types.ProviderResponse, error)

func (f probeFunc) HealthCheck(ctx context.Context) (*types.ProviderResponse, error) {
	return f(ctx)
}

func ok() probeFunc {
	return func(ctx context.Context) (*types.ProviderResponse, error) {
		return &types.ProviderResponse{Success: true}, nil
	}
}

func newTestMonitor() *Monitor {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewMonitor(DefaultConfig(), logger)
}

func TestMonitor_RegisterInitializesHealthy(t *testing.T) {
	m := newTestMonitor()
	m.Register(types.ProviderPrimaryAI, ok())

	h, found := m.Status(types.ProviderPrimaryAI)
	require.True(t, found)
	assert.Equal(t, types.HealthHealthy, h.Status)
	assert.Zero(t, h.ResponseTime)
	assert.True(t, h.LastChecked.IsZero())
}

func TestMonitor_CheckAPIHealth_Transitions(t *testing.T) {
	tests := []struct {
		name      string
		prober    probeFunc
		wantState types.HealthState
		wantError string
	}{
		{
			name:      "success is healthy",
			prober:    ok(),
			wantState: types.HealthHealthy,
		},
		{
			name: "explicit failure is degraded",
			prober: func(ctx context.Context) (*types.ProviderResponse, error) {
				return &types.ProviderResponse{Success: false, Error: "quota low"}, nil
			},
			wantState: types.HealthDegraded,
			wantError: "quota low",
		},
		{
			name: "error is unhealthy",
			prober: func(ctx context.Context) (*types.ProviderResponse, error) {
				return nil, errors.New("dial tcp: connection refused")
			},
			wantState: types.HealthUnhealthy,
			wantError: "dial tcp: connection refused",
		},
		{
			name: "panic is unhealthy",
			prober: func(ctx context.Context) (*types.ProviderResponse, error) {
				panic("bad client")
			},
			wantState: types.HealthUnhealthy,
			wantError: "health probe panicked: bad client",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMonitor()
			m.Register(types.ProviderSecondaryAI, tt.prober)

			before := time.Now()
			h, err := m.CheckAPIHealth(context.Background(), types.ProviderSecondaryAI)
			require.NoError(t, err)

			assert.Equal(t, tt.wantState, h.Status)
			assert.Equal(t, tt.wantError, h.ErrorMessage)
			assert.False(t, h.LastChecked.Before(before))

			stored, _ := m.Status(types.ProviderSecondaryAI)
			assert.Equal(t, h, stored)
		})
	}
}

func TestMonitor_CheckAPIHealth_Unknown(t *testing.T) {
	m := newTestMonitor()

	_, err := m.CheckAPIHealth(context.Background(), types.ProviderPrimaryAI)
	assert.True(t, errors.Is(err, providers.ErrUnknownProvider))
}

func TestMonitor_CheckAPIHealth_ProbeTimeout(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	m := NewMonitor(Config{ProbeTimeout: 20 * time.Millisecond}, logger)
	m.Register(types.ProviderPrimaryAI, probeFunc(func(ctx context.Context) (*types.ProviderResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	h, err := m.CheckAPIHealth(context.Background(), types.ProviderPrimaryAI)
	require.NoError(t, err)
	assert.Equal(t, types.HealthUnhealthy, h.Status)
	assert.Contains(t, h.ErrorMessage, "deadline exceeded")
}

func TestMonitor_CheckAllAPIs_Concurrent(t *testing.T) {
	m := newTestMonitor()

	// Every probe waits until all three have started, so a sequential
	// implementation would never finish.
	var started sync.WaitGroup
	started.Add(3)
	barrier := func(resp *types.ProviderResponse, err error) probeFunc {
		return func(ctx context.Context) (*types.ProviderResponse, error) {
			started.Done()
			started.Wait()
			return resp, err
		}
	}

	m.Register(types.ProviderPrimaryAI, barrier(&types.ProviderResponse{Success: true}, nil))
	m.Register(types.ProviderSecondaryAI, barrier(nil, errors.New("503")))
	m.Register(types.ProviderTemplate, barrier(&types.ProviderResponse{Success: false}, nil))

	done := make(chan map[types.ProviderID]types.ProviderHealth, 1)
	go func() { done <- m.CheckAllAPIs(context.Background()) }()

	select {
	case results := <-done:
		require.Len(t, results, 3)
		assert.Equal(t, types.HealthHealthy, results[types.ProviderPrimaryAI].Status)
		assert.Equal(t, types.HealthUnhealthy, results[types.ProviderSecondaryAI].Status)
		assert.Equal(t, types.HealthDegraded, results[types.ProviderTemplate].Status)
	case <-time.After(2 * time.Second):
		t.Fatal("probes did not run concurrently")
	}

	assert.Equal(t, []types.ProviderID{types.ProviderPrimaryAI}, m.HealthyProviders())
}

func TestMonitor_BestProvider(t *testing.T) {
	m := newTestMonitor()
	a, b, c := types.ProviderID("a"), types.ProviderID("b"), types.ProviderID("c")
	m.Register(a, ok())
	m.Register(b, ok())
	m.Register(c, ok())

	m.table[a] = types.ProviderHealth{Provider: a, Status: types.HealthHealthy, ResponseTime: 50 * time.Millisecond}
	m.table[b] = types.ProviderHealth{Provider: b, Status: types.HealthHealthy, ResponseTime: 120 * time.Millisecond}
	m.table[c] = types.ProviderHealth{Provider: c, Status: types.HealthUnhealthy, ResponseTime: 10 * time.Millisecond}

	assert.Equal(t, a, m.BestProvider())
	assert.Equal(t, []types.ProviderID{a, b}, m.HealthyProviders())

	m.table[a] = types.ProviderHealth{Provider: a, Status: types.HealthDegraded}
	m.table[b] = types.ProviderHealth{Provider: b, Status: types.HealthUnhealthy}
	assert.Equal(t, types.ProviderNone, m.BestProvider())
	assert.Empty(t, m.HealthyProviders())
}

func TestMonitor_BestProvider_TieBreak(t *testing.T) {
	m := newTestMonitor()
	m.Register(types.ProviderSecondaryAI, ok())
	m.Register(types.ProviderPrimaryAI, ok())

	assert.Equal(t, types.ProviderPrimaryAI, m.BestProvider())
}

func TestMonitor_IsAvailable(t *testing.T) {
	m := newTestMonitor()
	m.Register(types.ProviderPrimaryAI, ok())
	m.Register(types.ProviderSecondaryAI, ok())

	m.table[types.ProviderPrimaryAI] = types.ProviderHealth{Status: types.HealthDegraded}
	m.table[types.ProviderSecondaryAI] = types.ProviderHealth{Status: types.HealthUnhealthy}

	assert.True(t, m.IsAvailable(types.ProviderPrimaryAI))
	assert.False(t, m.IsAvailable(types.ProviderSecondaryAI))
	assert.True(t, m.IsAvailable(types.ProviderTemplate))
}

func TestMonitor_ReadsDoNotWaitForProbes(t *testing.T) {
	m := newTestMonitor()
	release := make(chan struct{})
	var calls int32
	m.Register(types.ProviderPrimaryAI, probeFunc(func(ctx context.Context) (*types.ProviderResponse, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return &types.ProviderResponse{Success: false}, nil
	}))

	go func() { _, _ = m.CheckAPIHealth(context.Background(), types.ProviderPrimaryAI) }()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, 5*time.Millisecond)

	// Probe is in flight; reads see the previous record
	h, _ := m.Status(types.ProviderPrimaryAI)
	assert.Equal(t, types.HealthHealthy, h.Status)
	assert.Equal(t, types.ProviderPrimaryAI, m.BestProvider())

	close(release)
	require.Eventually(t, func() bool {
		h, _ := m.Status(types.ProviderPrimaryAI)
		return h.Status == types.HealthDegraded
	}, time.Second, 5*time.Millisecond)
}

func TestMonitor_SnapshotIsCopy(t *testing.T) {
	m := newTestMonitor()
	m.Register(types.ProviderPrimaryAI, ok())

	snapshot := m.Snapshot()
	snapshot[types.ProviderPrimaryAI] = types.ProviderHealth{Status: types.HealthUnhealthy}

	h, _ := m.Status(types.ProviderPrimaryAI)
	assert.Equal(t, types.HealthHealthy, h.Status)
}

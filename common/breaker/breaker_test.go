package breaker

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/COS301-SE-2025/SAMFMS-sub004/common/faults"
	"github.com/COS301-SE-2025/SAMFMS-sub004/common/logger"
)

func newTestRegistry(opts Options) *Registry {
	return NewRegistry(opts, logger.NewNop(), nil)
}

func failWith(kind faults.Kind) func() (json.RawMessage, error) {
	return func() (json.RawMessage, error) {
		return nil, faults.New(kind, "boom")
	}
}

func succeed() (json.RawMessage, error) {
	return json.RawMessage(`{"ok":true}`), nil
}

func TestExecute_PassesThroughResult(t *testing.T) {
	r := newTestRegistry(Options{})

	data, err := r.Execute("management", succeed)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))

	_, err = r.Execute("management", failWith(faults.NotFound))
	require.Error(t, err)
	assert.Equal(t, faults.NotFound, faults.KindOf(err))
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	r := newTestRegistry(Options{FailureThreshold: 3, OpenTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		_, err := r.Execute("management", failWith(faults.Internal))
		require.Error(t, err)
		assert.Equal(t, faults.Internal, faults.KindOf(err), "failure %d passes through", i+1)
	}
	assert.Equal(t, gobreaker.StateOpen, r.For("management").State())

	// Open breaker sheds load without invoking the dispatch.
	invoked := false
	_, err := r.Execute("management", func() (json.RawMessage, error) {
		invoked = true
		return succeed()
	})
	require.Error(t, err)
	assert.Equal(t, faults.ServiceUnavailable, faults.KindOf(err))
	assert.False(t, invoked)
}

func TestClientFaultsDoNotTrip(t *testing.T) {
	r := newTestRegistry(Options{FailureThreshold: 2})

	for i := 0; i < 10; i++ {
		_, err := r.Execute("management", failWith(faults.NotFound))
		require.Error(t, err)
	}
	for i := 0; i < 10; i++ {
		_, err := r.Execute("management", failWith(faults.ValidationError))
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateClosed, r.For("management").State())
}

func TestBrokerLocalErrorsDoNotTrip(t *testing.T) {
	r := newTestRegistry(Options{FailureThreshold: 2})

	for i := 0; i < 5; i++ {
		_, err := r.Execute("management", failWith(faults.BrokerUnavailable))
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateClosed, r.For("management").State())
}

func TestHalfOpenProbeRecovers(t *testing.T) {
	r := newTestRegistry(Options{FailureThreshold: 2, OpenTimeout: 30 * time.Millisecond, HalfOpenMax: 1})

	_, _ = r.Execute("gps", failWith(faults.Timeout))
	_, _ = r.Execute("gps", failWith(faults.Timeout))
	require.Equal(t, gobreaker.StateOpen, r.For("gps").State())

	time.Sleep(50 * time.Millisecond)

	// One successful probe closes the breaker again.
	data, err := r.Execute("gps", succeed)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))
	assert.Equal(t, gobreaker.StateClosed, r.For("gps").State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	r := newTestRegistry(Options{FailureThreshold: 2, OpenTimeout: 30 * time.Millisecond, HalfOpenMax: 1})

	_, _ = r.Execute("gps", failWith(faults.Timeout))
	_, _ = r.Execute("gps", failWith(faults.Timeout))
	time.Sleep(50 * time.Millisecond)

	_, err := r.Execute("gps", failWith(faults.Timeout))
	require.Error(t, err)
	assert.Equal(t, gobreaker.StateOpen, r.For("gps").State())
}

func TestHalfOpenCapsConcurrentProbes(t *testing.T) {
	r := newTestRegistry(Options{FailureThreshold: 1, OpenTimeout: 30 * time.Millisecond, HalfOpenMax: 1})

	_, _ = r.Execute("trip_planning", failWith(faults.Internal))
	time.Sleep(50 * time.Millisecond)

	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = r.Execute("trip_planning", func() (json.RawMessage, error) {
			<-release
			return succeed()
		})
	}()

	time.Sleep(20 * time.Millisecond) // let the probe occupy the half-open slot

	_, err := r.Execute("trip_planning", succeed)
	require.Error(t, err)
	assert.Equal(t, faults.ServiceUnavailable, faults.KindOf(err))

	close(release)
	wg.Wait()
}

func TestBreakersAreIndependentPerService(t *testing.T) {
	r := newTestRegistry(Options{FailureThreshold: 1})

	_, _ = r.Execute("gps", failWith(faults.Internal))
	require.Equal(t, gobreaker.StateOpen, r.For("gps").State())

	data, err := r.Execute("management", succeed)
	require.NoError(t, err)
	assert.NotNil(t, data)
}

func TestSnapshots(t *testing.T) {
	r := newTestRegistry(Options{FailureThreshold: 1})

	_, _ = r.Execute("management", succeed)
	_, _ = r.Execute("gps", failWith(faults.Internal))

	snaps := r.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "gps", snaps[0].Service)
	assert.Equal(t, "open", snaps[0].State)
	assert.Equal(t, "management", snaps[1].Service)
	assert.Equal(t, "closed", snaps[1].State)
	assert.Equal(t, uint32(1), snaps[1].TotalSuccesses)
}

func TestStateChangeHookFires(t *testing.T) {
	var mu sync.Mutex
	transitions := map[string]gobreaker.State{}
	r := NewRegistry(Options{FailureThreshold: 1}, logger.NewNop(), func(service string, state gobreaker.State) {
		mu.Lock()
		defer mu.Unlock()
		transitions[service] = state
	})

	_, _ = r.Execute("gps", failWith(faults.Internal))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, gobreaker.StateOpen, transitions["gps"])
}

func TestStateValue(t *testing.T) {
	assert.Equal(t, float64(0), StateValue(gobreaker.StateClosed))
	assert.Equal(t, float64(1), StateValue(gobreaker.StateHalfOpen))
	assert.Equal(t, float64(2), StateValue(gobreaker.StateOpen))
}

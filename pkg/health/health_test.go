package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passing(context.Context) error { return nil }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

type status struct {
	Status string
	Checks map[string]string
}

func get(t *testing.T, handler http.HandlerFunc) (int, status) {
	t.Helper()

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var s status
	err := jx.DecodeBytes(w.Body.Bytes()).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "status":
			v, err := d.Str()
			s.Status = v
			return err
		case "checks":
			s.Checks = map[string]string{}
			return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				v, err := d.Str()
				s.Checks[string(key)] = v
				return err
			})
		default:
			return d.Skip()
		}
	})
	require.NoError(t, err, w.Body.String())
	return w.Code, s
}

// runN runs the i-th check n times.
func runN(h *Health, i, n int) {
	for range n {
		h.checks[i].run(context.Background())
	}
}

func TestLiveEndpoint(t *testing.T) {
	h := New()
	h.Add(Check{Name: "goroutines", Probe: Liveness, Func: passing})
	h.Add(Check{Name: "db", Probe: Readiness, Func: failing("down")})
	runN(h, 1, 3)

	code, s := get(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", s.Status, "readiness failures do not affect liveness")
}

func TestLiveEndpoint_FailureThreshold(t *testing.T) {
	h := New()
	h.Add(Check{Name: "leaks", Probe: Liveness, Func: failing("too many goroutines")})

	runN(h, 0, 2)
	code, _ := get(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code, "below threshold")

	runN(h, 0, 1)
	code, s := get(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", s.Status)
	assert.Equal(t, map[string]string{"leaks": "too many goroutines"}, s.Checks)
}

func TestReadyEndpoint(t *testing.T) {
	h := New()
	h.Add(Check{Name: "store", Probe: Readiness, Func: passing})

	code, s := get(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "service is not ready", s.Checks["_readiness"])
	assert.False(t, h.IsReady())

	h.SetReady(true)
	code, s = get(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", s.Status)
	assert.True(t, h.IsReady())

	h.SetReady(false)
	code, _ = get(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestReadyEndpoint_OneFailing(t *testing.T) {
	h := New()
	h.Add(Check{Name: "store", Probe: Readiness, Func: failing("connection refused")})
	h.Add(Check{Name: "keys", Probe: Readiness, Func: passing})
	h.SetReady(true)
	runN(h, 0, 3)
	runN(h, 1, 3)

	code, s := get(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, map[string]string{"store": "connection refused"}, s.Checks)
	assert.False(t, h.IsReady())
}

func TestCheckRecovers(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	h := New()
	h.Add(Check{
		Name:             "flaky",
		Probe:            Readiness,
		SuccessThreshold: 2,
		Func: func(context.Context) error {
			if fail.Load() {
				return errors.New("flaky")
			}
			return nil
		},
	})
	h.SetReady(true)

	runN(h, 0, 3)
	assert.False(t, h.IsReady())

	fail.Store(false)
	runN(h, 0, 1)
	assert.False(t, h.IsReady(), "needs two successes")
	runN(h, 0, 1)
	assert.True(t, h.IsReady())
}

func TestCheckTimeout(t *testing.T) {
	h := New()
	h.Add(Check{
		Name:             "slow",
		Probe:            Readiness,
		Timeout:          10 * time.Millisecond,
		FailureThreshold: 1,
		Func: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	h.SetReady(true)
	runN(h, 0, 1)

	_, s := get(t, h.ReadyEndpoint)
	assert.Equal(t, context.DeadlineExceeded.Error(), s.Checks["slow"])
}

func TestStartStop(t *testing.T) {
	var calls atomic.Int32
	h := New()
	h.Add(Check{Name: "count", Probe: Liveness, Func: func(context.Context) error {
		calls.Add(1)
		return nil
	}})

	h.Start(context.Background(), 5*time.Millisecond)
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	h.Stop()
	h.Stop()

	time.Sleep(20 * time.Millisecond)
	stopped := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load())
}

func TestConcurrentAccess(t *testing.T) {
	h := New()
	h.Add(Check{Name: "store", Probe: Readiness, Func: passing})
	h.SetReady(true)
	h.Start(context.Background(), time.Millisecond)
	defer h.Stop()

	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			for range 50 {
				h.ReadyEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/readyz", nil))
				h.IsReady()
			}
		})
	}
	wg.Wait()
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(100000)(context.Background()))
	assert.Error(t, GoroutineCountCheck(0)(context.Background()))
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestPingCheck(t *testing.T) {
	assert.NoError(t, PingCheck(pinger{})(context.Background()))

	err := PingCheck(pinger{err: errors.New("refused")})(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
}

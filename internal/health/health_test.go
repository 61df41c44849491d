package health

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/clambin/nuheat-monitor/internal/poller"
	"github.com/clambin/nuheat-monitor/internal/registry"
)

type fakePoller struct {
	ch        chan poller.Update
	refreshes atomic.Int32
}

func (f *fakePoller) Subscribe() chan poller.Update {
	return f.ch
}

func (f *fakePoller) Unsubscribe(_ chan poller.Update) {}

func (f *fakePoller) Refresh() {
	f.refreshes.Add(1)
}

func TestHealth(t *testing.T) {
	p := fakePoller{ch: make(chan poller.Update)}
	h := New(&p, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go func() { _ = h.Run(t.Context()) }()

	// no update yet: unhealthy, and a poll is requested
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, &http.Request{})
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Equal(t, int32(1), p.refreshes.Load())

	p.ch <- poller.Update{
		Devices: []registry.Device{{ID: "t1", Name: "Bathroom", Kind: registry.KindThermostat, Online: true}},
		Unit:    registry.UnitCelsius,
	}

	assert.Eventually(t, func() bool {
		resp = httptest.NewRecorder()
		h.ServeHTTP(resp, &http.Request{})
		return resp.Code == http.StatusOK
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "application/json", resp.Header().Get("Content-Type"))
	assert.Contains(t, resp.Body.String(), `"name": "Bathroom"`)
}

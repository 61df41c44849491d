package poller_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clambin/nuheat-monitor/internal/nuheat"
	"github.com/clambin/nuheat-monitor/internal/poller"
	"github.com/clambin/nuheat-monitor/internal/registry"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func centi(degrees float64) *nuheat.Temperature {
	t := nuheat.TemperatureFromDegrees(degrees)
	return &t
}

type fakeAPI struct {
	lock        sync.Mutex
	account     nuheat.Account
	thermostats []nuheat.Thermostat
	groups      []nuheat.Group
	listErr     error
	detailErr   map[string]error
}

func (f *fakeAPI) Account(_ context.Context) (nuheat.Account, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.account, f.listErr
}

func (f *fakeAPI) Thermostats(_ context.Context) ([]nuheat.Thermostat, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.thermostats, f.listErr
}

func (f *fakeAPI) Thermostat(_ context.Context, serialNumber string) (nuheat.Thermostat, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if err := f.detailErr[serialNumber]; err != nil {
		return nuheat.Thermostat{}, err
	}
	for _, t := range f.thermostats {
		if t.SerialNumber == serialNumber {
			return t, nil
		}
	}
	return nuheat.Thermostat{}, &nuheat.Error{Kind: nuheat.ErrNotFound}
}

func (f *fakeAPI) Groups(_ context.Context) ([]nuheat.Group, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.groups, f.listErr
}

func (f *fakeAPI) Group(_ context.Context, groupID string) (nuheat.Group, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if err := f.detailErr[groupID]; err != nil {
		return nuheat.Group{}, err
	}
	for _, g := range f.groups {
		if g.GroupID == groupID {
			return g, nil
		}
	}
	return nuheat.Group{}, &nuheat.Error{Kind: nuheat.ErrNotFound}
}

func (f *fakeAPI) set(update func(*fakeAPI)) {
	f.lock.Lock()
	defer f.lock.Unlock()
	update(f)
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		account: nuheat.Account{TemperatureScale: "Celsius"},
		thermostats: []nuheat.Thermostat{
			{SerialNumber: "t1", Name: "Bathroom", Online: true, Heating: true, CurrentTemperature: centi(21.5), SetPointTemp: centi(23), MinTemp: centi(5), MaxTemp: centi(40), ScheduleMode: nuheat.ScheduleModeAuto},
			{SerialNumber: "t2", Name: "Kitchen", Online: true, CurrentTemperature: centi(19), SetPointTemp: centi(20), ScheduleMode: nuheat.ScheduleModePermanentHold},
		},
		groups:    []nuheat.Group{{GroupID: "g1", GroupName: "Downstairs", AwayMode: false}},
		detailErr: make(map[string]error),
	}
}

type fakeNotifier struct {
	lock     sync.Mutex
	messages []string
}

func (f *fakeNotifier) Notify(msg string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.messages = append(f.messages, msg)
}

func (f *fakeNotifier) count() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return len(f.messages)
}

func TestNuHeatPoller_Run(t *testing.T) {
	api := newFakeAPI()
	p := poller.New(api, registry.New(), poller.Configuration{Interval: time.Minute}, nil, testLogger)

	ctx, cancel := context.WithCancel(t.Context())
	ch := p.Subscribe()
	errCh := make(chan error)
	go func() { errCh <- p.Run(ctx) }()

	// initial poll
	update := <-ch
	assert.Equal(t, registry.UnitCelsius, update.Unit)
	require.Len(t, update.Devices, 3)
	assert.Equal(t, "Bathroom", update.Devices[0].Name)
	assert.Equal(t, "Kitchen", update.Devices[1].Name)
	assert.Equal(t, "Downstairs", update.Devices[2].Name)
	assert.True(t, update.Devices[0].Heating)
	assert.Equal(t, 23.0, *update.Devices[0].TargetTemperature)
	assert.Equal(t, registry.ModePermanentHold, update.Devices[1].Mode)
	assert.Equal(t, registry.ModeAwayOff, update.Devices[2].Mode)

	// on-demand poll
	p.Refresh()
	update = <-ch
	require.Len(t, update.Devices, 3)

	p.Unsubscribe(ch)
	cancel()
	assert.NoError(t, <-errCh)
}

func TestNuHeatPoller_DeviceFailureIsolation(t *testing.T) {
	api := newFakeAPI()
	p := poller.New(api, registry.New(), poller.Configuration{Interval: time.Minute}, nil, testLogger)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	ch := p.Subscribe()
	go func() { _ = p.Run(ctx) }()

	update := <-ch
	kitchen, ok := update.Device("Kitchen")
	require.True(t, ok)
	firstSync := kitchen.LastSyncedAt

	// one device stops responding. the others keep syncing.
	api.set(func(f *fakeAPI) {
		f.detailErr["t2"] = &nuheat.Error{Kind: nuheat.ErrServerError, StatusCode: 500}
		f.thermostats[0].SetPointTemp = centi(25)
	})

	p.Refresh()
	update = <-ch
	require.Len(t, update.Devices, 3)

	bathroom, ok := update.Device("Bathroom")
	require.True(t, ok)
	assert.Equal(t, 25.0, *bathroom.TargetTemperature)

	// the failed device keeps its last known state, aging in place
	kitchen, ok = update.Device("Kitchen")
	require.True(t, ok)
	assert.Equal(t, 20.0, *kitchen.TargetTemperature)
	assert.Equal(t, firstSync, kitchen.LastSyncedAt)
	assert.True(t, kitchen.IsStale(time.Duration(0), time.Now()))
}

func TestNuHeatPoller_PendingResolution(t *testing.T) {
	api := newFakeAPI()
	reg := registry.New()
	p := poller.New(api, reg, poller.Configuration{Interval: time.Minute}, nil, testLogger)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	ch := p.Subscribe()
	go func() { _ = p.Run(ctx) }()
	<-ch

	target := 25.0
	mode := registry.ModeTemporaryHold
	require.True(t, reg.SetPending("t1", &target, &mode, time.Now()))

	// the API hasn't confirmed yet: the pending request survives the poll
	p.Refresh()
	update := <-ch
	bathroom, _ := update.Device("Bathroom")
	require.NotNil(t, bathroom.Pending)
	assert.Equal(t, 25.0, *bathroom.EffectiveTarget())
	assert.Equal(t, registry.ModeTemporaryHold, bathroom.EffectiveMode())

	// the API confirms: the pending request is resolved
	api.set(func(f *fakeAPI) {
		f.thermostats[0].SetPointTemp = centi(25)
		f.thermostats[0].ScheduleMode = nuheat.ScheduleModeTemporaryHold
	})
	p.Refresh()
	update = <-ch
	bathroom, _ = update.Device("Bathroom")
	assert.Nil(t, bathroom.Pending)
	assert.Equal(t, 25.0, *bathroom.EffectiveTarget())
}

func TestNuHeatPoller_Prune(t *testing.T) {
	api := newFakeAPI()
	p := poller.New(api, registry.New(), poller.Configuration{Interval: time.Minute}, nil, testLogger)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	ch := p.Subscribe()
	go func() { _ = p.Run(ctx) }()

	update := <-ch
	require.Len(t, update.Devices, 3)

	api.set(func(f *fakeAPI) { f.thermostats = f.thermostats[:1] })
	p.Refresh()
	update = <-ch
	require.Len(t, update.Devices, 2)
	_, ok := update.Device("Kitchen")
	assert.False(t, ok)
}

func TestNuHeatPoller_ReauthorizationNotice(t *testing.T) {
	api := newFakeAPI()
	var n fakeNotifier
	p := poller.New(api, registry.New(), poller.Configuration{Interval: time.Minute}, &n, testLogger)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	ch := p.Subscribe()
	go func() { _ = p.Run(ctx) }()
	<-ch

	api.set(func(f *fakeAPI) { f.listErr = &nuheat.AuthError{Kind: nuheat.ErrAuthInvalid} })

	// repeated failures produce a single notification
	p.Refresh()
	p.Refresh()
	p.Refresh()
	assert.Equal(t, 1, n.count())

	// a successful poll arms the notification again
	api.set(func(f *fakeAPI) { f.listErr = nil })
	p.Refresh()
	<-ch
	api.set(func(f *fakeAPI) { f.listErr = &nuheat.AuthError{Kind: nuheat.ErrAuthInvalid} })
	p.Refresh()
	p.Refresh()
	assert.Equal(t, 2, n.count())
}

func TestNuHeatPoller_ServerErrorStreak(t *testing.T) {
	api := newFakeAPI()
	api.listErr = &nuheat.Error{Kind: nuheat.ErrServerError, StatusCode: 500}
	var n fakeNotifier
	p := poller.New(api, registry.New(), poller.Configuration{Interval: time.Minute}, &n, testLogger)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() { _ = p.Run(ctx) }()

	// the initial poll plus two refreshes reach the threshold
	p.Refresh()
	p.Refresh()
	p.Refresh()
	assert.Eventually(t, func() bool { return n.count() == 1 }, time.Second, 10*time.Millisecond)

	// staying in the failed state doesn't repeat the notification
	p.Refresh()
	p.Refresh()
	assert.Equal(t, 1, n.count())
}

package simulator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/prudhvinik1/ussync/internal/models"
	"github.com/prudhvinik1/ussync/internal/services"
)

var ErrTaskNotRegistered = errors.New("background task not registered")

type DeviceOptions struct {
	Route []Waypoint
	// SpeedMetersPerSecond of the simulated walk; 0 stands still.
	SpeedMetersPerSecond float64
	// ReadingInterval is how often the hardware produces a raw reading.
	ReadingInterval time.Duration
	// Answers the device gives to permission prompts.
	Foreground services.PermissionStatus
	Background services.PermissionStatus
}

// Device simulates the host platform: a location facility walking a route
// plus a background task manager.
type Device struct {
	route    *Route
	interval time.Duration
	start    time.Time
	now      func() time.Time

	mu         sync.Mutex
	foreground services.PermissionStatus
	background services.PermissionStatus
	revoked    chan struct{}
	tasks      map[string]*backgroundTask
}

type backgroundTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewDevice(opts DeviceOptions) (*Device, error) {
	route, err := NewRoute(opts.Route, opts.SpeedMetersPerSecond)
	if err != nil {
		return nil, err
	}
	if opts.ReadingInterval <= 0 {
		opts.ReadingInterval = time.Second
	}
	if opts.Foreground == "" {
		opts.Foreground = services.PermissionGranted
	}
	if opts.Background == "" {
		opts.Background = services.PermissionGranted
	}
	return &Device{
		route:      route,
		interval:   opts.ReadingInterval,
		start:      time.Now(),
		now:        time.Now,
		foreground: opts.Foreground,
		background: opts.Background,
		revoked:    make(chan struct{}),
		tasks:      map[string]*backgroundTask{},
	}, nil
}

func (d *Device) RequestForegroundPermission(ctx context.Context) (services.PermissionStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.foreground, nil
}

// Background access is only ever granted on top of foreground access.
func (d *Device) RequestBackgroundPermission(ctx context.Context) (services.PermissionStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.foreground != services.PermissionGranted {
		return services.PermissionDenied, nil
	}
	return d.background, nil
}

// Revoke withdraws location access: readings end, single reads fail and
// background tasks stop.
func (d *Device) Revoke() {
	d.mu.Lock()
	if d.foreground != services.PermissionGranted {
		d.mu.Unlock()
		return
	}
	d.foreground = services.PermissionDenied
	d.background = services.PermissionDenied
	close(d.revoked)
	tasks := d.tasks
	d.tasks = map[string]*backgroundTask{}
	d.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
		<-t.done
	}
	glog.Infof("[device]location permission revoked\n")
}

func (d *Device) fix() models.Fix {
	now := d.now()
	lat, lng := d.route.PositionAt(now.Sub(d.start))
	return models.Fix{Latitude: lat, Longitude: lng, Timestamp: now.UnixMilli()}
}

func (d *Device) granted() (bool, <-chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.foreground == services.PermissionGranted, d.revoked
}

func (d *Device) CurrentPosition(ctx context.Context) (models.Fix, error) {
	if err := ctx.Err(); err != nil {
		return models.Fix{}, err
	}
	if ok, _ := d.granted(); !ok {
		return models.Fix{}, services.ErrForegroundPermissionDenied
	}
	return d.fix(), nil
}

func (d *Device) Readings(ctx context.Context) (<-chan models.Fix, error) {
	ok, revoked := d.granted()
	if !ok {
		return nil, services.ErrForegroundPermissionDenied
	}

	out := make(chan models.Fix)
	go func() {
		defer close(out)
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-revoked:
				return
			case <-ticker.C:
				select {
				case out <- d.fix():
				case <-ctx.Done():
					return
				case <-revoked:
					return
				}
			}
		}
	}()
	return out, nil
}

func (d *Device) IsTaskRegistered(ctx context.Context, name string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.tasks[name]
	return ok, nil
}

// StartLocationUpdates registers a background task. It keeps running after the
// caller's context ends, like a platform task outliving the app session.
func (d *Device) StartLocationUpdates(ctx context.Context, name string, opts services.BackgroundOptions, handler services.BackgroundHandler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.foreground != services.PermissionGranted || d.background != services.PermissionGranted {
		return services.ErrBackgroundPermissionDenied
	}
	if _, ok := d.tasks[name]; ok {
		return nil
	}

	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	task := &backgroundTask{cancel: cancel, done: make(chan struct{})}
	d.tasks[name] = task
	go d.runTask(taskCtx, name, opts, handler, task.done)
	return nil
}

func (d *Device) StopLocationUpdates(ctx context.Context, name string) error {
	d.mu.Lock()
	task, ok := d.tasks[name]
	delete(d.tasks, name)
	d.mu.Unlock()
	if !ok {
		return ErrTaskNotRegistered
	}
	task.cancel()
	<-task.done
	return nil
}

// Shutdown stops every background task.
func (d *Device) Shutdown() {
	d.mu.Lock()
	tasks := d.tasks
	d.tasks = map[string]*backgroundTask{}
	d.mu.Unlock()
	for _, t := range tasks {
		t.cancel()
		<-t.done
	}
}

// runTask gates raw readings with the background cadence and hands them to
// handler in batches once per deferred interval.
func (d *Device) runTask(ctx context.Context, name string, opts services.BackgroundOptions, handler services.BackgroundHandler, done chan struct{}) {
	defer close(done)

	gate := services.NewCadenceGate(services.CadencePolicy{DistanceMeters: opts.DistanceMeters, Interval: opts.Interval})
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	var batch []models.Fix
	lastFlush := d.now()
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := handler(ctx, batch); err != nil && ctx.Err() == nil {
			glog.Warningf("[device]task %s handler error = %s\n", name, err)
		}
		batch = nil
		lastFlush = d.now()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := d.now()
			reading := d.fix()
			if gate.ShouldEmit(reading, now) {
				batch = append(batch, gate.Emitted(reading, now))
			}
			if opts.DeferredInterval <= 0 || now.Sub(lastFlush) >= opts.DeferredInterval {
				flush()
			}
		}
	}
}

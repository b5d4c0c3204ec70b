// Package session owns the signed-in state of the dashboard: it decides the
// initial screen, runs logins and logouts, polls the server for the exposure
// report and series, and publishes consistent snapshots to observers.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	hclog "github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/fireshield/fsclient/internal/apiclient"
	"github.com/fireshield/fsclient/internal/db"
	"github.com/fireshield/fsclient/internal/logging"
	"github.com/fireshield/fsclient/internal/model"
)

type State string

const (
	StateOnboarding      State = "onboarding"
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticated   State = "authenticated"
)

const (
	DefaultPollInterval = 20 * time.Second
	DefaultWindowHours  = 24
)

var (
	ErrNotAuthenticated = errors.New("session is not authenticated")
	ErrClosed           = errors.New("session is closed")
	// ErrDiscarded is returned by Refresh when its result arrived after a
	// newer refresh was applied or after the session signed out.
	ErrDiscarded = errors.New("refresh result discarded")
)

// API is the part of the server client the controller drives.
type API interface {
	Login(ctx context.Context, email, password string) (model.AuthResult, error)
	FetchReport(ctx context.Context, windowHours int) (model.Report, error)
	FetchSeries(ctx context.Context, windowHours int, bucket model.Bucket) ([]model.TimePoint, error)
	Logout(ctx context.Context) error
	HasCredential(ctx context.Context) bool
}

// Cache keeps the last good report and series across restarts.
type Cache interface {
	SaveSnapshot(ctx context.Context, snap db.Snapshot) error
	LoadSnapshot(ctx context.Context, key string) (db.Snapshot, error)
	DeleteSnapshot(ctx context.Context, key string) error
}

// Snapshot is a consistent copy of the session state. Report and Series
// always come from the same refresh.
type Snapshot struct {
	State           State
	IsAuthenticated bool
	LastError       string
	Report          *model.Report
	Series          []model.TimePoint
	Severity        model.Severity
	IsCritical      bool
	Polling         bool
	UpdatedAt       time.Time
	Stale           bool
	Link            LinkHealth
	WindowHours     int
}

type Option func(*Controller)

func WithClock(c clock.Clock) Option {
	return func(ctl *Controller) {
		if c != nil {
			ctl.clock = c
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(ctl *Controller) {
		if d > 0 {
			ctl.pollInterval = d
		}
	}
}

func WithWindowHours(hours int) Option {
	return func(ctl *Controller) {
		if hours > 0 {
			ctl.windowHours = hours
		}
	}
}

func WithBucket(b model.Bucket) Option {
	return func(ctl *Controller) {
		ctl.bucket = model.NormalizeBucket(string(b))
	}
}

// WithOnboardingComplete controls whether a signed-out start shows onboarding.
func WithOnboardingComplete(done bool) Option {
	return func(ctl *Controller) {
		ctl.onboardingComplete = done
	}
}

func WithHealthPolicy(p HealthPolicy) Option {
	return func(ctl *Controller) {
		ctl.healthPolicy = p
	}
}

func WithCache(cache Cache) Option {
	return func(ctl *Controller) {
		ctl.cache = cache
	}
}

func WithLogger(l hclog.Logger) Option {
	return func(ctl *Controller) {
		ctl.logger = logging.OrNull(l).Named("session")
	}
}

type poller struct {
	ticker *clock.Ticker
	cancel context.CancelFunc
	done   chan struct{}
}

type Controller struct {
	api                API
	clock              clock.Clock
	cache              Cache
	logger             hclog.Logger
	pollInterval       time.Duration
	windowHours        int
	bucket             model.Bucket
	onboardingComplete bool
	healthPolicy       HealthPolicy

	inFlight atomic.Int32

	// cacheMu orders cache writes against the delete done on sign-out.
	// Taken before mu, never while holding it.
	cacheMu sync.Mutex

	mu        sync.Mutex
	state     State
	report    *model.Report
	series    []model.TimePoint
	lastError string
	updatedAt time.Time
	stale     bool
	health    HealthState
	issued    uint64
	applied   uint64
	authGen   uint64
	poll      *poller
	closed    bool
	subs      map[int]chan Snapshot
	nextSub   int
}

func New(api API, opts ...Option) *Controller {
	c := &Controller{
		api:                api,
		clock:              clock.New(),
		logger:             hclog.NewNullLogger(),
		pollInterval:       DefaultPollInterval,
		windowHours:        DefaultWindowHours,
		bucket:             model.BucketHour,
		onboardingComplete: true,
		healthPolicy:       DefaultHealthPolicy(),
		state:              StateUnauthenticated,
		subs:               map[int]chan Snapshot{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.health = HealthState{Current: LinkOK, LastTransitionAt: c.clock.Now()}
	return c
}

// Init picks the starting state from the persisted credential and, when
// signed in, warms the dashboard from the cache. Cached data stays Stale
// until the first successful refresh.
func (c *Controller) Init(ctx context.Context) {
	authenticated := c.api.HasCredential(ctx)

	var cached *db.Snapshot
	if authenticated && c.cache != nil {
		snap, err := c.cache.LoadSnapshot(ctx, db.DefaultSnapshotKey)
		switch {
		case err == nil:
			cached = &snap
		case !errors.Is(err, db.ErrNotFound):
			c.logger.Warn("load cached snapshot failed", "error", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	switch {
	case authenticated:
		c.state = StateAuthenticated
	case !c.onboardingComplete:
		c.state = StateOnboarding
	default:
		c.state = StateUnauthenticated
	}
	if cached != nil && c.report == nil {
		report := cached.Report.Clone()
		c.report = &report
		c.series = model.CloneSeries(cached.Series)
		c.updatedAt = cached.FetchedAt
		c.stale = true
	}
	c.logger.Debug("session initialised", "state", c.state, "cached", cached != nil)
	c.notifyLocked()
}

// CompleteOnboarding moves past the onboarding screens. It is a no-op in
// any other state.
func (c *Controller) CompleteOnboarding(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onboardingComplete = true
	if c.state != StateOnboarding {
		return
	}
	c.state = StateUnauthenticated
	c.notifyLocked()
}

// Login signs in, runs one refresh before returning and then starts polling.
// A failed refresh shows up in LastError and only fails the login when the
// fresh credential is rejected.
func (c *Controller) Login(ctx context.Context, email, password string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	res, err := c.api.Login(ctx, email, password)
	if err != nil {
		c.mu.Lock()
		c.lastError = DescribeLogin(err)
		c.notifyLocked()
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.authGen++
	c.state = StateAuthenticated
	c.onboardingComplete = true
	c.lastError = ""
	c.health = HealthState{Current: LinkOK, LastTransitionAt: c.clock.Now()}
	c.notifyLocked()
	c.mu.Unlock()
	c.logger.Info("signed in", "user_id", res.UserID)

	if err := c.Refresh(ctx, c.windowHours); err != nil {
		if unauthorized(err) {
			return err
		}
		if !errors.Is(err, ErrDiscarded) {
			c.logger.Warn("initial refresh failed", "error", err)
		}
	}
	c.StartPolling(context.Background())
	return nil
}

// Logout signs out, stops polling and forgets all fetched data. Results of
// refreshes still in flight are discarded.
func (c *Controller) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.signOutLocked("")
	p := c.takePollerLocked()
	c.notifyLocked()
	c.mu.Unlock()

	p.stopAndWait()
	return c.forget(ctx)
}

func (c *Controller) forget(ctx context.Context) error {
	var errs []error
	if err := c.api.Logout(ctx); err != nil {
		errs = append(errs, err)
	}
	if c.cache != nil {
		c.cacheMu.Lock()
		if err := c.cache.DeleteSnapshot(ctx, db.DefaultSnapshotKey); err != nil {
			errs = append(errs, err)
		}
		c.cacheMu.Unlock()
	}
	return errors.Join(errs...)
}

func (c *Controller) signOutLocked(reason string) {
	c.authGen++
	c.state = StateUnauthenticated
	c.report = nil
	c.series = nil
	c.stale = false
	c.updatedAt = time.Time{}
	c.lastError = reason
	c.health = HealthState{Current: LinkOK, LastTransitionAt: c.clock.Now()}
}

// Refresh fetches the report and series for windowHours concurrently and
// applies them together. Unauthorized signs the session out; any other
// failure keeps the previous data and records LastError.
func (c *Controller) Refresh(ctx context.Context, windowHours int) error {
	if windowHours <= 0 {
		windowHours = c.windowHours
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateAuthenticated {
		c.mu.Unlock()
		return ErrNotAuthenticated
	}
	c.issued++
	seq, gen := c.issued, c.authGen
	c.mu.Unlock()

	c.inFlight.Add(1)
	defer c.inFlight.Add(-1)

	var (
		report model.Report
		series []model.TimePoint
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := c.api.FetchReport(gctx, windowHours)
		if err != nil {
			return err
		}
		report = r
		return nil
	})
	g.Go(func() error {
		s, err := c.api.FetchSeries(gctx, windowHours, c.bucket)
		if err != nil {
			return err
		}
		series = s
		return nil
	})
	err := g.Wait()
	if err != nil && ctx.Err() == nil && unauthorized(err) {
		return c.expire(ctx, gen, err)
	}

	c.mu.Lock()
	if c.closed || gen != c.authGen || seq <= c.applied {
		c.mu.Unlock()
		c.logger.Debug("discarding refresh result", "seq", seq)
		return ErrDiscarded
	}
	if err != nil && ctx.Err() != nil {
		// torn down mid-flight; nothing to report
		c.mu.Unlock()
		return err
	}
	c.applied = seq
	now := c.clock.Now()
	if err != nil {
		c.lastError = Describe(err)
		c.health = NextHealth(c.healthPolicy, c.health, false, now)
		c.notifyLocked()
		c.mu.Unlock()
		c.logger.Warn("refresh failed; keeping last data", "window_hours", windowHours, "error", err)
		return err
	}
	c.report = &report
	c.series = series
	c.lastError = ""
	c.updatedAt = now
	c.stale = false
	c.health = NextHealth(c.healthPolicy, c.health, true, now)
	c.notifyLocked()
	c.mu.Unlock()

	if c.cache != nil {
		c.saveSnapshot(ctx, seq, gen, db.Snapshot{
			Key:         db.DefaultSnapshotKey,
			WindowHours: windowHours,
			Report:      report.Clone(),
			Series:      model.CloneSeries(series),
			FetchedAt:   now,
		})
	}
	return nil
}

// saveSnapshot persists the result of refresh seq unless the session signed
// out, closed, or applied a newer refresh in the meantime.
func (c *Controller) saveSnapshot(ctx context.Context, seq, gen uint64, snap db.Snapshot) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	c.mu.Lock()
	current := !c.closed && gen == c.authGen && seq == c.applied
	c.mu.Unlock()
	if !current {
		c.logger.Debug("skipping cache write for superseded refresh", "seq", seq)
		return
	}
	if err := c.cache.SaveSnapshot(ctx, snap); err != nil {
		c.logger.Warn("cache snapshot failed", "error", err)
	}
}

func unauthorized(err error) bool {
	return errors.Is(err, apiclient.ErrUnauthorized) || errors.Is(err, apiclient.ErrUnauthenticated)
}

// expire handles a rejected credential. It may run on the poll goroutine, so
// it cancels polling without waiting for it.
func (c *Controller) expire(ctx context.Context, gen uint64, cause error) error {
	c.mu.Lock()
	if c.closed || gen != c.authGen {
		c.mu.Unlock()
		return ErrDiscarded
	}
	c.signOutLocked(Describe(cause))
	p := c.takePollerLocked()
	c.notifyLocked()
	c.mu.Unlock()

	p.stop()
	c.logger.Info("credential rejected; signed out", "error", cause)
	if err := c.forget(context.WithoutCancel(ctx)); err != nil {
		c.logger.Warn("clear credential after rejection failed", "error", err)
	}
	return cause
}

// StartPolling refreshes every poll interval until StopPolling, Logout,
// Close, a rejected credential or ctx ends it. It is a no-op when signed
// out or already polling.
func (c *Controller) StartPolling(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state != StateAuthenticated || c.poll != nil {
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p := &poller{
		ticker: c.clock.Ticker(c.pollInterval),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.poll = p
	go c.pollLoop(pollCtx, p)
	c.logger.Debug("polling started", "interval", c.pollInterval)
	c.notifyLocked()
}

func (c *Controller) pollLoop(ctx context.Context, p *poller) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			if c.poll == p {
				c.poll = nil
				p.ticker.Stop()
				c.notifyLocked()
			}
			c.mu.Unlock()
			return
		case <-p.ticker.C:
			if ctx.Err() != nil {
				continue
			}
			if c.inFlight.Load() > 0 {
				c.logger.Trace("skipping tick; refresh in flight")
				continue
			}
			_ = c.Refresh(ctx, c.windowHours)
		}
	}
}

// StopPolling cancels the timer and waits for the poll goroutine, so no
// refresh starts after it returns.
func (c *Controller) StopPolling() {
	c.mu.Lock()
	p := c.takePollerLocked()
	if p != nil {
		c.notifyLocked()
	}
	c.mu.Unlock()
	p.stopAndWait()
}

func (c *Controller) takePollerLocked() *poller {
	p := c.poll
	c.poll = nil
	return p
}

func (p *poller) stop() {
	if p == nil {
		return
	}
	p.ticker.Stop()
	p.cancel()
}

func (p *poller) stopAndWait() {
	if p == nil {
		return
	}
	p.stop()
	<-p.done
}

// Close stops polling, discards in-flight results and closes subscriber
// channels. The controller cannot be reused.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.authGen++
	p := c.takePollerLocked()
	subs := c.subs
	c.subs = map[int]chan Snapshot{}
	c.mu.Unlock()

	p.stopAndWait()
	for _, ch := range subs {
		close(ch)
	}
	return nil
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:           c.state,
		IsAuthenticated: c.state == StateAuthenticated,
		LastError:       c.lastError,
		Severity:        model.SeveritySafe,
		Polling:         c.poll != nil,
		UpdatedAt:       c.updatedAt,
		Stale:           c.stale,
		Link:            c.health.Current,
		WindowHours:     c.windowHours,
	}
	if c.report != nil {
		report := c.report.Clone()
		snap.Report = &report
		snap.Severity = report.Severity()
		snap.IsCritical = report.IsCritical()
	}
	if c.series != nil {
		snap.Series = model.CloneSeries(c.series)
	}
	return snap
}

// Subscribe returns a channel that receives a snapshot after every state
// change. A slow reader loses the oldest pending snapshot, never the newest.
// The returned func unsubscribes and closes the channel.
func (c *Controller) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			_, ok := c.subs[id]
			delete(c.subs, id)
			c.mu.Unlock()
			if ok {
				close(ch)
			}
		})
	}
}

func (c *Controller) notifyLocked() {
	if len(c.subs) == 0 {
		return
	}
	snap := c.snapshotLocked()
	for _, ch := range c.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"booking/internal/config"
	"booking/internal/domain"
	"booking/internal/observability"
	"booking/internal/repository"
)

// BookingFeed delivers booking snapshots whenever the stored booking changes.
// Snapshots may be redelivered unchanged.
type BookingFeed interface {
	Subscribe(ctx context.Context, bookingID string, deliver func(*domain.Booking)) (unsubscribe func(), err error)
}

// SessionSettings groups the tunables a session needs.
type SessionSettings struct {
	Tracking config.TrackingConfig
	Timer    config.TimerConfig
}

// SessionDeps are the collaborators of a session.
type SessionDeps struct {
	Bookings      repository.BookingRepository
	BookingFeed   BookingFeed
	LocationFeed  LocationFeed
	Locations     LocationReader
	Pricing       *PricingService
	Geocoder      Geocoder
	Notifications *NotificationService
	Sink          EventSink
	Settings      SessionSettings
	Now           func() time.Time
	Logger        *slog.Logger
}

// SessionState is a point-in-time view of a session.
type SessionState struct {
	ID             string
	BookingID      string
	DeviceID       string
	Status         domain.BookingStatus
	Address        string
	Tracking       bool
	Locating       bool
	Distance       *domain.DistanceEstimate
	TimerRunning   bool
	TimerText      string
	ElapsedSeconds int64
	Coordinator    CoordinatorState
	OpenResources  int
}

type pricingResult struct {
	breakdown domain.PricingBreakdown
	fellBack  bool
}

type ratingReply struct {
	breakdown domain.PricingBreakdown
	err       error
}

// Session follows one booking for one client device. All component state is
// owned by a single goroutine; snapshots, samples, timers and commands are
// applied in the order that goroutine receives them.
type Session struct {
	id        string
	bookingID string
	deviceID  string
	deps      SessionDeps
	log       *slog.Logger
	now       func() time.Time

	events *Broadcaster
	sink   EventSink

	ctx       context.Context
	cancel    context.CancelFunc
	loopDone  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	snapshots      chan *domain.Booking
	samples        chan domain.WorkerLocationSample
	commands       chan func(context.Context)
	pricingResults chan pricingResult
	addresses      chan string

	// Owned by the loop goroutine.
	booking            *domain.Booking
	machine            *StateMachine
	tracker            *Tracker
	timer              *JobTimer
	coord              *Coordinator
	unsubscribeBooking func()
	tick               *time.Ticker
	poll               *time.Ticker
	retry              *time.Ticker
	watchdog           *time.Ticker
	dayCheck           *time.Ticker
	pricingInFlight    bool
	ratingWaiters      []chan ratingReply
	address            string
	locating           bool

	resources  atomic.Int32
	finishedAt atomic.Int64
	lastActive atomic.Int64
}

// OpenSession subscribes to the booking's change feed, loads the current
// booking and starts the session loop. On any error nothing stays subscribed.
func OpenSession(ctx context.Context, deps SessionDeps, bookingID, deviceID string) (*Session, error) {
	if bookingID == "" {
		return nil, ErrInvalidBookingID
	}
	if deviceID == "" {
		return nil, ErrInvalidDeviceID
	}

	s := newSession(ctx, deps, bookingID, deviceID)

	unsubscribe, err := deps.BookingFeed.Subscribe(s.ctx, bookingID, s.offerSnapshot)
	if err != nil {
		s.cancel()
		return nil, err
	}
	s.unsubscribeBooking = unsubscribe
	observability.OpenSubscriptions.Inc()

	initial, err := deps.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		s.releaseBooking()
		s.cancel()
		return nil, err
	}
	s.resources.Store(1)
	observability.ActiveSessions.Inc()
	go s.run(initial)

	s.log.Info("session opened")
	return s, nil
}

func newSession(ctx context.Context, deps SessionDeps, bookingID, deviceID string) *Session {
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	id := uuid.New().String()
	log := deps.Logger.With("session_id", id, "booking_id", bookingID, "device_id", deviceID)
	events := NewBroadcaster()
	sink := multiSink{events, deps.Sink}

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s := &Session{
		id:             id,
		bookingID:      bookingID,
		deviceID:       deviceID,
		deps:           deps,
		log:            log,
		now:            now,
		events:         events,
		sink:           sink,
		ctx:            sessionCtx,
		cancel:         cancel,
		loopDone:       make(chan struct{}),
		snapshots:      make(chan *domain.Booking, 32),
		samples:        make(chan domain.WorkerLocationSample, 1),
		commands:       make(chan func(context.Context)),
		pricingResults: make(chan pricingResult, 1),
		addresses:      make(chan string, 1),
		machine:        NewStateMachine(log.With("component", "state_machine")),
		tracker:        NewTracker(deps.LocationFeed, deps.Locations, deps.Settings.Tracking.AvgSpeedKmh, log.With("component", "tracker")),
		timer:          NewJobTimer(deps.Settings.Timer, now),
		coord:          NewCoordinator(sink, now),
	}
	s.touch()
	return s
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// BookingID returns the booking this session follows.
func (s *Session) BookingID() string { return s.bookingID }

// DeviceID returns the client device this session serves.
func (s *Session) DeviceID() string { return s.deviceID }

// Events registers an event listener. The channel closes when the session closes.
func (s *Session) Events(buffer int) (<-chan Event, func()) {
	s.touch()
	ch, cancel := s.events.Listen(buffer)
	return ch, func() {
		cancel()
		s.touch()
	}
}

// Listeners returns the number of registered event listeners.
func (s *Session) Listeners() int {
	return s.events.Len()
}

// FinishedAt reports when the booking reached a terminal status.
func (s *Session) FinishedAt() (time.Time, bool) {
	n := s.finishedAt.Load()
	if n == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, n), true
}

// IdleSince returns the time of the last client call or listener change.
func (s *Session) IdleSince() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) touch() {
	s.lastActive.Store(s.now().UnixNano())
}

// OpenResources returns the number of subscriptions and timers the session holds.
func (s *Session) OpenResources() int {
	return int(s.resources.Load())
}

// Done is closed once the session loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.loopDone
}

// Close tears the session down and waits for it to release everything. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.loopDone
		s.wg.Wait()
		observability.ActiveSessions.Dec()
		s.log.Info("session closed")
	})
}

// State returns the current session state.
func (s *Session) State(ctx context.Context) (SessionState, error) {
	reply := make(chan SessionState, 1)
	if err := s.do(ctx, func(context.Context) { reply <- s.snapshotState() }); err != nil {
		return SessionState{}, err
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return SessionState{}, ctx.Err()
	}
}

// SubmitRating stores the client's rating and returns the payment breakdown.
func (s *Session) SubmitRating(ctx context.Context, value int, comment string) (domain.PricingBreakdown, error) {
	if err := ValidateRating(value); err != nil {
		return domain.PricingBreakdown{}, err
	}

	reply := make(chan ratingReply, 1)
	err := s.do(ctx, func(ctx context.Context) {
		if s.booking == nil {
			reply <- ratingReply{err: ErrRatingNotAvailable}
			return
		}
		if err := s.coord.CanSubmitRating(s.machine.Current()); err != nil {
			reply <- ratingReply{err: err}
			return
		}

		rating := domain.Rating{Value: value, Comment: comment, SubmittedAt: s.now()}
		if err := s.deps.Bookings.SaveClientRating(ctx, s.bookingID, rating); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				s.coord.RatingSubmitted()
				err = ErrRatingAlreadySubmitted
			}
			reply <- ratingReply{err: err}
			return
		}

		s.booking.ClientRating = &rating
		s.coord.RatingSubmitted()
		s.log.Info("rating submitted", "value", value)
		s.resolveBreakdown(reply)
	})
	if err != nil {
		return domain.PricingBreakdown{}, err
	}

	select {
	case r := <-reply:
		return r.breakdown, r.err
	case <-ctx.Done():
		return domain.PricingBreakdown{}, ctx.Err()
	}
}

// Cancel asks the store to cancel the booking. The session itself reacts only
// once the cancellation comes back through the booking feed.
func (s *Session) Cancel(ctx context.Context, reason string) error {
	reply := make(chan error, 1)
	err := s.do(ctx, func(ctx context.Context) {
		if s.machine.Current().IsTerminal() {
			reply <- ErrBookingTerminal
			return
		}
		err := s.deps.Bookings.Cancel(ctx, s.bookingID, reason, s.now())
		if errors.Is(err, repository.ErrConflict) {
			err = ErrBookingTerminal
		}
		reply <- err
	})
	if err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) do(ctx context.Context, fn func(context.Context)) error {
	s.touch()
	select {
	case s.commands <- fn:
		return nil
	case <-s.loopDone:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// offerSnapshot never blocks the feed. When the buffer is full the oldest
// pending snapshot is dropped; every snapshot carries the whole booking.
func (s *Session) offerSnapshot(b *domain.Booking) {
	if b == nil {
		return
	}
	for {
		select {
		case s.snapshots <- b:
			return
		case <-s.ctx.Done():
			return
		default:
		}
		select {
		case <-s.snapshots:
			observability.DroppedSnapshotsTotal.Inc()
		default:
		}
	}
}

// offerSample keeps only the most recent undelivered sample.
func (s *Session) offerSample(sample domain.WorkerLocationSample) {
	for {
		select {
		case s.samples <- sample:
			return
		case <-s.ctx.Done():
			return
		default:
		}
		select {
		case <-s.samples:
		default:
		}
	}
}

// run applies the initial snapshot before serving anything else so the first
// state query already reflects the stored booking.
func (s *Session) run(initial *domain.Booking) {
	defer close(s.loopDone)
	defer s.release()

	s.handleSnapshot(initial)
	s.resources.Store(int32(s.countResources()))

	for {
		select {
		case <-s.ctx.Done():
			return
		case b := <-s.snapshots:
			s.handleSnapshot(b)
		case sample := <-s.samples:
			est, err := s.tracker.OnSample(sample)
			s.showEstimate(est, err)
		case cmd := <-s.commands:
			cmd(s.ctx)
		case r := <-s.pricingResults:
			s.handlePricing(r)
		case addr := <-s.addresses:
			s.address = addr
			s.emit(Event{Type: EventAddress, Message: addr})
		case <-tickerC(s.tick):
			s.timer.Tick()
			s.emitTimer()
		case <-tickerC(s.poll):
			s.pollLocation()
		case <-tickerC(s.retry):
			s.retryTimerStart()
		case <-tickerC(s.watchdog):
			s.watchTimer()
		case <-tickerC(s.dayCheck):
			s.reconcileTracking()
		}
		s.resources.Store(int32(s.countResources()))
	}
}

func (s *Session) handleSnapshot(b *domain.Booking) {
	incoming := *b
	tr, err := s.machine.Apply(incoming.Status)
	if err != nil {
		return
	}

	first := s.booking == nil
	if !first && incoming.Location.Point != s.booking.Location.Point {
		s.tracker.SetClientLocation(incoming.Location.Point)
	}
	if !first && incoming.FinalPricing == nil {
		incoming.FinalPricing = s.booking.FinalPricing
	}
	s.booking = &incoming
	if first {
		s.resolveAddress()
	}

	if s.timer.WaitingForStart() && s.timer.Observe(incoming.JobTimer) {
		s.timerStarted("snapshot")
	}

	if tr.Changed() {
		title, _ := StatusMessage(incoming.Status)
		s.emit(Event{Type: EventStatus, Status: incoming.Status, Message: title})
		if !first {
			s.notifyStatus()
		}

		for _, intent := range tr.Intents {
			s.applyIntent(intent)
		}

		if incoming.Status.IsTerminal() {
			s.enterTerminal()
			return
		}
	}

	s.reconcileTracking()
}

func (s *Session) applyIntent(intent Intent) {
	switch intent {
	case IntentStopTimer:
		s.stopTimer()
	case IntentStopTracking:
		s.stopTracking()
	case IntentStartTracking:
		s.startTracking()
	case IntentStartTimer:
		s.startTimer()
	case IntentPromptRating:
		if s.coord.PromptRating(s.booking) {
			s.resolveBreakdown(nil)
		}
	case IntentConfirmPayment:
		s.coord.ConfirmPayment(s.booking)
	case IntentCancel:
		s.coord.Cancel()
		s.failWaiters(ErrBookingTerminal)
		_, message := StatusMessage(domain.BookingStatusCancelled)
		s.emit(Event{Type: EventShowMessage, Message: message})
	}
}

func (s *Session) startTracking() {
	if !ShouldTrack(s.booking, s.now()) {
		s.log.Debug("tracking not started", "status", s.booking.Status, "scheduled_date", s.booking.ScheduledDate)
		return
	}

	activated, err := s.tracker.Activate(s.ctx, s.booking, s.offerSample)
	if err != nil {
		s.log.Warn("tracking activation failed", "worker_id", s.booking.WorkerID, "error", err)
		return
	}
	if !activated {
		return
	}

	s.poll = time.NewTicker(s.deps.Settings.Tracking.PollInterval)
	s.locating = true
	s.emit(Event{Type: EventTrackingActive})
	s.pollLocation()
}

// reconcileTracking re-evaluates the tracking rule against the current clock.
// It runs after every applied snapshot and on the day-check ticker, which
// only exists while the status is inside the tracking window.
func (s *Session) reconcileTracking() {
	if s.booking == nil || !InTrackingWindow(s.machine.Current()) {
		stopTicker(&s.dayCheck)
		return
	}
	if s.dayCheck == nil {
		s.dayCheck = time.NewTicker(s.dayCheckInterval())
	}

	want := ShouldTrack(s.booking, s.now())
	active := s.tracker.Active()
	switch {
	case want && active && s.tracker.WorkerID() != s.booking.WorkerID:
		s.log.Info("worker reassigned, restarting tracking", "worker_id", s.booking.WorkerID)
		s.stopTracking()
		s.startTracking()
	case want && !active:
		s.startTracking()
	case !want && active:
		s.log.Info("tracking rule no longer holds", "worker_id", s.booking.WorkerID, "scheduled_date", s.booking.ScheduledDate)
		s.stopTracking()
	}
}

func (s *Session) dayCheckInterval() time.Duration {
	if d := s.deps.Settings.Tracking.DayCheckInterval; d > 0 {
		return d
	}
	return time.Minute
}

func (s *Session) stopTracking() {
	stopTicker(&s.poll)
	if s.tracker.Deactivate() {
		s.locating = false
		s.emit(Event{Type: EventTrackingInactive})
	}
}

func (s *Session) pollLocation() {
	est, err := s.tracker.Poll(s.ctx)
	if err != nil && !errors.Is(err, ErrLocationUnavailable) {
		s.log.Warn("location poll failed", "error", err)
		return
	}
	s.showEstimate(est, err)
}

func (s *Session) showEstimate(est *domain.DistanceEstimate, err error) {
	if !s.tracker.Active() {
		return
	}
	if err != nil || est == nil {
		s.locating = true
		s.emit(Event{Type: EventDistance, Locating: true, Message: "locating"})
		return
	}
	s.locating = false
	e := *est
	s.emit(Event{Type: EventDistance, Distance: &e, Message: e.ETALabel})
}

func (s *Session) startTimer() {
	err := s.timer.Begin(s.booking.JobTimer)
	switch {
	case err == nil:
		if s.timer.Running() {
			s.startTick()
		}
	case errors.Is(err, ErrMissingStartTime):
		s.log.Info("job timer waiting for start time")
		if s.deps.Settings.Timer.RetryAttempts > 0 {
			s.retry = time.NewTicker(s.deps.Settings.Timer.RetryBackoff)
		}
		s.watchdog = time.NewTicker(s.deps.Settings.Timer.WatchdogInterval)
	}
}

func (s *Session) startTick() {
	if s.tick == nil {
		s.tick = time.NewTicker(s.deps.Settings.Timer.TickInterval)
	}
	s.emitTimer()
}

func (s *Session) timerStarted(path string) {
	stopTicker(&s.retry)
	stopTicker(&s.watchdog)
	observability.TimerRecoveriesTotal.WithLabelValues(path).Inc()
	s.log.Info("job timer started late", "path", path)
	s.startTick()
}

// latestJobTimer re-reads the timer fields from the store, falling back to the
// last snapshot when the store is unreachable.
func (s *Session) latestJobTimer() domain.JobTimer {
	b, err := s.deps.Bookings.GetByID(s.ctx, s.bookingID)
	if err != nil {
		s.log.Warn("job timer re-check failed", "error", err)
		return s.booking.JobTimer
	}
	if b.JobTimer.HasStart() && !s.booking.JobTimer.HasStart() {
		s.booking.JobTimer.StartedAt = b.JobTimer.StartedAt
	}
	return b.JobTimer
}

func (s *Session) retryTimerStart() {
	observability.TimerStartRetriesTotal.Inc()
	started, exhausted := s.timer.Retry(s.latestJobTimer())
	if started {
		s.timerStarted("retry")
		return
	}
	if exhausted {
		stopTicker(&s.retry)
	}
}

func (s *Session) watchTimer() {
	started, expired := s.timer.Watchdog(s.latestJobTimer(), s.machine.Current())
	if started {
		s.timerStarted("watchdog")
		return
	}
	if expired {
		stopTicker(&s.watchdog)
		if s.timer.WaitingForStart() {
			s.log.Warn("job timer never started")
		}
	}
}

func (s *Session) stopTimer() {
	stopTicker(&s.tick)
	stopTicker(&s.retry)
	stopTicker(&s.watchdog)

	secs, ok := s.timer.Stop(s.booking.JobTimer)
	if !ok {
		return
	}
	s.emitTimer()

	source := s.timer.Source()
	if s.booking.JobTimer.DurationSeconds > 0 || (source != DurationFromActual && source != DurationFromTimestamps) {
		return
	}
	if err := s.deps.Bookings.SaveJobDuration(s.ctx, s.bookingID, secs); err != nil && !errors.Is(err, repository.ErrConflict) {
		s.log.Warn("saving job duration failed", "seconds", secs, "error", err)
		return
	}
	s.booking.JobTimer.DurationSeconds = secs
}

func (s *Session) resolvedDuration() int64 {
	if s.timer.Stopped() {
		return s.timer.Elapsed()
	}
	return ResolveDuration(s.booking.JobTimer, s.deps.Settings.Timer.FallbackDuration)
}

// resolveBreakdown reuses a stored breakdown or computes one off the loop.
// reply, if set, is answered once the breakdown is known.
func (s *Session) resolveBreakdown(reply chan ratingReply) {
	if reply != nil {
		s.ratingWaiters = append(s.ratingWaiters, reply)
	}
	if s.booking.FinalPricing != nil {
		s.handlePricing(pricingResult{breakdown: *s.booking.FinalPricing})
		return
	}
	if s.pricingInFlight {
		return
	}
	s.pricingInFlight = true

	b := *s.booking
	duration := s.resolvedDuration()
	ctx := s.ctx

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		breakdown, fellBack := s.deps.Pricing.ComputeForBooking(ctx, &b, duration)
		if !fellBack {
			if err := s.deps.Bookings.SaveFinalPricing(ctx, b.ID, breakdown); err != nil && !errors.Is(err, repository.ErrConflict) {
				s.log.Warn("saving final pricing failed", "error", err)
			}
		}
		select {
		case s.pricingResults <- pricingResult{breakdown: breakdown, fellBack: fellBack}:
		case <-ctx.Done():
		}
	}()
}

func (s *Session) handlePricing(r pricingResult) {
	s.pricingInFlight = false
	if s.booking.FinalPricing == nil && !r.fellBack {
		bd := r.breakdown
		s.booking.FinalPricing = &bd
	}

	if s.coord.PresentBreakdown(s.booking, r.breakdown) && s.deps.Notifications != nil {
		_ = s.deps.Notifications.NotifyBreakdownReady(s.ctx, s.booking, r.breakdown)
	}

	if s.coord.State().Cancelled {
		s.failWaiters(ErrBookingTerminal)
		return
	}
	breakdown := r.breakdown
	if bd := s.coord.Breakdown(); bd != nil {
		breakdown = *bd
	}
	for _, w := range s.ratingWaiters {
		w <- ratingReply{breakdown: breakdown}
	}
	s.ratingWaiters = nil
}

func (s *Session) failWaiters(err error) {
	for _, w := range s.ratingWaiters {
		w <- ratingReply{err: err}
	}
	s.ratingWaiters = nil
}

func (s *Session) resolveAddress() {
	if s.booking.Location.Address != "" {
		s.address = s.booking.Location.Address
		return
	}

	p := s.booking.Location.Point
	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		addr := ResolveAddress(ctx, s.deps.Geocoder, p, s.log)
		select {
		case s.addresses <- addr:
		case <-ctx.Done():
		}
	}()
}

func (s *Session) notifyStatus() {
	if s.deps.Notifications == nil {
		return
	}
	_ = s.deps.Notifications.NotifyStatusChanged(s.ctx, s.booking)
}

// enterTerminal releases everything but the loop itself. The session still
// answers state queries until it is closed.
func (s *Session) enterTerminal() {
	stopTicker(&s.tick)
	stopTicker(&s.retry)
	stopTicker(&s.watchdog)
	stopTicker(&s.dayCheck)
	s.stopTracking()
	s.releaseBooking()
	s.finishedAt.Store(s.now().UnixNano())
	s.log.Info("booking finished", "status", s.booking.Status)
}

func (s *Session) release() {
	stopTicker(&s.tick)
	stopTicker(&s.poll)
	stopTicker(&s.retry)
	stopTicker(&s.watchdog)
	stopTicker(&s.dayCheck)
	s.tracker.Deactivate()
	s.releaseBooking()
	s.failWaiters(ErrSessionClosed)
	s.events.Close()
	s.resources.Store(0)
}

func (s *Session) releaseBooking() {
	if s.unsubscribeBooking == nil {
		return
	}
	s.unsubscribeBooking()
	s.unsubscribeBooking = nil
	observability.OpenSubscriptions.Dec()
}

func (s *Session) countResources() int {
	n := 0
	if s.unsubscribeBooking != nil {
		n++
	}
	if s.tracker.Active() {
		n++
	}
	for _, t := range []*time.Ticker{s.tick, s.poll, s.retry, s.watchdog, s.dayCheck} {
		if t != nil {
			n++
		}
	}
	return n
}

func (s *Session) snapshotState() SessionState {
	st := SessionState{
		ID:             s.id,
		BookingID:      s.bookingID,
		DeviceID:       s.deviceID,
		Status:         s.machine.Current(),
		Address:        s.address,
		Tracking:       s.tracker.Active(),
		Locating:       s.tracker.Active() && s.locating,
		TimerRunning:   s.timer.Running(),
		TimerText:      s.timer.Text(),
		ElapsedSeconds: s.timer.Elapsed(),
		Coordinator:    s.coord.State(),
		OpenResources:  s.countResources(),
	}
	if est := s.tracker.Estimate(); est != nil {
		e := *est
		st.Distance = &e
	}
	return st
}

func (s *Session) emit(e Event) {
	e.BookingID = s.bookingID
	if e.Status == "" {
		e.Status = s.machine.Current()
	}
	e.At = s.now()
	s.sink.Emit(e)
}

func (s *Session) emitTimer() {
	s.emit(Event{
		Type:           EventTimer,
		TimerText:      s.timer.Text(),
		ElapsedSeconds: s.timer.Elapsed(),
	})
}

func tickerC(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func stopTicker(t **time.Ticker) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

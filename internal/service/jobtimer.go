package service

import (
	"fmt"
	"time"

	"booking/internal/config"
	"booking/internal/domain"
)

type timerPhase int

const (
	timerIdle timerPhase = iota
	timerWaitingForStart
	timerRunning
	timerStopped
)

// JobTimer is the client-side elapsed time display for a job. It holds no
// goroutines or tickers; the owning session drives it.
type JobTimer struct {
	cfg config.TimerConfig
	now func() time.Time

	phase         timerPhase
	startedAt     time.Time
	elapsed       int64
	retriesLeft   int
	watchdogUntil time.Time
	source        DurationSource
}

// NewJobTimer creates an idle JobTimer.
func NewJobTimer(cfg config.TimerConfig, now func() time.Time) *JobTimer {
	if now == nil {
		now = time.Now
	}
	return &JobTimer{cfg: cfg, now: now}
}

// Begin starts the timer from the booking's start time. Without a start time it
// returns ErrMissingStartTime and arms the retry and watchdog checks.
// Calling Begin on a running or stopped timer does nothing.
func (t *JobTimer) Begin(jt domain.JobTimer) error {
	switch t.phase {
	case timerRunning, timerStopped:
		return nil
	}
	if jt.HasStart() {
		t.start(jt.StartedAt)
		return nil
	}
	t.phase = timerWaitingForStart
	t.retriesLeft = t.cfg.RetryAttempts
	t.watchdogUntil = t.now().Add(t.cfg.WatchdogWindow)
	return ErrMissingStartTime
}

// Observe starts a waiting timer once a snapshot carries the start time.
func (t *JobTimer) Observe(jt domain.JobTimer) bool {
	if t.phase != timerWaitingForStart || !jt.HasStart() {
		return false
	}
	t.start(jt.StartedAt)
	return true
}

// Retry re-checks for the start time. exhausted is true once no attempts remain.
func (t *JobTimer) Retry(jt domain.JobTimer) (started, exhausted bool) {
	if t.phase != timerWaitingForStart {
		return t.phase == timerRunning, true
	}
	if jt.HasStart() {
		t.start(jt.StartedAt)
		return true, true
	}
	t.retriesLeft--
	return false, t.retriesLeft <= 0
}

// Watchdog re-verifies that the timer runs while the job is in progress.
// expired is true once the watchdog window has passed or the job is no longer in progress.
func (t *JobTimer) Watchdog(jt domain.JobTimer, status domain.BookingStatus) (started, expired bool) {
	if t.phase != timerWaitingForStart || !InTimerWindow(status) {
		return false, true
	}
	if jt.HasStart() {
		t.start(jt.StartedAt)
		return true, true
	}
	return false, !t.now().Before(t.watchdogUntil)
}

// Tick refreshes the elapsed value. The displayed value never decreases.
func (t *JobTimer) Tick() int64 {
	if t.phase != timerRunning {
		return t.elapsed
	}
	secs := int64(t.now().Sub(t.startedAt) / time.Second)
	if secs > t.elapsed {
		t.elapsed = secs
	}
	return t.elapsed
}

// Stop freezes the display at the resolved duration. It only takes effect once;
// ok is false on later calls.
func (t *JobTimer) Stop(jt domain.JobTimer) (seconds int64, ok bool) {
	if t.phase == timerStopped {
		return t.elapsed, false
	}
	t.elapsed, t.source = ResolveDurationSource(jt, t.cfg.FallbackDuration)
	t.phase = timerStopped
	t.retriesLeft = 0
	return t.elapsed, true
}

// Running reports whether the timer is ticking.
func (t *JobTimer) Running() bool { return t.phase == timerRunning }

// WaitingForStart reports whether the timer is waiting for the start time.
func (t *JobTimer) WaitingForStart() bool { return t.phase == timerWaitingForStart }

// Stopped reports whether the timer has been frozen.
func (t *JobTimer) Stopped() bool { return t.phase == timerStopped }

// Source reports where the frozen duration came from. Empty until stopped.
func (t *JobTimer) Source() DurationSource { return t.source }

// Elapsed returns the displayed elapsed seconds.
func (t *JobTimer) Elapsed() int64 { return t.elapsed }

// Text returns the displayed elapsed time as HH:MM:SS.
func (t *JobTimer) Text() string { return FormatElapsed(t.elapsed) }

func (t *JobTimer) start(at time.Time) {
	t.phase = timerRunning
	t.startedAt = at
	t.retriesLeft = 0
	t.Tick()
}

// DurationSource says which field a resolved duration came from.
type DurationSource string

const (
	DurationFromActual     DurationSource = "actual"
	DurationFromTimestamps DurationSource = "timestamps"
	DurationFromStored     DurationSource = "stored"
	DurationFromFallback   DurationSource = "fallback"
)

// ResolveDuration picks the billable job duration in seconds: the authoritative
// duration, then end minus start, then the stored duration, then fallback.
func ResolveDuration(jt domain.JobTimer, fallback time.Duration) int64 {
	secs, _ := ResolveDurationSource(jt, fallback)
	return secs
}

// ResolveDurationSource is ResolveDuration that also reports the source used.
func ResolveDurationSource(jt domain.JobTimer, fallback time.Duration) (int64, DurationSource) {
	if jt.ActualSeconds > 0 {
		return jt.ActualSeconds, DurationFromActual
	}
	if !jt.StartedAt.IsZero() && !jt.EndedAt.IsZero() && jt.EndedAt.After(jt.StartedAt) {
		return int64(jt.EndedAt.Sub(jt.StartedAt) / time.Second), DurationFromTimestamps
	}
	if jt.DurationSeconds > 0 {
		return jt.DurationSeconds, DurationFromStored
	}
	return int64(fallback / time.Second), DurationFromFallback
}

// FormatElapsed renders seconds as HH:MM:SS.
func FormatElapsed(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}

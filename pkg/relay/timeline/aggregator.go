package timeline

import (
	"sync"
	"time"

	"agent-console-be/internal/pkg/logger"
)

// tickInterval drives the running-duration recomputation.
const tickInterval = 1 * time.Second

type sessionTimeline struct {
	events []RunEvent

	// startTime is the timestamp of the very first event ever recorded for
	// the session, whatever its classification. Feeds where the explicit
	// start signal is delayed or dropped still get a stable reference.
	startTime    int64
	hasStartTime bool

	// completedOverride is the caller-supplied authoritative flag. When set,
	// it wins over the derived signal even if explicitly false.
	completedOverride *bool

	stopTick chan struct{}
}

// Aggregator classifies and groups each session's raw event feed into a
// compact timeline and derives run duration and completion.
type Aggregator struct {
	mu       sync.RWMutex
	sessions map[string]*sessionTimeline

	logger logger.ILogger
	nowMS  func() int64

	// OnTick, when set, is invoked once per second per running session so
	// observers can refresh the displayed duration. Stopped on completion.
	OnTick func(sessionID string)
}

func NewAggregator(log logger.ILogger) *Aggregator {
	return &Aggregator{
		sessions: make(map[string]*sessionTimeline),
		logger:   log,
		nowMS:    func() int64 { return time.Now().UnixMilli() },
	}
}

// SetClock overrides the millisecond time source. Test hook.
func (a *Aggregator) SetClock(nowMS func() int64) {
	a.nowMS = nowMS
}

// AddEvent appends an event to the session feed in arrival order and starts
// the duration tick for a newly running session.
func (a *Aggregator) AddEvent(sessionID string, ev RunEvent) {
	a.mu.Lock()
	st, ok := a.sessions[sessionID]
	if !ok {
		st = &sessionTimeline{}
		a.sessions[sessionID] = st
	}
	st.events = append(st.events, ev)
	if !st.hasStartTime {
		st.startTime = ev.Timestamp
		st.hasStartTime = true
	}

	completed := a.isCompletedLocked(st)
	startTick := !completed && st.stopTick == nil
	stopTick := completed && st.stopTick != nil
	var stop chan struct{}
	if startTick {
		st.stopTick = make(chan struct{})
		go a.tickLoop(sessionID, st.stopTick)
	} else if stopTick {
		stop = st.stopTick
		st.stopTick = nil
	}
	a.mu.Unlock()

	if stop != nil {
		close(stop)
	}
}

// SetCompleted records the caller's authoritative completion flag. Pass nil
// to fall back to the derived signal.
func (a *Aggregator) SetCompleted(sessionID string, completed *bool) {
	a.mu.Lock()
	st, ok := a.sessions[sessionID]
	if !ok {
		st = &sessionTimeline{}
		a.sessions[sessionID] = st
	}
	st.completedOverride = completed

	var stop chan struct{}
	if a.isCompletedLocked(st) && st.stopTick != nil {
		stop = st.stopTick
		st.stopTick = nil
	}
	a.mu.Unlock()

	if stop != nil {
		close(stop)
	}
}

// Events returns a copy of the raw feed in arrival order.
func (a *Aggregator) Events(sessionID string) []RunEvent {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st, ok := a.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]RunEvent, len(st.events))
	copy(out, st.events)
	return out
}

// Aggregate runs the single-pass grouping over the session's full feed:
// last START and last END become passthrough markers, middle events bucket
// by label in first-seen order.
func (a *Aggregator) Aggregate(sessionID string) []Entry {
	a.mu.RLock()
	defer a.mu.RUnlock()

	st, ok := a.sessions[sessionID]
	if !ok {
		return nil
	}

	var startEvent, endEvent *RunEvent
	groups := make(map[string]*Entry)
	var order []string

	for i := range st.events {
		ev := st.events[i]
		switch Classify(ev.Type) {
		case ClassStart:
			e := ev
			startEvent = &e
		case ClassEnd:
			e := ev
			endEvent = &e
		default:
			label := labelFor(ev.Type)
			if g, seen := groups[label]; seen {
				// Count repeats of the representative type only, so a
				// started/completed pair reads as one occurrence.
				if ev.Type == g.RepresentativeCategory {
					g.Count++
				}
			} else {
				groups[label] = &Entry{
					Label:                  label,
					Count:                  1,
					RepresentativeCategory: ev.Type,
				}
				order = append(order, label)
			}
		}
	}

	out := make([]Entry, 0, len(order)+2)
	if startEvent != nil {
		out = append(out, Entry{Event: startEvent})
	}
	for _, label := range order {
		out = append(out, *groups[label])
	}
	if endEvent != nil {
		out = append(out, Entry{Event: endEvent})
	}
	return out
}

// IsCompleted reports run completion: the authoritative flag when supplied,
// otherwise whether any END-classified event is present.
func (a *Aggregator) IsCompleted(sessionID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st, ok := a.sessions[sessionID]
	if !ok {
		return false
	}
	return a.isCompletedLocked(st)
}

// IsRunning reports whether the session has events and is not yet completed.
func (a *Aggregator) IsRunning(sessionID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st, ok := a.sessions[sessionID]
	if !ok || len(st.events) == 0 {
		return false
	}
	return !a.isCompletedLocked(st)
}

// StartTime returns the session's reference start in unix milliseconds and
// whether any event has been recorded.
func (a *Aggregator) StartTime(sessionID string) (int64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st, ok := a.sessions[sessionID]
	if !ok || !st.hasStartTime {
		return 0, false
	}
	return st.startTime, true
}

// Duration returns the run duration in milliseconds: now minus start while
// running, frozen to lastEvent minus start once completed.
func (a *Aggregator) Duration(sessionID string) int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st, ok := a.sessions[sessionID]
	if !ok || !st.hasStartTime {
		return 0
	}
	if a.isCompletedLocked(st) && len(st.events) > 0 {
		return st.events[len(st.events)-1].Timestamp - st.startTime
	}
	return a.nowMS() - st.startTime
}

// ClearSession drops the session feed and cancels its tick.
func (a *Aggregator) ClearSession(sessionID string) {
	a.mu.Lock()
	st, ok := a.sessions[sessionID]
	var stop chan struct{}
	if ok {
		stop = st.stopTick
		delete(a.sessions, sessionID)
	}
	a.mu.Unlock()

	if stop != nil {
		close(stop)
	}
}

// Teardown cancels every tick and clears all state.
func (a *Aggregator) Teardown() {
	a.mu.Lock()
	var stops []chan struct{}
	for _, st := range a.sessions {
		if st.stopTick != nil {
			stops = append(stops, st.stopTick)
		}
	}
	a.sessions = make(map[string]*sessionTimeline)
	a.mu.Unlock()

	for _, stop := range stops {
		close(stop)
	}
}

func (a *Aggregator) isCompletedLocked(st *sessionTimeline) bool {
	if st.completedOverride != nil {
		return *st.completedOverride
	}
	for _, ev := range st.events {
		if Classify(ev.Type) == ClassEnd {
			return true
		}
	}
	return false
}

func (a *Aggregator) tickLoop(sessionID string, stop chan struct{}) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if a.OnTick != nil {
				a.OnTick(sessionID)
			}
		}
	}
}

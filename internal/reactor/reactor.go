// Package reactor implements the single-threaded event loop that
// multiplexes client sockets and timers (spec.md §4.1): one goroutine,
// one epoll instance, no locks. It is the Go-native reading of the
// teacher's EpollServer in pkg/websocket/netpoll.go, generalized from "a
// listener-only epoll helper" into the server's full event loop — file
// events for every connected socket, plus a time-event list for the
// maintenance cron.
package reactor

import (
	"sync"
)

// Mask identifies readiness interest.
type Mask int

const (
	Readable Mask = 1 << iota
	Writable
)

// ProcessFlags controls a single processEvents call.
type ProcessFlags int

const (
	FileEvents ProcessFlags = 1 << iota
	TimeEvents
	DontWait
)

const AllEvents = FileEvents | TimeEvents

// NoMore is the time-event sentinel meaning "do not reschedule".
const NoMore int64 = -1

// FileHandler is invoked once per ready fd per tick with the mask that
// fired. Handlers run to completion; the reactor never preempts them.
type FileHandler func(fd int, mask Mask)

// TimeHandler is invoked when a timer fires. A non-negative return value
// reschedules the timer at now+value milliseconds; NoMore deletes it.
type TimeHandler func(id int64) int64

type fileEvent struct {
	fd      int
	mask    Mask
	handler FileHandler
}

type timeEvent struct {
	id       int64
	deadline int64 // unix millis
	handler  TimeHandler
	deleted  bool
}

// Reactor is the event loop described in spec.md §4.1. Exactly one
// goroutine should ever call Main or ProcessEvents.
type Reactor struct {
	poller poller

	mu         sync.Mutex // guards fileEvents/timeEvents/stop against calls made from other goroutines (e.g. Stop from a signal handler)
	fileEvents map[int]*fileEvent
	timeEvents []*timeEvent
	nextTimeID int64

	stop bool
	now  func() int64 // millis since epoch; overridable in tests
}

// New creates a reactor backed by the platform poller.
func New(nowMillis func() int64) (*Reactor, error) {
	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	return &Reactor{
		poller:     p,
		fileEvents: make(map[int]*fileEvent),
		now:        nowMillis,
	}, nil
}

// CreateFileEvent registers interest in fd for mask, invoking handler on
// readiness. Re-registering the same fd updates its mask and handler.
func (r *Reactor) CreateFileEvent(fd int, mask Mask, handler FileHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	fe, exists := r.fileEvents[fd]
	if exists {
		fe.mask |= mask
		fe.handler = handler
		return r.poller.modify(fd, fe.mask)
	}
	fe = &fileEvent{fd: fd, mask: mask, handler: handler}
	r.fileEvents[fd] = fe
	return r.poller.add(fd, mask)
}

// DeleteFileEvent removes mask bits of interest for fd. Once no interest
// remains, the fd is dropped from epoll entirely.
func (r *Reactor) DeleteFileEvent(fd int, mask Mask) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fe, exists := r.fileEvents[fd]
	if !exists {
		return
	}
	fe.mask &^= mask
	if fe.mask == 0 {
		delete(r.fileEvents, fd)
		r.poller.remove(fd)
		return
	}
	r.poller.modify(fd, fe.mask)
}

// CreateTimeEvent schedules handler to fire after delayMs and returns its id.
func (r *Reactor) CreateTimeEvent(delayMs int64, handler TimeHandler) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextTimeID++
	id := r.nextTimeID
	r.timeEvents = append(r.timeEvents, &timeEvent{
		id:       id,
		deadline: r.now() + delayMs,
		handler:  handler,
	})
	return id
}

// DeleteTimeEvent cancels a pending timer by id.
func (r *Reactor) DeleteTimeEvent(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, te := range r.timeEvents {
		if te.id == id {
			te.deleted = true
		}
	}
}

// Stop requests Main to return after the current tick.
func (r *Reactor) Stop() {
	r.mu.Lock()
	r.stop = true
	r.mu.Unlock()
}

// Main runs ProcessEvents(AllEvents) until Stop is called.
func (r *Reactor) Main() error {
	for {
		r.mu.Lock()
		stopped := r.stop
		r.mu.Unlock()
		if stopped {
			return nil
		}
		if _, err := r.ProcessEvents(AllEvents); err != nil {
			return err
		}
	}
}

// nearestDeadline returns the soonest time-event deadline, or (0, false)
// if there are none.
func (r *Reactor) nearestDeadline() (int64, bool) {
	var best int64
	found := false
	for _, te := range r.timeEvents {
		if te.deleted {
			continue
		}
		if !found || te.deadline < best {
			best = te.deadline
			found = true
		}
	}
	return best, found
}

// ProcessEvents runs one iteration of the loop described in spec.md
// §4.1: build readiness from waiting on the poller bounded by the
// nearest timer deadline, dispatch ready file events once each, then
// walk due time events, rescheduling or deleting per their return value.
func (r *Reactor) ProcessEvents(flags ProcessFlags) (int, error) {
	waitMillis := -1 // block indefinitely
	if flags&DontWait != 0 {
		waitMillis = 0
	} else if flags&TimeEvents != 0 {
		// "sleep for the timer interval only when time events are
		// requested and blocking is allowed" — spec.md §9 resolves the
		// source's ambiguous precedence this way.
		if deadline, ok := r.nearestDeadline(); ok {
			delay := deadline - r.now()
			if delay < 0 {
				delay = 0
			}
			waitMillis = int(delay)
		}
	}

	processed := 0

	if flags&FileEvents != 0 {
		ready, err := r.poller.wait(waitMillis)
		if err != nil {
			return processed, err
		}
		// Handlers may delete file events (including their own); re-fetch
		// from the map on every dispatch instead of trusting the slice we
		// polled, mirroring the source's head-restart-on-mutation scan.
		for _, rdy := range ready {
			r.mu.Lock()
			fe, exists := r.fileEvents[rdy.fd]
			r.mu.Unlock()
			if !exists {
				continue
			}
			mask := fe.mask & rdy.mask
			if mask == 0 {
				continue
			}
			fe.handler(rdy.fd, mask)
			processed++
		}
	} else if waitMillis != 0 {
		sleepMillis(waitMillis)
	}

	if flags&TimeEvents != 0 {
		processed += r.processTimeEvents()
	}

	return processed, nil
}

// processTimeEvents walks the time-event list once, restarting the walk
// after every firing since handlers may add or delete timers (spec.md
// §4.1 step 5). Only events present at call time (maxID) are eligible.
func (r *Reactor) processTimeEvents() int {
	r.mu.Lock()
	maxID := r.nextTimeID
	r.mu.Unlock()

	fired := 0
	for {
		r.mu.Lock()
		var due *timeEvent
		now := r.now()
		for _, te := range r.timeEvents {
			if te.deleted || te.id > maxID {
				continue
			}
			if te.deadline <= now {
				due = te
				break
			}
		}
		if due == nil {
			r.mu.Unlock()
			return fired
		}
		r.mu.Unlock()

		next := due.handler(due.id)
		fired++

		r.mu.Lock()
		if next == NoMore {
			due.deleted = true
		} else {
			due.deadline = r.now() + next
		}
		r.compactTimeEvents()
		r.mu.Unlock()
	}
}

func (r *Reactor) compactTimeEvents() {
	kept := r.timeEvents[:0]
	for _, te := range r.timeEvents {
		if !te.deleted {
			kept = append(kept, te)
		}
	}
	r.timeEvents = kept
}

// Close releases the underlying poller resources.
func (r *Reactor) Close() error {
	return r.poller.close()
}

type readyFD struct {
	fd   int
	mask Mask
}

type poller interface {
	add(fd int, mask Mask) error
	modify(fd int, mask Mask) error
	remove(fd int) error
	wait(timeoutMillis int) ([]readyFD, error)
	close() error
}

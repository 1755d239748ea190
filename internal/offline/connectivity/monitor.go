// Package connectivity tracks whether the TaskMaster API is reachable.
//
// The state only changes on environment-level signals: a state file written by
// the host (see FileSource), a UI shell connected to the dashboard, or an
// explicit Set. A single failed request never flips it.
package connectivity

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/taskmasterpro/tm/internal/offline/notify"
)

// State is the connectivity state.
type State int

const (
	Offline State = iota
	Online
)

func (s State) String() string {
	if s == Online {
		return "online"
	}
	return "offline"
}

// ParseState parses the words hosts commonly write for link state.
func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "online", "up", "connected", "1", "true":
		return Online, nil
	case "offline", "down", "disconnected", "0", "false":
		return Offline, nil
	}
	return Offline, fmt.Errorf("unknown connectivity state %q", s)
}

// Transition is published to subscribers when the state changes.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// Setter accepts connectivity signals.
type Setter interface {
	Set(state State) bool
}

// Monitor holds the current state and fans out transitions.
type Monitor struct {
	notifier notify.Notifier
	logger   *log.Logger

	mu     sync.Mutex
	state  State
	subs   map[int]chan Transition
	nextID int
}

// NewMonitor creates a monitor starting in initial. A nil notifier discards
// events; a nil logger logs to stderr.
func NewMonitor(initial State, notifier notify.Notifier, logger *log.Logger) *Monitor {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[connectivity] ", log.LstdFlags)
	}
	return &Monitor{
		notifier: notifier,
		logger:   logger,
		state:    initial,
		subs:     make(map[int]chan Transition),
	}
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Online reports whether the current state is Online.
func (m *Monitor) Online() bool {
	return m.State() == Online
}

// Set records a connectivity signal. It reports whether the state changed;
// repeated signals for the current state are ignored.
func (m *Monitor) Set(state State) bool {
	m.mu.Lock()
	if m.state == state {
		m.mu.Unlock()
		return false
	}
	t := Transition{From: m.state, To: state, At: time.Now()}
	m.state = state

	// Publish under the lock so subscribers see transitions in order.
	for id, ch := range m.subs {
		select {
		case ch <- t:
		default:
			m.logger.Printf("subscriber %d is not keeping up; dropped %s transition", id, state)
		}
	}
	m.mu.Unlock()

	m.logger.Printf("connectivity changed: %s -> %s", t.From, t.To)
	m.notifier.ConnectivityChanged(state == Online)
	if state == Online {
		m.notifier.Toast(notify.LevelInfo, notify.MsgOnline)
	} else {
		m.notifier.Toast(notify.LevelWarning, notify.MsgOffline)
	}
	return true
}

// Subscribe returns a channel receiving every later transition and a cancel
// function that unsubscribes and closes the channel.
func (m *Monitor) Subscribe(buffer int) (<-chan Transition, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Transition, buffer)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Package settings owns the user's acceptance configuration as a versioned
// snapshot store shared by the automaton, the control surface and the file watcher.
package settings

import (
	"sync"

	"Toyol/pkg/types"

	"github.com/rs/zerolog"
)

// Store holds the current configuration. Readers always get a private copy;
// writers replace the whole value, so no partially applied update is ever visible.
type Store struct {
	mu      sync.RWMutex
	cfg     types.Configuration
	version uint64

	subsMu  sync.Mutex
	subs    map[int]chan bool
	nextSub int

	log zerolog.Logger
}

// Config for creating a new Store
type Config struct {
	Initial types.Configuration
	Logger  *zerolog.Logger
}

// New creates a Store seeded with cfg.Initial (or the defaults when it is empty)
func New(cfg Config) *Store {
	initial := cfg.Initial
	if initial.CategoryFilters == nil && initial.ManualHours == nil {
		initial = types.DefaultConfiguration()
	}
	s := &Store{
		cfg:  initial.Clone(),
		subs: make(map[int]chan bool),
		log:  zerolog.Nop(),
	}
	if cfg.Logger != nil {
		s.log = *cfg.Logger
	}
	return s
}

// ========================================
// Reads
// ========================================

// Snapshot returns a deep copy of the current configuration
func (s *Store) Snapshot() types.Configuration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// Version increases by one on every write
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Enabled returns the service-enabled flag
func (s *Store) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.ServiceEnabled
}

// ========================================
// Writes
// ========================================

// Replace swaps in cfg wholesale, including its service-enabled flag
func (s *Store) Replace(cfg types.Configuration) uint64 {
	return s.write(func(cur *types.Configuration) {
		*cur = cfg.Clone()
	})
}

// ReplaceFilters swaps in cfg but keeps the current service-enabled flag.
// Used for reloads, where the on/off state belongs to the running session.
func (s *Store) ReplaceFilters(cfg types.Configuration) uint64 {
	return s.write(func(cur *types.Configuration) {
		enabled := cur.ServiceEnabled
		*cur = cfg.Clone()
		cur.ServiceEnabled = enabled
	})
}

// Update applies fn to a private copy and publishes the result
func (s *Store) Update(fn func(cfg *types.Configuration)) uint64 {
	return s.write(func(cur *types.Configuration) {
		next := cur.Clone()
		fn(&next)
		*cur = next
	})
}

// SetEnabled sets the service-enabled flag
func (s *Store) SetEnabled(enabled bool) {
	s.write(func(cur *types.Configuration) {
		cur.ServiceEnabled = enabled
	})
}

// Toggle flips the service-enabled flag and returns the new value
func (s *Store) Toggle() bool {
	var now bool
	s.write(func(cur *types.Configuration) {
		cur.ServiceEnabled = !cur.ServiceEnabled
		now = cur.ServiceEnabled
	})
	return now
}

func (s *Store) write(apply func(cur *types.Configuration)) uint64 {
	s.mu.Lock()
	before := s.cfg.ServiceEnabled
	apply(&s.cfg)
	s.version++
	version := s.version
	after := s.cfg.ServiceEnabled
	s.mu.Unlock()

	s.log.Debug().Uint64("version", version).Bool("enabled", after).Msg("Configuration updated")
	if before != after {
		s.publish(after)
	}
	return version
}

// ========================================
// Enabled-flag subscriptions
// ========================================

// Subscribe returns a channel receiving the enabled flag on every change.
// Only the latest value is kept when the reader falls behind.
// The returned func unsubscribes and closes the channel.
func (s *Store) Subscribe() (<-chan bool, func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan bool, 1)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) publish(enabled bool) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- enabled
	}
}

package boundary

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Tutortoise/layout-detection-service/detections"
)

// ErrStrategyClosed is returned by Acquire after Close.
var ErrStrategyClosed = errors.New("session strategy is closed")

// SessionStrategy decides how a task gets its model session, and therefore how
// much model-loading cost each task pays.
type SessionStrategy interface {
	// Acquire returns a session for modelPath and the function that gives it
	// back. release must be called exactly once.
	Acquire(modelPath string) (session *detections.ModelSession, release func(), err error)
	Close() error
}

// StrategyName selects a SessionStrategy from configuration.
type StrategyName string

const (
	StrategyColdStart StrategyName = "cold"
	StrategyShared    StrategyName = "shared"
)

// NewStrategy builds the strategy called name.
func NewStrategy(name StrategyName, rt detections.Runtime, logger *zap.Logger, metrics *Metrics) (SessionStrategy, error) {
	switch name {
	case StrategyColdStart, "":
		return NewColdStart(rt, logger, metrics), nil
	case StrategyShared:
		return NewSharedSessions(rt, logger, metrics), nil
	}
	return nil, errors.Errorf("unknown session strategy %q", name)
}

// ColdStart loads the model inside every task and destroys it when the task
// ends. Concurrent tasks never share a session.
type ColdStart struct {
	rt      detections.Runtime
	logger  *zap.Logger
	metrics *Metrics
}

func NewColdStart(rt detections.Runtime, logger *zap.Logger, metrics *Metrics) *ColdStart {
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &ColdStart{rt: rt, logger: logger, metrics: metrics}
}

func (c *ColdStart) Acquire(modelPath string) (*detections.ModelSession, func(), error) {
	session, err := detections.OpenModelSession(c.rt, modelPath)
	if err != nil {
		c.metrics.sessionFailures.Inc()
		return nil, nil, err
	}
	c.metrics.sessionOpens.Inc()

	var once sync.Once
	return session, func() {
		once.Do(func() {
			if err := session.Destroy(); err != nil {
				c.logger.Warn("destroy model session", zap.String("model", modelPath), zap.Error(err))
			}
		})
	}, nil
}

func (c *ColdStart) Close() error { return nil }

// SharedSessions keeps one reference-counted session per model path. A session
// lives until it is evicted with no references left, or until Close.
type SharedSessions struct {
	rt      detections.Runtime
	logger  *zap.Logger
	metrics *Metrics
	group   singleflight.Group

	mu      sync.Mutex
	entries map[string]*sharedEntry
	closed  bool
}

type sharedEntry struct {
	session *detections.ModelSession
	refs    int
	evicted bool
}

func NewSharedSessions(rt detections.Runtime, logger *zap.Logger, metrics *Metrics) *SharedSessions {
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &SharedSessions{
		rt:      rt,
		logger:  logger,
		metrics: metrics,
		entries: make(map[string]*sharedEntry),
	}
}

func (s *SharedSessions) Acquire(modelPath string) (*detections.ModelSession, func(), error) {
	for hit := true; ; hit = false {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, nil, ErrStrategyClosed
		}
		if e, ok := s.entries[modelPath]; ok {
			e.refs++
			s.mu.Unlock()
			if hit {
				s.metrics.sessionReuses.Inc()
			}
			return e.session, s.releaser(modelPath, e), nil
		}
		s.mu.Unlock()

		// Concurrent first opens of one path share a single load.
		_, err, _ := s.group.Do(modelPath, func() (interface{}, error) {
			s.mu.Lock()
			_, ok := s.entries[modelPath]
			s.mu.Unlock()
			if ok {
				return nil, nil
			}

			session, err := detections.OpenModelSession(s.rt, modelPath)
			if err != nil {
				s.metrics.sessionFailures.Inc()
				return nil, err
			}
			s.metrics.sessionOpens.Inc()

			s.mu.Lock()
			defer s.mu.Unlock()
			if s.closed {
				return nil, multierr.Append(ErrStrategyClosed, session.Destroy())
			}
			s.entries[modelPath] = &sharedEntry{session: session}
			return nil, nil
		})
		if err != nil {
			return nil, nil, err
		}
		// Loop to take a reference under the lock; an eviction between the load
		// and here sends us round again.
	}
}

func (s *SharedSessions) releaser(modelPath string, e *sharedEntry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			e.refs--
			destroy := e.evicted && e.refs == 0
			s.mu.Unlock()
			if destroy {
				s.destroy(modelPath, e)
			}
		})
	}
}

// Evict drops the session for modelPath. It is destroyed now if unused, or
// when its last reference is released.
func (s *SharedSessions) Evict(modelPath string) {
	s.mu.Lock()
	e, ok := s.entries[modelPath]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.entries, modelPath)
	e.evicted = true
	destroy := e.refs == 0
	s.mu.Unlock()

	if destroy {
		s.destroy(modelPath, e)
	}
}

// Len is the number of cached sessions.
func (s *SharedSessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *SharedSessions) destroy(modelPath string, e *sharedEntry) {
	if err := e.session.Destroy(); err != nil {
		s.logger.Warn("destroy shared model session", zap.String("model", modelPath), zap.Error(err))
	}
}

// Close evicts every session. Sessions still referenced are destroyed on their
// last release.
func (s *SharedSessions) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var idle []*sharedEntry
	for path, e := range s.entries {
		delete(s.entries, path)
		e.evicted = true
		if e.refs == 0 {
			idle = append(idle, e)
		}
	}
	s.mu.Unlock()

	var err error
	for _, e := range idle {
		err = multierr.Append(err, e.session.Destroy())
	}
	return err
}

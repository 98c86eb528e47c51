package gem

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
)

// =====================================
// Session
// =====================================

// Session groups the mappers of one unit of work. Mappers resolve relations to
// other entity types through the session they are registered with.
//
// A Session is not safe for concurrent use.
type Session struct {
	id      string
	mappers map[string]*Mapper
	order   []string
	logger  *slog.Logger
	metrics *Metrics
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithSessionLogger sets the logger inherited by registered mappers
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// WithSessionMetrics sets the counters inherited by registered mappers
func WithSessionMetrics(metrics *Metrics) SessionOption {
	return func(s *Session) { s.metrics = metrics }
}

// NewSession creates an empty session
func NewSession(opts ...SessionOption) *Session {
	s := &Session{
		id:      uuid.NewString(),
		mappers: make(map[string]*Mapper),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("session", s.id))
	return s
}

// ID returns the session's correlation id
func (s *Session) ID() string { return s.id }

// Register adds a mapper under its schema name. Mappers without their own
// logger or metrics inherit the session's.
func (s *Session) Register(m *Mapper) error {
	if m == nil {
		return NewError(ErrorTypeInvalidArgument, "cannot register a nil mapper")
	}
	if err := m.schema.CheckConfiguration(); err != nil {
		return err
	}
	name := m.schema.Name
	if _, exists := s.mappers[name]; exists {
		return errorf(ErrorTypeDuplicate, "mapper %q is already registered", name)
	}
	if m.session != nil && m.session != s {
		return errorf(ErrorTypePrecondition, "mapper %q belongs to session %s", name, m.session.id)
	}

	m.session = s
	if !m.ownLogger {
		m.logger = s.logger
	}
	if !m.ownMetrics {
		m.metrics = s.metrics
	}
	s.mappers[name] = m
	s.order = append(s.order, name)
	s.logger.Debug("mapper registered", slog.String("entity", name))
	return nil
}

// Mapper returns the mapper registered under name
func (s *Session) Mapper(name string) (*Mapper, error) {
	m, ok := s.mappers[name]
	if !ok {
		return nil, errorf(ErrorTypeNotFound, "mapper %q is not registered", name)
	}
	return m, nil
}

// MustMapper returns the mapper registered under name, panics if not found
func (s *Session) MustMapper(name string) *Mapper {
	m, err := s.Mapper(name)
	if err != nil {
		panic(err)
	}
	return m
}

// Names returns mapper names in registration order
func (s *Session) Names() []string {
	return slices.Clone(s.order)
}

// Find is a shorthand for Mapper(name).Find(id)
func (s *Session) Find(name string, id int64) (*Entity, error) {
	m, err := s.Mapper(name)
	if err != nil {
		return nil, err
	}
	return m.Find(id)
}

// Purge drops the cached entities of every mapper, ending the unit of work
func (s *Session) Purge() {
	for _, name := range s.order {
		s.mappers[name].Purge()
	}
}

// Flush saves dirty entities mapper by mapper in registration order
func (s *Session) Flush(ctx context.Context) error {
	for _, name := range s.order {
		if err := s.mappers[name].Flush(ctx); err != nil {
			return fmt.Errorf("flush %s: %w", name, err)
		}
	}
	return nil
}

// HealthCheck reports the health of every mapper's source that can tell
func (s *Session) HealthCheck() map[string]error {
	results := make(map[string]error)
	for _, name := range s.order {
		if p, ok := s.mappers[name].source.(Provider); ok {
			results[name] = p.Health()
		}
	}
	return results
}

// Close closes each distinct provider behind the registered mappers once
func (s *Session) Close() error {
	closed := make(map[Provider]struct{})
	for _, name := range s.order {
		p, ok := s.mappers[name].source.(Provider)
		if !ok {
			continue
		}
		if _, done := closed[p]; done {
			continue
		}
		closed[p] = struct{}{}
		if err := p.Close(); err != nil {
			return fmt.Errorf("error closing source of %s: %w", name, err)
		}
	}
	return nil
}

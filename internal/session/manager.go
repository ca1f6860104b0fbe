package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cp818/scribe/internal/audio"
	"github.com/cp818/scribe/internal/metrics"
	"github.com/cp818/scribe/internal/note"
)

// SourceFactory opens a fresh audio source for a new session.
type SourceFactory func() (audio.Source, error)

// StartRequest carries caller-supplied session metadata. Empty fields
// fall back to note defaults.
type StartRequest struct {
	PatientName   string `json:"patient_name"`
	ClinicianName string `json:"clinician_name"`
}

// ManagerConfig configures the session manager.
type ManagerConfig struct {
	ChunkWindow    time.Duration
	SampleRate     int
	Debounce       time.Duration
	MaxOutOfOrder  int
	SessionTimeout time.Duration // idle-abandonment and stopped-session retention
}

// Manager owns the session registry. It creates sessions on demand,
// stops abandoned ones and eventually forgets stopped ones.
type Manager struct {
	config        ManagerConfig
	logger        *slog.Logger
	metrics       *metrics.Metrics
	transcriber   Transcriber
	generator     Generator
	sourceFactory SourceFactory

	mu       sync.RWMutex
	sessions map[string]*Session

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a session manager and starts its cleanup routine.
func NewManager(config ManagerConfig, transcriber Transcriber, generator Generator,
	factory SourceFactory, logger *slog.Logger, m *metrics.Metrics) *Manager {

	if logger == nil {
		logger = slog.Default()
	}
	if config.SessionTimeout <= 0 {
		config.SessionTimeout = 30 * time.Minute
	}

	mgr := &Manager{
		config:        config,
		logger:        logger,
		metrics:       m,
		transcriber:   transcriber,
		generator:     generator,
		sourceFactory: factory,
		sessions:      make(map[string]*Session),
		stopCh:        make(chan struct{}),
	}

	mgr.wg.Add(1)
	go mgr.cleanupRoutine()

	return mgr
}

// StartSession opens an audio source and starts a new recording
// session. Source acquisition failures surface unchanged so callers
// can distinguish audio resource errors.
func (m *Manager) StartSession(ctx context.Context, req StartRequest) (*Session, error) {
	source, err := m.sourceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to open audio source: %w", err)
	}

	id := uuid.New().String()
	sess, err := New(id, Options{
		Source:        source,
		ChunkWindow:   m.config.ChunkWindow,
		SampleRate:    m.config.SampleRate,
		Transcriber:   m.transcriber,
		Generator:     m.generator,
		Debounce:      m.config.Debounce,
		MaxOutOfOrder: m.config.MaxOutOfOrder,
		Defaults: note.Defaults{
			PatientName:   req.PatientName,
			ClinicianName: req.ClinicianName,
		},
		Logger:  m.logger,
		Metrics: m.metrics,
	})
	if err != nil {
		source.Stop()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if err := sess.Start(ctx); err != nil {
		source.Stop()
		return nil, err
	}

	m.mu.Lock()
	m.sessions[id] = sess
	total := len(m.sessions)
	m.mu.Unlock()

	m.logger.Info("session registered",
		slog.String("session_id", id),
		slog.Int("total_sessions", total))

	return sess, nil
}

// GetSession returns a session by ID.
func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// GetAllSessions returns all registered sessions.
func (m *Manager) GetAllSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

// StopSession stops a session by ID and returns its final note.
func (m *Manager) StopSession(ctx context.Context, id string) (*note.Note, error) {
	sess, ok := m.GetSession(id)
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	return sess.Stop(ctx)
}

// RemoveSession forgets a session. Live sessions are stopped first.
func (m *Manager) RemoveSession(ctx context.Context, id string) error {
	sess, ok := m.GetSession(id)
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}

	if sess.State() != StateStopped {
		if _, err := sess.Stop(ctx); err != nil {
			return fmt.Errorf("failed to stop session %s: %w", id, err)
		}
	}

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	m.logger.Info("session removed", slog.String("session_id", id))
	return nil
}

// cleanupRoutine stops abandoned sessions and forgets stopped ones
// after the retention window.
func (m *Manager) cleanupRoutine() {
	defer m.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

// cleanup runs one sweep over the registry.
func (m *Manager) cleanup() {
	now := time.Now()

	m.mu.Lock()
	var abandoned []*Session
	for id, sess := range m.sessions {
		if sess.State() == StateStopped {
			if now.Sub(sess.StoppedAt()) > m.config.SessionTimeout {
				delete(m.sessions, id)
				m.logger.Info("stopped session expired", slog.String("session_id", id))
			}
			continue
		}
		if now.Sub(sess.LastActivity()) > m.config.SessionTimeout {
			abandoned = append(abandoned, sess)
		}
	}
	m.mu.Unlock()

	for _, sess := range abandoned {
		m.logger.Warn("stopping abandoned session", slog.String("session_id", sess.ID))
		go func(sess *Session) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if _, err := sess.Stop(ctx); err != nil {
				m.logger.Error("failed to stop abandoned session",
					slog.String("session_id", sess.ID),
					slog.String("error", err.Error()))
			}
		}(sess)
	}
}

// Stop shuts the manager down, stopping every live session.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})

	sessions := m.GetAllSessions()
	for _, sess := range sessions {
		if sess.State() == StateStopped {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		if _, err := sess.Stop(ctx); err != nil {
			m.logger.Error("failed to stop session on shutdown",
				slog.String("session_id", sess.ID),
				slog.String("error", err.Error()))
		}
		cancel()
	}

	m.wg.Wait()
	m.logger.Info("session manager stopped")
}

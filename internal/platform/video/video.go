// Package video is the boundary to the external video consultation platform.
package video

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SessionManager opens and closes the call for a virtual appointment.
type SessionManager interface {
	CreateSession(ctx context.Context, appointmentID uuid.UUID) (string, error)
	EndSession(ctx context.Context, appointmentID uuid.UUID) error
}

// LogSessions stands in for the platform: it derives a room name from the
// appointment id and logs each call.
type LogSessions struct {
	logger zerolog.Logger
}

func NewLogSessions(logger zerolog.Logger) *LogSessions {
	return &LogSessions{logger: logger}
}

func (s *LogSessions) CreateSession(_ context.Context, appointmentID uuid.UUID) (string, error) {
	room := "consult-" + appointmentID.String()
	s.logger.Info().Str("appointment_id", appointmentID.String()).Str("room", room).Msg("video session created")
	return room, nil
}

func (s *LogSessions) EndSession(_ context.Context, appointmentID uuid.UUID) error {
	s.logger.Info().Str("appointment_id", appointmentID.String()).Msg("video session ended")
	return nil
}

// MemorySessions tracks open sessions in memory.
type MemorySessions struct {
	mu    sync.Mutex
	open  map[uuid.UUID]string
	ended []uuid.UUID
	// Err, when set, fails every call.
	Err error
}

func NewMemorySessions() *MemorySessions {
	return &MemorySessions{open: make(map[uuid.UUID]string)}
}

func (s *MemorySessions) CreateSession(_ context.Context, appointmentID uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	room := fmt.Sprintf("room-%s", appointmentID)
	s.open[appointmentID] = room
	return room, nil
}

func (s *MemorySessions) EndSession(_ context.Context, appointmentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	delete(s.open, appointmentID)
	s.ended = append(s.ended, appointmentID)
	return nil
}

func (s *MemorySessions) IsOpen(appointmentID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.open[appointmentID]
	return ok
}

func (s *MemorySessions) Ended() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uuid.UUID(nil), s.ended...)
}

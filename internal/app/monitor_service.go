package app

import (
	"context"
	"errors"

	"quizlab-service/internal/domain"
)

// MonitorService is the owner's live view over a lab's sessions. Read-only;
// liveness counts are advisory and may lag.
type MonitorService struct {
	labs     LabStore
	sessions SessionStore
	users    UserStore
	liveness LivenessReader
}

func NewMonitorService(labs LabStore, sessions SessionStore, users UserStore) *MonitorService {
	return &MonitorService{labs: labs, sessions: sessions, users: users}
}

// WithLiveness attaches the redis-backed live-session counter.
func (s *MonitorService) WithLiveness(r LivenessReader) *MonitorService {
	s.liveness = r
	return s
}

// SessionRow is one monitored session enriched with its participant.
type SessionRow struct {
	domain.Session
	User struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"user"`
}

// ListSessions returns the lab's sessions ordered by last activity (most
// recent first), optionally filtered by status. Owner only.
func (s *MonitorService) ListSessions(ctx context.Context, labID string, statuses []domain.SessionStatus, caller domain.Identity) ([]SessionRow, error) {
	if _, err := assertLabOwner(ctx, s.labs, labID, caller); err != nil {
		return nil, err
	}
	sessions, err := s.sessions.ListSessionsByLab(ctx, labID)
	if err != nil {
		return nil, err
	}

	wanted := make(map[domain.SessionStatus]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}

	rows := make([]SessionRow, 0, len(sessions))
	for _, sess := range sessions {
		if len(wanted) > 0 && !wanted[sess.Status] {
			continue
		}
		row := SessionRow{Session: sess}
		user, err := s.users.GetUser(ctx, sess.UserID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		row.User.Name = user.Name
		row.User.Email = user.Email
		rows = append(rows, row)
	}
	return rows, nil
}

// Snapshot is one frame of the monitoring stream.
type Snapshot struct {
	LabID      string       `json:"labId"`
	InProgress int          `json:"inProgress"`
	Completed  int          `json:"completed"`
	LiveCount  int          `json:"liveCount"`
	Recent     []SessionRow `json:"recent"`
}

// snapshotRecentLimit bounds how many rows a stream frame carries.
const snapshotRecentLimit = 20

// Snapshot assembles one monitoring frame for the websocket stream.
func (s *MonitorService) Snapshot(ctx context.Context, labID string, caller domain.Identity) (Snapshot, error) {
	rows, err := s.ListSessions(ctx, labID, nil, caller)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{LabID: labID}
	for _, row := range rows {
		switch row.Status {
		case domain.SessionInProgress:
			snap.InProgress++
		case domain.SessionCompleted:
			snap.Completed++
		}
	}
	if len(rows) > snapshotRecentLimit {
		rows = rows[:snapshotRecentLimit]
	}
	snap.Recent = rows
	if s.liveness != nil {
		if n, err := s.liveness.LiveCount(ctx, labID); err == nil {
			snap.LiveCount = n
		}
	}
	return snap, nil
}

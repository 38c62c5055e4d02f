package service

import (
	"context"
	"time"

	"github.com/iliyamo/dorm-reservation/internal/model"
)

// Window is the reservation schedule. It is open when the manual override
// is set or the scheduled time has passed.
type Window struct {
	OpenAt     time.Time
	ManualOpen bool
}

// WindowFromSettings converts the stored settings row.
func WindowFromSettings(s *model.ReservationSettings) Window {
	return Window{OpenAt: s.OpenAt, ManualOpen: s.ManualOpen}
}

// IsOpenNow reports whether new reservations are accepted at now.
func (w Window) IsOpenNow(now time.Time) bool {
	return w.ManualOpen || !now.Before(w.OpenAt)
}

// TimeUntilOpen is the remaining wait, never negative.
func (w Window) TimeUntilOpen(now time.Time) time.Duration {
	if d := w.OpenAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// SettingsReader loads the stored schedule.
type SettingsReader interface {
	Get(ctx context.Context) (*model.ReservationSettings, error)
}

// Gate answers whether the route layer may call CreateReservation. The admin
// assignment path does not consult it.
type Gate struct {
	settings SettingsReader
	now      func() time.Time
}

func NewGate(settings SettingsReader, now func() time.Time) *Gate {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Gate{settings: settings, now: now}
}

// GateStatus is the evaluated window at a point in time.
type GateStatus struct {
	Open          bool          `json:"is_open_now"`
	OpenAt        time.Time     `json:"open_date_time"`
	ManualOpen    bool          `json:"is_reservation_open"`
	TimeUntilOpen time.Duration `json:"-"`
	Description   string        `json:"description"`
}

// Status evaluates the window against the current clock.
func (g *Gate) Status(ctx context.Context) (GateStatus, error) {
	s, err := g.settings.Get(ctx)
	if err != nil {
		return GateStatus{}, err
	}
	now := g.now()
	w := WindowFromSettings(s)
	return GateStatus{
		Open:          w.IsOpenNow(now),
		OpenAt:        w.OpenAt,
		ManualOpen:    w.ManualOpen,
		TimeUntilOpen: w.TimeUntilOpen(now),
		Description:   s.Description,
	}, nil
}

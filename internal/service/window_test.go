package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/dorm-reservation/internal/model"
	"github.com/iliyamo/dorm-reservation/internal/repository"
)

func TestWindow(t *testing.T) {
	openAt := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		w         Window
		now       time.Time
		open      bool
		untilOpen time.Duration
	}{
		{"before open", Window{OpenAt: openAt}, openAt.Add(-90 * time.Minute), false, 90 * time.Minute},
		{"exactly at open", Window{OpenAt: openAt}, openAt, true, 0},
		{"after open", Window{OpenAt: openAt}, openAt.Add(time.Hour), true, 0},
		{"manual override", Window{OpenAt: openAt, ManualOpen: true}, openAt.Add(-time.Hour), true, time.Hour},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.open, tc.w.IsOpenNow(tc.now))
			assert.Equal(t, tc.untilOpen, tc.w.TimeUntilOpen(tc.now))
		})
	}
}

type staticSettings struct {
	s   *model.ReservationSettings
	err error
}

func (s staticSettings) Get(context.Context) (*model.ReservationSettings, error) { return s.s, s.err }

func TestGate_Status(t *testing.T) {
	openAt := fixedNow.Add(2 * time.Hour)
	g := NewGate(staticSettings{s: &model.ReservationSettings{OpenAt: openAt, Description: "spring term"}}, func() time.Time { return fixedNow })

	st, err := g.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Open)
	assert.Equal(t, 2*time.Hour, st.TimeUntilOpen)
	assert.Equal(t, openAt, st.OpenAt)
	assert.Equal(t, "spring term", st.Description)

	g = NewGate(staticSettings{err: repository.ErrNotFound}, nil)
	_, err = g.Status(context.Background())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

package attendance

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/kozaktomas/face-attendance/internal/logging"
)

// StartScheduler runs CloseExpired every interval until the returned stop
// function is called.
func (m *Manager) StartScheduler(interval time.Duration) (func(), error) {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	_, err := s.Every(interval).Do(func() {
		if n := m.CloseExpired(context.Background()); n > 0 {
			logging.Info().Int("sessions", n).Msg("auto-closed expired sessions")
		}
	})
	if err != nil {
		return nil, err
	}

	s.StartAsync()
	return s.Stop, nil
}

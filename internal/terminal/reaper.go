package terminal

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// RoomSizer reports how many connections currently belong to a scope.
type RoomSizer interface {
	ScopeSize(scope string) int
}

// ReapIdle kills the sessions of every scope that has no members left and
// returns the number of sessions killed.
func (m *Multiplexer) ReapIdle(sizer RoomSizer) int {
	killed := 0
	for _, scope := range m.Scopes() {
		if sizer.ScopeSize(scope) > 0 {
			continue
		}
		n := m.KillScope(scope)
		if n > 0 {
			m.log.Infof("reaped %d terminal(s) of empty scope %s", n, scope)
		}
		killed += n
	}
	return killed
}

// ScheduleReaper registers ReapIdle on c using a cron spec such as
// "@every 1m".
func (m *Multiplexer) ScheduleReaper(c *cron.Cron, spec string, sizer RoomSizer) error {
	if _, err := c.AddFunc(spec, func() { m.ReapIdle(sizer) }); err != nil {
		return fmt.Errorf("schedule terminal reaper: %w", err)
	}
	return nil
}

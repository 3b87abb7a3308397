package memory

import (
	"context"
	"time"
)

// StartJanitor runs CleanupOldMemories every interval until ctx is done.
// Retention is otherwise only enforced when a caller asks for it.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CleanupOldMemories()
			}
		}
	}()
}

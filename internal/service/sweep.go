package service

import (
	"context"
	"log"
	"time"
)

const (
	cleanupInterval  = time.Hour
	dispatchInterval = 5 * time.Minute
)

// RunSweeps drives the periodic background work: dispatching scheduled calls
// and reclaiming dead session rows. Blocks until ctx is cancelled.
func (s *Service) RunSweeps(ctx context.Context) {
	dispatch := time.NewTicker(dispatchInterval)
	defer dispatch.Stop()
	cleanup := time.NewTicker(cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-dispatch.C:
			n, err := s.ProcessDueCallRequests(ctx)
			if err != nil {
				log.Printf("due-call sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("due-call sweep dispatched %d request(s)", n)
			}
		case <-cleanup.C:
			n, err := s.CleanupExpiredSessions(ctx)
			if err != nil {
				log.Printf("session cleanup failed: %v", err)
			} else if n > 0 {
				log.Printf("session cleanup removed %d row(s)", n)
			}
		}
	}
}

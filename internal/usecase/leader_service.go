// internal/usecase/leader_service.go
package usecase

import (
	"context"
	"log/slog"
	"time"

	"batch-dispatch/internal/domain"
	"batch-dispatch/internal/reaper"
)

// LeaderService keeps exactly one gateway running the queue reaper. Each
// node campaigns for leadership; the winner sweeps until it loses the
// session, then everyone campaigns again.
type LeaderService struct {
	leaderManager domain.LeaderElectionManager
	reaper        *reaper.Reaper
	nodeID        string
	logger        *slog.Logger
}

func NewLeaderService(leaderManager domain.LeaderElectionManager, r *reaper.Reaper, nodeID string, logger *slog.Logger) *LeaderService {
	return &LeaderService{
		leaderManager: leaderManager,
		reaper:        r,
		nodeID:        nodeID,
		logger:        logger.With("component", "leader-service", "node_id", nodeID),
	}
}

// Start campaigns in a loop until ctx is cancelled. Blocking.
func (s *LeaderService) Start(ctx context.Context) error {
	s.logger.Info("leader service starting")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("leader service shutting down")
			return ctx.Err()
		default:
			lostLeadershipCh, err := s.leaderManager.Campaign(ctx)
			if err != nil {
				s.logger.Error("error during leadership campaign, retrying in 5 seconds", "error", err)
				select {
				case <-time.After(5 * time.Second):
				case <-ctx.Done():
					return ctx.Err()
				}
				continue
			}

			s.logger.Info("became the leader, starting the queue reaper")
			reapCtx, cancel := context.WithCancel(ctx)
			go func() {
				if err := s.reaper.Start(reapCtx); err != nil && err != context.Canceled {
					s.logger.Error("reaper stopped unexpectedly", "error", err)
				}
			}()

			select {
			case <-lostLeadershipCh:
				s.logger.Warn("lost leadership, stopping the queue reaper")
				cancel()
			case <-ctx.Done():
				cancel()
				return ctx.Err()
			}
		}
	}
}

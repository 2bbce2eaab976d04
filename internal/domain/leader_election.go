package domain

import "context"

// LeaderElectionManager elects one gateway node to run singleton duties
// such as the queue reaper.
type LeaderElectionManager interface {
	Campaign(ctx context.Context) (<-chan struct{}, error)
	Resign(ctx context.Context) error
	IsLeader() bool
}

package coordination

import "context"

// Coordinator guards against concurrent schedulers in a multi-instance
// deployment. Without it two schedulers may double-lock jobs (the system
// degrades to at-least-once execution).
type Coordinator interface {
	// NewElection creates an election instance for a campaign name.
	NewElection(name string) Election

	// Close terminates the coordinator connection.
	Close() error
}

// Election is a single leader-election campaign.
type Election interface {
	// Campaign blocks until leadership is acquired or ctx is cancelled.
	Campaign(ctx context.Context, value string) error

	// Resign releases leadership.
	Resign(ctx context.Context) error

	// Leader returns the current leader's value.
	Leader(ctx context.Context) (string, error)
}

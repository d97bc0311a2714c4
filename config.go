package jobservice

import "time"

// Config holds configuration for the job executor and its acquisition loops.
type Config struct {
	// LockOwner identifies this executor instance in job leases. Empty
	// means a random owner is generated at startup.
	LockOwner string

	// AsyncJobLockDuration is the lease length stamped on acquired
	// async (ready) jobs.
	AsyncJobLockDuration time.Duration

	// TimerLockDuration is the lease length stamped on acquired timer jobs
	// while they are moved to the ready table.
	TimerLockDuration time.Duration

	// MaxJobsPerAcquisition is the batch size of a single acquisition query.
	MaxJobsPerAcquisition int

	// PollInterval is the idle wait between acquisition passes when no
	// jobs were due. The executor's backoff strategy stretches this wait
	// on consecutive empty passes.
	PollInterval time.Duration

	// ResetExpiredInterval is how often the expired-lock sweep runs.
	ResetExpiredInterval time.Duration

	// ResetExpiredPageSize bounds one sweep pass.
	ResetExpiredPageSize int

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		AsyncJobLockDuration:  5 * time.Minute,
		TimerLockDuration:     5 * time.Minute,
		MaxJobsPerAcquisition: 512,
		PollInterval:          10 * time.Second,
		ResetExpiredInterval:  time.Minute,
		ResetExpiredPageSize:  3,
		ShutdownTimeout:       30 * time.Second,
	}
}

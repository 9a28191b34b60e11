package models

import "time"

const (
	// DefaultMaxAttempts is the retry ceiling: an item is abandoned after this many failed deliveries.
	DefaultMaxAttempts = 3

	// DefaultRetryBaseDelay is multiplied by the retry count to get the next delay.
	DefaultRetryBaseDelay = 2 * time.Second

	// DefaultFlushConcurrency bounds parallel deliveries during a flush.
	DefaultFlushConcurrency = 8

	// DefaultProbeInterval is how often the connectivity monitor pings the remote API.
	DefaultProbeInterval = 15 * time.Second

	// DefaultProbeFailureThreshold consecutive failed pings mark the remote offline.
	DefaultProbeFailureThreshold = 2

	// StoreFailoverRecheck is how long a failed primary store stays bypassed.
	StoreFailoverRecheck = time.Minute
)

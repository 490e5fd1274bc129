// Package broker is the routing core: the accept loop, session registry,
// frame dispatch, and fan-out to subscribed peers.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package broker

import "time"

// Config holds the broker's tunables, surfaced as cmd/routingbrokerd flags.
type Config struct {
	ListenAddr    string
	MaxSessions   int           // includes reserved tokens 0 and 1; default 128
	MaxQueueDepth int           // per-session send-queue cap; 0 = unbounded
	SelfEcho      bool          // whether a publisher receives its own message
	IdleTeardown  time.Duration // 0 disables idle-session eviction
	AcceptBurst   int           // accept-loop throttle burst (golang.org/x/time/rate)
	AcceptRatePS  float64       // accept-loop throttle, accepts/sec
}

// DefaultConfig returns the broker's stock settings.
func DefaultConfig() Config {
	return Config{
		ListenAddr:    "127.0.0.1:7890",
		MaxSessions:   128,
		MaxQueueDepth: 1024,
		SelfEcho:      true,
		IdleTeardown:  0,
		AcceptBurst:   16,
		AcceptRatePS:  200,
	}
}

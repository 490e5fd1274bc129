// Package mono provides monotonic time for activity tracking and
// housekeeping ticks. Linking directly against the runtime's nanotime via
// go:linkname would save a few ns per call but is fragile across Go
// versions, and nothing in this broker calls NanoTime on a hot per-byte
// path.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import "time"

var start = time.Now()

// NanoTime returns a monotonic nanosecond counter suitable for computing
// durations (LastActivity deltas, housekeeping ticks). Not wall-clock time.
func NanoTime() int64 { return int64(time.Since(start)) }

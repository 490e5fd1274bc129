//go:build debug

// Package debug provides compile-time-toggled invariant assertions: a
// single entry point (Assert) wired at the broker's decode/session/
// registry boundaries, compiled out unless built with the debug tag.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import "fmt"

func Assert(cond bool, args ...any) {
	if !cond {
		panic(fmt.Sprintln(append([]any{"assertion failed:"}, args...)...))
	}
}

// Package cos provides small low-level types and utilities shared across
// the broker's packages.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/biomine3000/routingbroker/internal/nlog"
)

// retriable conn errs — fatal-vs-transient classification per the broker's
// I/O error taxonomy: a retriable error on one socket never tears down the
// listener or any other session.
func IsErrConnectionRefused(err error) bool { return errors.Is(err, syscall.ECONNREFUSED) }
func IsErrConnectionReset(err error) bool   { return errors.Is(err, syscall.ECONNRESET) }
func IsErrBrokenPipe(err error) bool        { return errors.Is(err, syscall.EPIPE) }

func IsRetriableConnErr(err error) bool {
	return IsErrConnectionRefused(err) || IsErrConnectionReset(err) || IsErrBrokenPipe(err)
}

// IsEOF reports whether err is (or wraps) io.EOF, i.e. a clean peer hangup.
func IsEOF(err error) bool { return errors.Is(err, io.EOF) }

//
// Abnormal Termination
//

const fatalPrefix = "FATAL ERROR: "

// +log
func ExitLogf(f string, a ...any) {
	msg := fmt.Sprintf(fatalPrefix+f, a...)
	if flag.Parsed() {
		nlog.ErrorDepth(1, msg+"\n")
		nlog.Flush(true)
	}
	_exit(msg)
}

func _exit(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

// Plural is the usual english pluralization helper used when summarizing
// counts in log lines (e.g. "3 sessions").
func Plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

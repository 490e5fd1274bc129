// Package nlog is the broker's own severity-leveled, file-rotating logger
// in the glog tradition. It favors a plain bufio.Writer per severity over
// pooled fixed-size buffers: the broker's logging volume
// (per-connect/disconnect/error) never gets hot enough for the pooling
// machinery to pay for itself.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/biomine3000/routingbroker/internal/mono"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var sevChar = "IWE"

var (
	MaxSize int64 = 4 * 1024 * 1024

	toStderr     bool
	alsoToStderr bool

	logDir  string
	aisrole string
	title   string

	host, _ = os.Hostname()
	pid     = os.Getpid()

	once sync.Once

	loggers [3]*logger
)

type logger struct {
	mu      sync.Mutex
	sev     severity
	file    *os.File
	w       *bufio.Writer
	written int64
	last    int64
}

func InitFlags(flset *flag.FlagSet) {
	flset.BoolVar(&toStderr, "logtostderr", false, "log to standard error instead of files")
	flset.BoolVar(&alsoToStderr, "alsologtostderr", false, "log to standard error as well as files")
}

func SetLogDirRole(dir, role string) { logDir, aisrole = dir, role }
func SetTitle(s string)              { title = s }

func InfoLogName() string { return sname() + ".INFO" }
func ErrLogName() string  { return sname() + ".ERROR" }

func InfoDepth(depth int, args ...any)    { do(sevInfo, depth, "%s", sprintln(args...)) }
func Infoln(args ...any)                  { do(sevInfo, 0, "%s", sprintln(args...)) }
func Infof(format string, args ...any)    { do(sevInfo, 0, format, args...) }
func Warningln(args ...any)               { do(sevWarn, 0, "%s", sprintln(args...)) }
func Warningf(format string, args ...any) { do(sevWarn, 0, format, args...) }
func ErrorDepth(depth int, args ...any)   { do(sevErr, depth, "%s", sprintln(args...)) }
func Errorln(args ...any)                 { do(sevErr, 0, "%s", sprintln(args...)) }
func Errorf(format string, args ...any)   { do(sevErr, 0, format, args...) }

// sprintln formats args as fmt.Sprintln does, minus the trailing newline
// that format1 appends itself.
func sprintln(args ...any) string { return strings.TrimSuffix(fmt.Sprintln(args...), "\n") }

func ensureInit() {
	once.Do(func() {
		for s := sevInfo; s <= sevErr; s++ {
			loggers[s] = &logger{sev: s}
		}
	})
}

func do(sev severity, depth int, format string, args ...any) {
	ensureInit()
	line := format1(sev, depth+1, format, args...)

	if toStderr {
		os.Stderr.WriteString(line)
		return
	}
	if alsoToStderr || sev >= sevWarn {
		os.Stderr.WriteString(line)
	}
	// fan severities >= warning into the ERROR log as well, glog-style
	if sev >= sevWarn {
		loggers[sevErr].write(line)
	}
	loggers[sevInfo].write(line)
}

func (l *logger) write(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		if err := l.open(time.Now()); err != nil {
			os.Stderr.WriteString(line)
			return
		}
	}
	n, _ := l.w.WriteString(line)
	l.written += int64(n)
	l.last = mono.NanoTime()
	if l.written >= MaxSize {
		l.rotate(time.Now())
	}
}

func (l *logger) open(now time.Time) error {
	name, link := logfname(sevText(l.sev), now)
	dir := logDir
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	l.file = f
	l.w = bufio.NewWriterSize(f, 32*1024)
	linkPath := filepath.Join(dir, link)
	os.Remove(linkPath)
	os.Symlink(name, linkPath)
	s := fmt.Sprintf("Started up at %s, host %s, %s for %s/%s\n",
		now.Format("2006/01/02 15:04:05"), host, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	l.w.WriteString(s)
	if title != "" {
		l.w.WriteString(title + "\n")
	}
	return nil
}

func (l *logger) rotate(now time.Time) {
	l.w.Flush()
	l.file.Close()
	l.file = nil
	l.written = 0
	l.open(now)
}

func (l *logger) flush() {
	l.mu.Lock()
	if l.w != nil {
		l.w.Flush()
	}
	l.mu.Unlock()
}

func Flush(exit ...bool) {
	ensureInit()
	for _, l := range loggers {
		l.flush()
	}
	if len(exit) > 0 && exit[0] {
		for _, l := range loggers {
			l.mu.Lock()
			if l.file != nil {
				l.file.Close()
			}
			l.mu.Unlock()
		}
	}
}

func sevText(s severity) string {
	switch s {
	case sevWarn, sevErr:
		return "ERROR"
	default:
		return "INFO"
	}
}

func sname() string {
	role := aisrole
	if role == "" {
		role = "routingbroker"
	}
	return role
}

func logfname(tag string, t time.Time) (name, link string) {
	s := sname()
	name = fmt.Sprintf("%s.%s.%s.%02d%02d-%02d%02d%02d.%d",
		s, host, tag, t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), pid)
	return name, s + "." + tag
}

func format1(sev severity, depth int, format string, args ...any) string {
	var b strings.Builder
	b.WriteByte(sevChar[sev])
	b.WriteByte(' ')
	b.WriteString(time.Now().Format("15:04:05.000000"))
	b.WriteByte(' ')
	if _, fn, ln, ok := runtime.Caller(depth + 2); ok {
		if idx := strings.LastIndexByte(fn, '/'); idx >= 0 {
			fn = fn[idx+1:]
		}
		b.WriteString(fn)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(ln))
		b.WriteByte(' ')
	}
	if format == "" {
		fmt.Fprintln(&b, args...)
	} else {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}
	return b.String()
}

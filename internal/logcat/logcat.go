// Copyright (C) 2026 Droidops B.V.
// License: AGPL-3.0-only

// Package logcat parses the device log in "long" format, where each
// record is a bracketed header line followed by one or more message
// lines.
package logcat

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/droidops/deployctl/internal/deploy"
)

// Priority is a log record's severity.
type Priority int

const (
	Verbose Priority = iota
	Debug
	Info
	Warn
	Error
	Assert
)

func (p Priority) String() string {
	switch p {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	case Assert:
		return "assert"
	default:
		return "verbose"
	}
}

// priorityFor maps a header letter. F is the fatal form of assert.
func priorityFor(letter string) Priority {
	switch letter {
	case "D":
		return Debug
	case "I":
		return Info
	case "W":
		return Warn
	case "E":
		return Error
	case "A", "F":
		return Assert
	default:
		return Verbose
	}
}

// Message is one log record line with its header fields.
type Message struct {
	Timestamp time.Time
	PID       int
	TID       int64
	Priority  Priority
	Tag       string
	Text      string
}

// Header line of a "long" record, e.g.
// [ 08-29 14:15:02.345  1234: 0x21c I/ActivityManager ]
var headerPattern = regexp.MustCompile(
	`^\[\s(\d\d-\d\d\s\d\d:\d\d:\d\d\.\d+)\s+(\d*):\s*(\S+)\s([VDIWEAF])/(.*)\]$`)

const headerTimeLayout = "01-02 15:04:05.000"

type header struct {
	timestamp time.Time
	pid       int
	tid       int64
	priority  Priority
	tag       string
}

func parseHeader(line string) (header, bool) {
	groups := headerPattern.FindStringSubmatch(line)
	if groups == nil {
		return header{}, false
	}
	ts, err := time.Parse(headerTimeLayout, groups[1])
	if err != nil {
		ts = time.Time{}
	}
	pid, _ := strconv.Atoi(groups[2])
	return header{
		timestamp: ts,
		pid:       pid,
		tid:       parseTID(groups[3]),
		priority:  priorityFor(groups[4]),
		tag:       strings.TrimSpace(groups[5]),
	}, true
}

// parseTID accepts both decimal and hex thread ids; some device builds
// print the tid in hex.
func parseTID(s string) int64 {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	s = strings.TrimPrefix(s, "0x")
	if n, err := strconv.ParseInt(s, 16, 64); err == nil {
		return n
	}
	return -1
}

// Receiver assembles records from a long-format log stream. Message
// lines between headers inherit the preceding header; lines before the
// first header are dropped.
type Receiver struct {
	handle    func(Message)
	cancelled func() bool
	current   *header
}

// NewReceiver calls handle once per message line. cancelled may be nil.
func NewReceiver(handle func(Message), cancelled func() bool) *Receiver {
	return &Receiver{handle: handle, cancelled: cancelled}
}

func (r *Receiver) ProcessLine(line string) {
	trimmed := strings.TrimRight(line, "\r")
	if h, ok := parseHeader(strings.TrimSpace(trimmed)); ok {
		r.current = &h
		return
	}
	if r.current == nil || strings.TrimSpace(trimmed) == "" {
		return
	}
	r.handle(Message{
		Timestamp: r.current.timestamp,
		PID:       r.current.pid,
		TID:       r.current.tid,
		Priority:  r.current.priority,
		Tag:       r.current.tag,
		Text:      trimmed,
	})
}

func (r *Receiver) Cancelled() bool {
	if r.cancelled == nil {
		return false
	}
	return r.cancelled()
}

var _ deploy.LineReceiver = (*Receiver)(nil)

// Stream tails the device log until the context ends or cancelled
// reports true.
func Stream(ctx context.Context, bridge deploy.DeviceBridge, serial string, handle func(Message), cancelled func() bool) error {
	return bridge.Shell(ctx, serial, "logcat -v long", NewReceiver(handle, cancelled))
}

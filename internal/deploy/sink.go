// Copyright (C) 2026 Droidops B.V.
// License: AGPL-3.0-only

package deploy

import (
	"fmt"
	"io"
	"strings"
)

// StreamKind tags an output line as regular progress or error text.
type StreamKind int

const (
	Stdout StreamKind = iota
	Stderr
)

// OutputSink receives human-readable progress lines as they occur.
// Implementations must be safe for concurrent use: the orchestrator, the
// installer and the event watcher all write from their own goroutines.
type OutputSink interface {
	Append(text string, kind StreamKind)
}

// ConsoleSink writes progress to a pair of writers, one per stream.
type ConsoleSink struct {
	Out io.Writer
	Err io.Writer
}

func (s *ConsoleSink) Append(text string, kind StreamKind) {
	w := s.Out
	if kind == Stderr {
		w = s.Err
	}
	if w == nil {
		return
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	_, _ = io.WriteString(w, text)
}

// LogSink mirrors progress into the structured log, one event per line.
type LogSink struct {
	Env Env
}

func (s *LogSink) Append(text string, kind StreamKind) {
	stream := "stdout"
	if kind == Stderr {
		stream = "stderr"
	}
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		if line == "" {
			continue
		}
		logEvent(s.Env, "run output", "stream", stream, "line", line)
	}
}

// MultiSink fans one line out to several sinks.
type MultiSink []OutputSink

func (s MultiSink) Append(text string, kind StreamKind) {
	for _, sink := range s {
		sink.Append(text, kind)
	}
}

func sinkf(sink OutputSink, kind StreamKind, format string, args ...any) {
	if sink == nil {
		return
	}
	sink.Append(fmt.Sprintf(format, args...), kind)
}

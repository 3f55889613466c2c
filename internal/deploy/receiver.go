// Copyright (C) 2026 Droidops B.V.
// License: AGPL-3.0-only

package deploy

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	failurePattern    = regexp.MustCompile(`^Failure\s+\[(.*)\]$`)
	typedErrorPattern = regexp.MustCompile(`^Error\s+[Tt]ype\s+(\d+).*$`)
)

const errorPrefix = "Error"

// installReceiver accumulates package-manager output and classifies it.
// errorType stays at noError on success, becomes the parsed numeric type
// for "Error type N" lines, or untypedError for a bare "Error" line.
type installReceiver struct {
	state *RunState

	errorType      int
	failureMessage string
	output         strings.Builder
}

func newInstallReceiver(state *RunState) *installReceiver {
	return &installReceiver{state: state, errorType: noError}
}

func (r *installReceiver) ProcessLine(line string) {
	if len(line) > 0 {
		if m := failurePattern.FindStringSubmatch(line); m != nil {
			r.failureMessage = m[1]
		}
		if m := typedErrorPattern.FindStringSubmatch(line); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				r.errorType = n
			}
		} else if strings.HasPrefix(line, errorPrefix) && r.errorType == noError {
			r.errorType = untypedError
		}
	}
	r.output.WriteString(line)
	r.output.WriteByte('\n')
}

func (r *installReceiver) Cancelled() bool {
	return r.state != nil && r.state.Stopped()
}

func (r *installReceiver) success() bool {
	return r.errorType == noError && r.failureMessage == ""
}

// notReady reports the transient condition the installer retries on.
// Error type 1 and untyped errors are historically how an Android package
// manager that has not finished booting answers; the distinction between
// type 1 and other typed errors is preserved as observed, not inferred.
func (r *installReceiver) notReady() bool {
	return r.errorType == 1 || r.errorType == untypedError
}

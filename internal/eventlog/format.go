// Package eventlog reads and writes per-job scheduler event logs in the
// HTCondor user log text format.
//
// A log is a sequence of event blocks:
//
//	000 (012.000.000) 2024-05-01 12:00:00 Job submitted from host: <10.0.0.1:9618>
//	...
//	005 (012.000.000) 2024-05-01 12:03:10 Job terminated.
//		(1) Normal termination (return value 0)
//	...
//
// Each block starts with a header line carrying the numeric event code,
// the job's cluster.proc.subproc triple and a timestamp, continues with
// indented body lines and ends with a line holding exactly "...".
package eventlog

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/me/htjob/pkg/model"
)

// blockTerminator ends every event block.
const blockTerminator = "..."

// timeLayout is the timestamp layout written by Format.
const timeLayout = "2006-01-02 15:04:05"

var headerRe = regexp.MustCompile(
	`^(\d{3}) \((\d+)\.(\d+)\.(\d+)\) ` +
		`(\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?|\d{2}/\d{2} \d{2}:\d{2}:\d{2})` +
		`\s*(.*)$`)

var (
	returnValueRe = regexp.MustCompile(`\(return value (-?\d+)\)`)
	signalRe      = regexp.MustCompile(`\(signal (\d+)\)`)
	hostRe        = regexp.MustCompile(`host: (<[^>]*>|\S+)`)
)

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.999999999-0700",
}

// parseTime accepts the ISO-style timestamps current schedulers write and
// the legacy "MM/DD HH:MM:SS" form, which carries no year.
func parseTime(s string) (time.Time, error) {
	if strings.Contains(s, "/") {
		t, err := time.ParseInLocation("01/02 15:04:05", s, time.Local)
		if err != nil {
			return time.Time{}, err
		}
		return t.AddDate(time.Now().Year(), 0, 0), nil
	}
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.ParseInLocation(layout, s, time.Local)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// parseBlock turns the lines of one event block (terminator excluded)
// into an event.
func parseBlock(lines []string) (model.LifecycleEvent, error) {
	if len(lines) == 0 {
		return model.LifecycleEvent{}, fmt.Errorf("empty event block")
	}
	m := headerRe.FindStringSubmatch(lines[0])
	if m == nil {
		return model.LifecycleEvent{}, fmt.Errorf("malformed event header %q", lines[0])
	}

	code, _ := strconv.Atoi(m[1])
	cluster, _ := strconv.Atoi(m[2])
	proc, _ := strconv.Atoi(m[3])
	subproc, _ := strconv.Atoi(m[4])
	ts, err := parseTime(m[5])
	if err != nil {
		return model.LifecycleEvent{}, fmt.Errorf("event timestamp %q: %w", m[5], err)
	}

	ev := model.LifecycleEvent{
		Type:    model.EventType(code),
		Cluster: cluster,
		Proc:    proc,
		Subproc: subproc,
		Time:    ts,
		Summary: strings.TrimSpace(m[6]),
	}
	for _, l := range lines[1:] {
		if l = strings.TrimSpace(l); l != "" {
			ev.Body = append(ev.Body, l)
		}
	}
	ev.Attrs = extractAttrs(ev)
	return ev, nil
}

// extractAttrs pulls the few details callers care about out of the
// free-form summary and body text.
func extractAttrs(ev model.LifecycleEvent) map[string]string {
	attrs := make(map[string]string)
	switch ev.Type {
	case model.EventExecute:
		if m := hostRe.FindStringSubmatch(ev.Summary); m != nil {
			attrs[model.AttrHost] = m[1]
		}
	case model.EventJobTerminated:
		for _, l := range ev.Body {
			if m := returnValueRe.FindStringSubmatch(l); m != nil {
				attrs[model.AttrReturnValue] = m[1]
				break
			}
			if m := signalRe.FindStringSubmatch(l); m != nil {
				attrs[model.AttrSignal] = m[1]
				break
			}
		}
	case model.EventJobHeld:
		if len(ev.Body) > 0 {
			attrs[model.AttrHoldReason] = ev.Body[0]
		}
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

// parseBlocks parses every complete event block in data. It returns the
// events in order and the number of bytes consumed; bytes after the last
// terminator line belong to a block still being written and are not
// consumed. Malformed blocks are consumed and dropped.
func parseBlocks(data []byte) ([]model.LifecycleEvent, int) {
	var (
		events   []model.LifecycleEvent
		block    []string
		consumed int
		pos      int
	)
	for pos < len(data) {
		nl := bytes.IndexByte(data[pos:], '\n')
		if nl < 0 {
			break // partial line
		}
		line := strings.TrimRight(string(data[pos:pos+nl]), "\r")
		pos += nl + 1

		if line == blockTerminator {
			if ev, err := parseBlock(block); err == nil {
				events = append(events, ev)
			}
			block = block[:0]
			consumed = pos
			continue
		}
		if len(block) == 0 && strings.TrimSpace(line) == "" {
			continue
		}
		block = append(block, line)
	}
	return events, consumed
}

// Format renders ev as one event block, terminator included.
func Format(ev model.LifecycleEvent) []byte {
	var b bytes.Buffer
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	fmt.Fprintf(&b, "%03d (%03d.%03d.%03d) %s %s\n",
		int(ev.Type), ev.Cluster, ev.Proc, ev.Subproc, ts.Format(timeLayout), ev.Summary)
	for _, l := range ev.Body {
		fmt.Fprintf(&b, "\t%s\n", l)
	}
	b.WriteString(blockTerminator + "\n")
	return b.Bytes()
}

// Package schedd talks to the batch scheduler: it submits job
// descriptions and applies hold/release/remove actions to jobs selected
// by a constraint expression.
package schedd

import (
	"context"
	"fmt"
	"strings"

	"github.com/me/htjob/pkg/model"
)

// Scheduler is the external batch scheduler as seen by htjob.
type Scheduler interface {
	// Name identifies the backend ("condor", "local").
	Name() string

	// Submit queues one job described by desc and returns its identifier.
	// The call is atomic: either a job is queued or an error is returned.
	Submit(ctx context.Context, desc *Description) (model.JobID, error)

	// Act applies action to every job matching constraint.
	Act(ctx context.Context, action Action, constraint string) error
}

// Action is a scheduler-side operation on queued jobs.
type Action int

const (
	ActionHold Action = iota
	ActionRelease
	ActionRemove
)

// String returns the lowercase action name.
func (a Action) String() string {
	switch a {
	case ActionHold:
		return "hold"
	case ActionRelease:
		return "release"
	case ActionRemove:
		return "remove"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// ParseAction resolves an action name. "rm" is accepted for remove.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(s) {
	case "hold":
		return ActionHold, nil
	case "release":
		return ActionRelease, nil
	case "remove", "rm":
		return ActionRemove, nil
	}
	return 0, fmt.Errorf("unknown action %q", s)
}

// Submit description keys used by htjob.
const (
	KeyExecutable          = "executable"
	KeyArguments           = "arguments"
	KeyInitialDir          = "initialdir"
	KeyTransferInputFiles  = "transfer_input_files"
	KeyTransferOutputFiles = "transfer_output_files"
	KeyOutput              = "output"
	KeyError               = "error"
	KeyLog                 = "log"
	KeyShouldTransferFiles = "should_transfer_files"
	KeyWhenToTransfer      = "when_to_transfer_output"
)

// Description is an ordered key/value submit description. Keys are case
// insensitive and stored lowercase.
type Description struct {
	keys   []string
	values map[string]string
}

// NewDescription returns an empty description.
func NewDescription() *Description {
	return &Description{values: make(map[string]string)}
}

// Set assigns key. Re-setting a key keeps its original position.
func (d *Description) Set(key, value string) *Description {
	key = strings.ToLower(strings.TrimSpace(key))
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
	return d
}

// Get returns the value for key.
func (d *Description) Get(key string) (string, bool) {
	v, ok := d.values[strings.ToLower(key)]
	return v, ok
}

// Keys returns the keys in insertion order.
func (d *Description) Keys() []string {
	return append([]string(nil), d.keys...)
}

// Len returns the number of keys.
func (d *Description) Len() int {
	return len(d.keys)
}

// Validate checks the fields every submission needs.
func (d *Description) Validate() error {
	for _, required := range []string{KeyExecutable, KeyLog} {
		if v, ok := d.values[required]; !ok || strings.TrimSpace(v) == "" {
			return fmt.Errorf("submit description: %s is required", required)
		}
	}
	for _, k := range d.keys {
		if strings.ContainsAny(d.values[k], "\r\n") {
			return fmt.Errorf("submit description: value of %s contains a newline", k)
		}
	}
	return nil
}

// String renders a submit file queueing one job.
func (d *Description) String() string {
	var b strings.Builder
	for _, k := range d.keys {
		fmt.Fprintf(&b, "%s = %s\n", k, d.values[k])
	}
	b.WriteString("queue 1\n")
	return b.String()
}

// SplitList splits a comma separated file list, trimming blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// JoinList renders a file list for transfer_input_files and friends.
func JoinList(items []string) string {
	return strings.Join(items, ", ")
}

// QuoteArguments renders args in the scheduler's "new" argument syntax:
// the whole list is double quoted, arguments containing whitespace or
// single quotes are single quoted, and embedded quote characters are
// doubled.
func QuoteArguments(args []string) string {
	parts := make([]string, len(args))
	for i, a := range args {
		a = strings.ReplaceAll(a, `"`, `""`)
		if a == "" || strings.ContainsAny(a, " \t'") {
			a = "'" + strings.ReplaceAll(a, "'", "''") + "'"
		}
		parts[i] = a
	}
	return `"` + strings.Join(parts, " ") + `"`
}

// SplitArguments parses an arguments value written in either the new
// (double quoted) or the old (whitespace separated) syntax.
func SplitArguments(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, `"`) {
		return strings.Fields(s), nil
	}
	if len(s) < 2 || !strings.HasSuffix(s, `"`) {
		return nil, fmt.Errorf("unterminated arguments %q", s)
	}
	body := strings.ReplaceAll(s[1:len(s)-1], `""`, `"`)

	var (
		args    []string
		cur     strings.Builder
		inQuote bool
		started bool
	)
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c == '\'':
			if inQuote && i+1 < len(body) && body[i+1] == '\'' {
				cur.WriteByte('\'')
				i++
				continue
			}
			inQuote = !inQuote
			started = true
		case (c == ' ' || c == '\t') && !inQuote:
			if started {
				args = append(args, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteByte(c)
			started = true
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated single quote in arguments %q", s)
	}
	if started {
		args = append(args, cur.String())
	}
	return args, nil
}

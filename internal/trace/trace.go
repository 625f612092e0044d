// Package trace records signing operations in golang.org/x/net/trace, and
// mirrors every event to the process log.
//
// Each Trace gets a ULID of its own, which is also what the sign log uses
// to identify the operation.
package trace

import (
	"fmt"
	"strconv"

	"blitiri.com.ar/go/log"

	"github.com/oklog/ulid/v2"
	nettrace "golang.org/x/net/trace"
)

// Canonicalization reports one event per skipped header, which can easily
// go over the x/net/trace default of 10.
const maxEvents = 50

// A Trace follows a single signing operation.
type Trace struct {
	id     string
	family string
	t      nettrace.Trace
}

// New starts a trace for an operation of the given family.
func New(family string) *Trace {
	id := ulid.Make().String()
	t := &Trace{
		id:     id,
		family: family,
		t:      nettrace.New(family, id),
	}
	t.t.SetMaxEvents(maxEvents)
	return t
}

// ID of the operation.
func (t *Trace) ID() string {
	return t.id
}

func (t *Trace) String() string {
	return t.family + " " + t.id
}

// Printf records an informational event.
func (t *Trace) Printf(format string, a ...interface{}) {
	msg := fmt.Sprintf(format, a...)
	t.t.LazyPrintf("%s", msg)
	logEvent(log.Info, t, msg)
}

// Debugf records an event that is only logged in verbose mode.
func (t *Trace) Debugf(format string, a ...interface{}) {
	msg := fmt.Sprintf(format, a...)
	t.t.LazyPrintf("%s", msg)
	logEvent(log.Debug, t, msg)
}

// Errorf records a failure built from the format, and returns it.
func (t *Trace) Errorf(format string, a ...interface{}) error {
	return t.fail(fmt.Errorf(format, a...))
}

// Error records err as the failure of the operation, and returns it
// unchanged.
func (t *Trace) Error(err error) error {
	return t.fail(err)
}

func (t *Trace) fail(err error) error {
	t.t.SetError()
	t.t.LazyPrintf("error: %v", err)
	logEvent(log.Info, t, "error: "+err.Error())
	return err
}

// Finish the trace. It should not be changed after this is called.
func (t *Trace) Finish() {
	t.t.Finish()
}

// EventLog follows long-lived objects, like the sign log, across many
// operations.
type EventLog struct {
	name string
	e    nettrace.EventLog
}

// NewEventLog returns a new EventLog.
func NewEventLog(family, title string) *EventLog {
	return &EventLog{
		name: family + " " + title,
		e:    nettrace.NewEventLog(family, title),
	}
}

func (e *EventLog) String() string {
	return e.name
}

// Printf records an informational event.
func (e *EventLog) Printf(format string, a ...interface{}) {
	msg := fmt.Sprintf(format, a...)
	e.e.Printf("%s", msg)
	logEvent(log.Info, e, msg)
}

// Errorf records an error event built from the format, and returns it.
func (e *EventLog) Errorf(format string, a ...interface{}) error {
	err := fmt.Errorf(format, a...)
	e.e.Errorf("error: %v", err)
	logEvent(log.Info, e, "error: "+err.Error())
	return err
}

// logEvent writes msg to the process log, on a single line, attributed to
// the caller of the exported method.
func logEvent(level log.Level, src fmt.Stringer, msg string) {
	log.Log(level, 2, "%s: %s", src, quote(msg))
}

// quote a string for a single log line, escaping CR and LF among others.
func quote(s string) string {
	qs := strconv.Quote(s)
	return qs[1 : len(qs)-1]
}

// Package signlog implements a log of the DKIM signatures produced.
//
// It records what was signed (domain, selector, header fields and body
// hash), never key material or passphrases.
package signlog

import (
	"fmt"
	"io"
	"log/syslog"
	"os"
	"strings"
	"sync"
	"time"

	"blitiri.com.ar/go/dkimsign/internal/trace"
	"blitiri.com.ar/go/log"
)

// Global event logs.
var (
	signLog = trace.NewEventLog("DKIM", "Signatures")
)

// A writer that prepends timing information.
type timedWriter struct {
	w io.Writer
}

// Write the given buffer, prepending timing information.
func (t timedWriter) Write(b []byte) (int, error) {
	fmt.Fprintf(t.w, "%s  ", time.Now().Format("2006-01-02 15:04:05.000000"))
	return t.w.Write(b)
}

// Logger contains a backend used to log data to, such as a file or syslog.
// It implements various user-friendly methods for logging signatures to
// it.
type Logger struct {
	w    io.Writer
	once sync.Once
}

// New creates a new Logger which will write messages to the given writer.
func New(w io.Writer) *Logger {
	return &Logger{w: timedWriter{w}}
}

// NewSyslog creates a new Logger which will write messages to syslog.
func NewSyslog() (*Logger, error) {
	w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_MAIL, "dkim-sign")
	if err != nil {
		return nil, err
	}

	l := &Logger{w: w}
	return l, nil
}

// Open a Logger for the given path. It understands the special values
// "<stdout>", "<stderr>", "<syslog>" and "<none>"; anything else is taken
// as a file to append to.
func Open(path string) (*Logger, error) {
	switch path {
	case "<none>", "":
		return New(io.Discard), nil
	case "<stdout>":
		return New(os.Stdout), nil
	case "<stderr>":
		return New(os.Stderr), nil
	case "<syslog>":
		return NewSyslog()
	default:
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0660)
		if err != nil {
			return nil, err
		}
		return New(f), nil
	}
}

func (l *Logger) printf(format string, args ...interface{}) {
	_, err := fmt.Fprintf(l.w, format, args...)
	if err != nil {
		l.once.Do(func() {
			log.Errorf("failed to write to signlog: %v", err)
			log.Errorf("(will not report this again)")
		})
	}
}

// Signed logs that we have produced a signature.
func (l *Logger) Signed(id, domain, selector string, fields []string, bh string) {
	msg := fmt.Sprintf("%s signed d=%s s=%s h=%s bh=%s",
		id, domain, selector, strings.Join(fields, ":"), bh)
	l.printf("%s\n", msg)
	signLog.Printf("%s", msg)
}

// Failed logs that we could not produce a signature.
func (l *Logger) Failed(id, domain, selector string, err error) {
	msg := fmt.Sprintf("%s failed d=%s s=%s - %v", id, domain, selector, err)
	l.printf("%s\n", msg)
	signLog.Errorf("%s", msg)
}

// Default logger, used in the following top-level functions.
var Default = New(io.Discard)

// Signed logs that we have produced a signature.
func Signed(id, domain, selector string, fields []string, bh string) {
	Default.Signed(id, domain, selector, fields, bh)
}

// Failed logs that we could not produce a signature.
func Failed(id, domain, selector string, err error) {
	Default.Failed(id, domain, selector, err)
}

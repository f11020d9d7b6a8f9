package logflags

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var agent = false
var breakpoints = false
var locals = false
var events = false
var safepoint = false
var dap = false
var remote = false
var script = false

var logOut io.WriteCloser

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	logger.Logger.Level = level
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	return &logrusLogger{logger}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if !flag {
		return makeLogger(logrus.ErrorLevel, fields)
	}
	return makeLogger(logrus.DebugLevel, fields)
}

// Agent returns true if the agent facade should log.
func Agent() bool {
	return agent
}

// AgentLogger returns a logger for the agent facade.
func AgentLogger() Logger {
	return makeFlaggableLogger(agent, Fields{"layer": "agent"})
}

// Breakpoints returns true if breakpoint registry changes should be logged.
func Breakpoints() bool {
	return breakpoints
}

// BreakpointsLogger returns a logger for the breakpoint registry.
func BreakpointsLogger() Logger {
	return makeFlaggableLogger(breakpoints, Fields{"layer": "breakpoints"})
}

// Locals returns true if local variable accesses should be logged.
func Locals() bool {
	return locals
}

// LocalsLogger returns a logger for local variable operations.
func LocalsLogger() Logger {
	return makeFlaggableLogger(locals, Fields{"layer": "locals"})
}

// Events returns true if the deferred event queue should log.
func Events() bool {
	return events
}

// EventsLogger returns a logger for the deferred event queue and the
// service thread.
func EventsLogger() Logger {
	return makeFlaggableLogger(events, Fields{"layer": "events"})
}

// Safepoint returns true if global pauses should be logged.
func Safepoint() bool {
	return safepoint
}

func SafepointLogger() Logger {
	return makeFlaggableLogger(safepoint, Fields{"layer": "safepoint"})
}

// DAP returns true if the DAP server should log all the messages it
// exchanges with the client.
func DAP() bool {
	return dap
}

// DAPLogger returns a logger for the DAP server.
func DAPLogger() Logger {
	return makeFlaggableLogger(dap, Fields{"layer": "dap"})
}

// Remote returns true if the remote event sink should log.
func Remote() bool {
	return remote
}

func RemoteLogger() Logger {
	return makeFlaggableLogger(remote, Fields{"layer": "remote"})
}

// Script returns true if starlark scripts should log.
func Script() bool {
	return script
}

func ScriptLogger() Logger {
	return makeFlaggableLogger(script, Fields{"layer": "script"})
}

// WriteError writes an error message to the log, regardless of the
// enabled layers.
func WriteError(msg string) {
	if logOut != nil {
		fmt.Fprintln(logOut, msg)
	} else {
		fmt.Fprintln(os.Stderr, msg)
	}
}

// WriteDAPListeningMessage writes the address the DAP server is listening
// on, regardless of the enabled layers. Clients launching the server parse
// this line.
func WriteDAPListeningMessage(addr string) {
	msg := fmt.Sprintf("DAP server listening at: %s", addr)
	if logOut != nil {
		fmt.Fprintln(logOut, msg)
	} else {
		fmt.Fprintln(os.Stdout, msg)
	}
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the logging flags based on the contents of logstr. If logDest
// is not empty logs are redirected to the file descriptor or file path
// specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "vmagent-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "agent"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		// If adding another value, do make sure to
		// update "Help about logging flags" in commands.go.
		switch logcmd {
		case "agent":
			agent = true
		case "breakpoints":
			breakpoints = true
		case "locals":
			locals = true
		case "events":
			events = true
		case "safepoint":
			safepoint = true
		case "dap":
			dap = true
		case "remote":
			remote = true
		case "script":
			script = true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q\n", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}

// textFormatter is a simplified version of logrus.TextFormatter that
// doesn't make logs unreadable when they are output to a text file or to a
// terminal that doesn't support colors.
type textFormatter struct {
}

var textFormatterInstance = &textFormatter{}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}

	b.WriteString(entry.Time.Format("2006-01-02T15:04:05.000Z07:00"))
	b.WriteByte(' ')
	b.WriteString(entry.Level.String())
	b.WriteByte(' ')
	for i, key := range keys {
		b.WriteString(key)
		b.WriteByte('=')
		stringVal, ok := entry.Data[key].(string)
		if !ok {
			stringVal = fmt.Sprint(entry.Data[key])
		}
		if f.needsQuoting(stringVal) {
			fmt.Fprintf(b, "%q", stringVal)
		} else {
			b.WriteString(stringVal)
		}
		if i != len(keys)-1 {
			b.WriteByte(',')
		} else {
			b.WriteByte(' ')
		}
	}
	b.WriteString(entry.Message)
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func (f *textFormatter) needsQuoting(text string) bool {
	for _, ch := range text {
		if !((ch >= 'a' && ch <= 'z') ||
			(ch >= 'A' && ch <= 'Z') ||
			(ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '/' || ch == '@' || ch == '^' || ch == '+') {
			return true
		}
	}
	return false
}

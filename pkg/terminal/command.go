// Package terminal implements functions for responding to user
// input and dispatching to appropriate backend commands.
package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"

	"github.com/vmagent/vmagent/pkg/breakpoint"
	"github.com/vmagent/vmagent/pkg/events"
	"github.com/vmagent/vmagent/pkg/terminal/starbind"
	"github.com/vmagent/vmagent/pkg/vm"
	"github.com/vmagent/vmagent/service/agent"
	"github.com/vmagent/vmagent/service/api"
)

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands of the vmagent terminal.
type Commands struct {
	cmds  []command
	agent *agent.Agent
	// thread is the thread selected by the thread command.
	thread vm.ThreadID
}

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands(a *agent.Agent) *Commands {
	c := &Commands{agent: a}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"break", "b"}, group: breakCmds, cmdFn: setBreakpoint, helpMsg: `Sets a breakpoint.

	break <method>[@bci]
	break <method> <bci>

The method is a qualified name including the signature, for example
com.example.Main.work(IJ)V. The bytecode offset defaults to 0.

See also: "help clear" and "help breakpoints"`},
		{aliases: []string{"clear"}, group: breakCmds, cmdFn: clearBreakpoint, helpMsg: `Deletes a breakpoint.

	clear <method>[@bci]
	clear <id>

The id is the one printed by the breakpoints command.`},
		{aliases: []string{"breakpoints", "bp"}, group: breakCmds, cmdFn: breakpoints, helpMsg: "Print out info for active breakpoints."},
		{aliases: []string{"threads"}, group: threadCmds, cmdFn: threads, helpMsg: `Print out info for every thread.

Platform threads are listed first, followed by virtual threads. The
current thread is marked with an asterisk.`},
		{aliases: []string{"thread", "tr"}, group: threadCmds, cmdFn: c.selectThread, helpMsg: `Switch to the specified thread.

	thread <id>

The current thread is the default thread of the stack and locals commands.`},
		{aliases: []string{"stack", "bt"}, group: threadCmds, cmdFn: c.stack, helpMsg: `Print stack trace.

	stack [-full] [<thread id>] [<depth>]

	-full	every stackframe is decorated with the value of its local variables.

The depth defaults to the max-stack-depth configuration option.`},
		{aliases: []string{"suspend"}, group: threadCmds, cmdFn: suspend, helpMsg: `Suspends a thread.

	suspend <thread id>`},
		{aliases: []string{"resume"}, group: threadCmds, cmdFn: resume, helpMsg: `Resumes a thread.

	resume <thread id>

Values written into compiled frames of the thread are installed before it
runs again.`},
		{aliases: []string{"locals"}, group: dataCmds, cmdFn: c.locals, helpMsg: `Print, read or write local variables.

	locals [<thread id>] [<depth>]
	locals get <thread id> <depth> <slot> <type>
	locals set <thread id> <depth> <slot> <type> <value>

Types are boolean, char, byte, short, int, long, float, double, object and
array. Values of reference types are either null or the name of an object
of the runtime image prefixed by @, for example @main.

Writes into a compiled frame are deferred until the thread resumes.`},
		{aliases: []string{"receiver"}, group: dataCmds, cmdFn: receiver, helpMsg: `Print the receiver of a frame.

	receiver <thread id> <depth>

Static methods have no receiver.`},
		{aliases: []string{"redefine"}, group: vmCmds, cmdFn: redefine, helpMsg: `Installs a new version of a class.

	redefine <class>

Every breakpoint in the class is cleared.`},
		{aliases: []string{"unload"}, group: vmCmds, cmdFn: unload, helpMsg: `Unloads a class.

	unload <class>

Fails while a breakpoint keeps the class alive.`},
		{aliases: []string{"compile"}, group: vmCmds, cmdFn: compile, helpMsg: `Installs compiled code for a method.

	compile <method> [<size>]

A compiled method load event is posted to every subscribed environment.`},
		{aliases: []string{"sweep"}, group: vmCmds, cmdFn: sweep, helpMsg: `Reclaims not entrant compiled code.

Code still referenced by queued events is kept.`},
		{aliases: []string{"events"}, group: vmCmds, cmdFn: c.events, helpMsg: `Lists agent environments or changes the events printed by the terminal.

	events
	events on [<kind>...]
	events off [<kind>...]
	events generate
	events post

Without arguments the environments and the state of the deferred event
queue are listed. On and off subscribe the terminal to or unsubscribe it
from the given kinds, all kinds if none is given:

	compiled-method-load
	compiled-method-unload
	dynamic-code-generated
	class-unload

Generate prints a load event for every live compiled method. Post prints
the events queued for the terminal without waiting for the service
thread.`},
		{aliases: []string{"config"}, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk, overwriting the current configuration file.

	config <parameter> <value>

Changes the value of a configuration parameter.

	config alias <command> <alias>
	config alias <alias>

Defines <alias> as an alias to <command> or removes an alias.`},
		{aliases: []string{"source"}, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of vmagent commands.

	source <path>

If path ends with the .star extension it will be interpreted as a starlark
script, its main function, if any, is called without arguments.

If path is a single '-' character an interactive starlark interpreter will
start instead. Type 'exit' in order to leave the interpreter.`},
		{aliases: []string{"transcript"}, cmdFn: transcript, helpMsg: `Appends command output to a file.

	transcript [-t] [-x] <output file>
	transcript -off

Output of commands is appended to the specified output file. If -t is
specified and the output file exists it is truncated. If -x is specified
output to stdout is suppressed instead.

Using the -off option disables the transcript.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: "Exit the agent terminal."},
	}

	return c
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			c.cmds[i].helpMsg = helpMsg
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname)(t, args)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

var noCmdError = errors.New("command not available")

func noCmdAvailable(t *Term, args string) error {
	return noCmdError
}

func nullCommand(t *Term, args string) error {
	return nil
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return noCmdError
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// splitArgs splits a command line into words, honoring quotes.
func splitArgs(args string) ([]string, error) {
	if strings.TrimSpace(args) == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("Backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal command line '%s'", args)
	}
	return v[0], nil
}

func parseThreadID(s string) (vm.ThreadID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid thread id %q", s)
	}
	return vm.ThreadID(n), nil
}

func parseInts(args []string, names ...string) ([]int, error) {
	r := make([]int, len(names))
	for i, name := range names {
		n, err := strconv.Atoi(args[i])
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q", name, args[i])
		}
		r[i] = n
	}
	return r, nil
}

// parseMethodLocation parses "<method>[@bci]" and "<method> <bci>".
func parseMethodLocation(args string) (string, int, error) {
	v, err := splitArgs(args)
	if err != nil {
		return "", 0, err
	}
	switch len(v) {
	case 1:
		method := v[0]
		if i := strings.LastIndex(method, "@"); i >= 0 {
			bci, err := strconv.Atoi(method[i+1:])
			if err != nil {
				return "", 0, fmt.Errorf("invalid bytecode offset %q", method[i+1:])
			}
			return method[:i], bci, nil
		}
		return method, 0, nil
	case 2:
		bci, err := strconv.Atoi(v[1])
		if err != nil {
			return "", 0, fmt.Errorf("invalid bytecode offset %q", v[1])
		}
		return v[0], bci, nil
	}
	return "", 0, errors.New("wrong number of arguments: expected a method and an optional bytecode offset")
}

func setBreakpoint(t *Term, args string) error {
	method, bci, err := parseMethodLocation(args)
	if err != nil {
		return err
	}
	st, err := t.agent.SetBreakpoint(method, bci)
	if err != nil {
		return err
	}
	if st == breakpoint.NotChanged {
		fmt.Fprintf(t.stdout, "Breakpoint already set at %s@%d\n", method, bci)
		return nil
	}
	fmt.Fprintf(t.stdout, "Breakpoint set at %s@%d\n", method, bci)
	return nil
}

func clearBreakpoint(t *Term, args string) error {
	method, bci, err := parseMethodLocation(args)
	if err != nil {
		return err
	}
	if id, err := strconv.Atoi(method); err == nil {
		bps, err := t.agent.Breakpoints()
		if err != nil {
			return err
		}
		if id < 1 || id > len(bps) {
			return fmt.Errorf("no breakpoint with id %d", id)
		}
		method, bci = bps[id-1].Method, bps[id-1].BCI
	}
	if err := t.agent.ClearBreakpoint(method, bci); err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Breakpoint %s@%d cleared\n", method, bci)
	return nil
}

func breakpoints(t *Term, args string) error {
	bps, err := t.agent.Breakpoints()
	if err != nil {
		return err
	}
	if len(bps) == 0 {
		fmt.Fprintln(t.stdout, "No breakpoints.")
		return nil
	}
	for i := range bps {
		fmt.Fprintf(t.stdout, "Breakpoint %d at %s (class version %d)\n", bps[i].ID, bps[i].String(), bps[i].ClassVersion)
	}
	return nil
}

func threads(t *Term, args string) error {
	ts, err := t.agent.Threads()
	if err != nil {
		return err
	}
	for i := range ts {
		prefix := "  "
		if vm.ThreadID(ts[i].ID) == t.cmds.thread {
			prefix = "* "
		}
		fmt.Fprintf(t.stdout, "%s%s\n", prefix, ts[i].String())
	}
	return nil
}

func (c *Commands) selectThread(t *Term, args string) error {
	if args == "" {
		return errors.New("you must specify a thread")
	}
	tid, err := parseThreadID(args)
	if err != nil {
		return err
	}
	if _, err := t.agent.Stacktrace(tid, 0); err != nil {
		return err
	}
	c.thread = tid
	fmt.Fprintf(t.stdout, "Switched to thread %d\n", tid)
	return nil
}

func (c *Commands) currentThread() (vm.ThreadID, error) {
	if c.thread == 0 {
		return 0, errors.New("no thread selected, specify a thread id or use the thread command")
	}
	return c.thread, nil
}

func (c *Commands) stack(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	full := false
	if len(v) > 0 && v[0] == "-full" {
		full = true
		v = v[1:]
	}
	if len(v) > 2 {
		return errors.New("too many arguments to stack")
	}
	depth := t.conf.MaxStackDepthOrDefault()
	var tid vm.ThreadID
	if len(v) > 0 {
		if tid, err = parseThreadID(v[0]); err != nil {
			return err
		}
	} else if tid, err = c.currentThread(); err != nil {
		return err
	}
	if len(v) > 1 {
		if depth, err = strconv.Atoi(v[1]); err != nil || depth < 0 {
			return fmt.Errorf("invalid depth %q", v[1])
		}
	}
	frames, err := t.agent.Stacktrace(tid, depth)
	if err != nil {
		return err
	}
	api.PrintStack(t.stdout, frames, full)
	return nil
}

func suspend(t *Term, args string) error {
	tid, err := parseThreadID(args)
	if err != nil {
		return err
	}
	return t.agent.Suspend(tid)
}

func resume(t *Term, args string) error {
	tid, err := parseThreadID(args)
	if err != nil {
		return err
	}
	return t.agent.Resume(tid)
}

func (c *Commands) locals(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(v) > 0 {
		switch v[0] {
		case "get":
			return getLocal(t, v[1:])
		case "set":
			return setLocal(t, v[1:])
		}
	}
	if len(v) > 2 {
		return errors.New("too many arguments to locals")
	}

	var tid vm.ThreadID
	depth := 0
	if len(v) > 0 {
		if tid, err = parseThreadID(v[0]); err != nil {
			return err
		}
	} else if tid, err = c.currentThread(); err != nil {
		return err
	}
	if len(v) > 1 {
		if depth, err = strconv.Atoi(v[1]); err != nil || depth < 0 {
			return fmt.Errorf("invalid depth %q", v[1])
		}
	}
	frames, err := t.agent.Stacktrace(tid, depth+1)
	if err != nil {
		return err
	}
	if depth >= len(frames) {
		return fmt.Errorf("thread %d has no frame at depth %d", tid, depth)
	}
	frame := &frames[depth]
	if len(frame.Locals) == 0 {
		fmt.Fprintln(t.stdout, "(no locals)")
		return nil
	}
	for i := range frame.Locals {
		fmt.Fprintf(t.stdout, "%d: %s\n", frame.Locals[i].Slot, frame.Locals[i].SinglelineString())
	}
	return nil
}

// parseLocalRef parses "<thread id> <depth> <slot> <type>".
func parseLocalRef(v []string) (agent.LocalRef, error) {
	var ref agent.LocalRef
	tid, err := parseThreadID(v[0])
	if err != nil {
		return ref, err
	}
	n, err := parseInts(v[1:3], "depth", "slot")
	if err != nil {
		return ref, err
	}
	typ, err := vm.ParseBasicType(v[3])
	if err != nil {
		return ref, err
	}
	return agent.LocalRef{Thread: tid, Depth: n[0], Slot: n[1], Type: typ}, nil
}

func getLocal(t *Term, v []string) error {
	if len(v) != 4 {
		return errors.New("wrong number of arguments: locals get <thread id> <depth> <slot> <type>")
	}
	ref, err := parseLocalRef(v)
	if err != nil {
		return err
	}
	val, err := t.agent.GetLocal(ref)
	if err != nil {
		return err
	}
	fmt.Fprintln(t.stdout, api.ConvertValue(val))
	return nil
}

func setLocal(t *Term, v []string) error {
	if len(v) != 5 {
		return errors.New("wrong number of arguments: locals set <thread id> <depth> <slot> <type> <value>")
	}
	ref, err := parseLocalRef(v)
	if err != nil {
		return err
	}
	val, err := starbind.ParseValue(t.agent.Runtime(), ref.Type, v[4])
	if err != nil {
		return err
	}
	return t.agent.SetLocal(ref, val)
}

func receiver(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(v) != 2 {
		return errors.New("wrong number of arguments: receiver <thread id> <depth>")
	}
	tid, err := parseThreadID(v[0])
	if err != nil {
		return err
	}
	n, err := parseInts(v[1:], "depth")
	if err != nil {
		return err
	}
	val, err := t.agent.GetReceiver(agent.LocalRef{Thread: tid, Depth: n[0]})
	if err != nil {
		return err
	}
	fmt.Fprintln(t.stdout, api.ConvertValue(val))
	return nil
}

func redefine(t *Term, args string) error {
	if args == "" {
		return errors.New("you must specify a class")
	}
	c := t.agent.Runtime().Classes.Lookup(args)
	if c == nil {
		return fmt.Errorf("no class named %s", args)
	}
	nc := c.NewVersion()
	cleared, err := t.agent.RedefineClass(args, nc)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Redefined %s (version %d), %d breakpoints cleared\n", args, nc.Version, cleared)
	return nil
}

func unload(t *Term, args string) error {
	if args == "" {
		return errors.New("you must specify a class")
	}
	if err := t.agent.UnloadClass(args); err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Unloaded %s\n", args)
	return nil
}

func compile(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(v) < 1 || len(v) > 2 {
		return errors.New("wrong number of arguments: compile <method> [<size>]")
	}
	size := 64
	if len(v) == 2 {
		if size, err = strconv.Atoi(v[1]); err != nil || size <= 0 {
			return fmt.Errorf("invalid size %q", v[1])
		}
	}
	code, err := t.agent.Compile(v[0], size)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Installed %v\n", code)
	return nil
}

func sweep(t *Term, args string) error {
	codes := t.agent.Sweep()
	for _, code := range codes {
		fmt.Fprintf(t.stdout, "Reclaimed %v\n", code)
	}
	fmt.Fprintf(t.stdout, "%d code blobs reclaimed\n", len(codes))
	return nil
}

func parseKinds(v []string) ([]events.Kind, error) {
	if len(v) == 0 {
		return events.Kinds(), nil
	}
	r := make([]events.Kind, 0, len(v))
	for _, s := range v {
		k, err := events.ParseKind(s)
		if err != nil {
			return nil, err
		}
		r = append(r, k)
	}
	return r, nil
}

func (c *Commands) events(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(v) == 0 {
		w := tabwriter.NewWriter(t.stdout, 0, 8, 1, ' ', 0)
		for _, env := range t.agent.Envs() {
			aenv := api.ConvertEnv(env)
			fmt.Fprintf(w, "%s\t%s\t%s\n", aenv.Name, aenv.ID, strings.Join(aenv.Enabled, ","))
		}
		w.Flush()
		q := t.agent.Queue()
		fmt.Fprintf(t.stdout, "%d events queued, %d dropped\n", q.Len(), q.Dropped())
		return nil
	}
	switch v[0] {
	case "on", "off":
		kinds, err := parseKinds(v[1:])
		if err != nil {
			return err
		}
		t.env.SetEventNotificationMode(v[0] == "on", kinds...)
	case "generate":
		n := t.agent.GenerateEvents(t.env)
		fmt.Fprintf(t.stdout, "%d events generated\n", n)
	case "post":
		n := t.agent.PostEvents(t.env)
		fmt.Fprintf(t.stdout, "%d events posted\n", n)
	default:
		return fmt.Errorf("unknown events subcommand %q", v[0])
	}
	return nil
}

func transcript(t *Term, args string) error {
	argv := strings.SplitN(args, " ", -1)
	truncate := false
	fileOnly := false
	disable := false
	path := ""
	for _, arg := range argv {
		switch arg {
		case "-x":
			fileOnly = true
		case "-t":
			truncate = true
		case "-off":
			disable = true
		default:
			if path != "" || strings.HasPrefix(arg, "-") {
				return fmt.Errorf("unrecognized option %q", arg)
			}
			path = arg
		}
	}

	if disable {
		if path != "" {
			return errors.New("-o option specified with an output path")
		}
		return t.stdout.CloseTranscript()
	}

	if path == "" {
		return errors.New("no output path specified")
	}

	flags := os.O_APPEND | os.O_WRONLY | os.O_CREATE
	if truncate {
		flags |= os.O_TRUNC
	}
	fh, err := os.OpenFile(path, flags, 0660)
	if err != nil {
		return err
	}

	if err := t.stdout.CloseTranscript(); err != nil {
		return err
	}

	t.stdout.TranscribeTo(fh, fileOnly)
	return nil
}

// ExitRequestError is returned when the user
// exits the terminal.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, args string) error {
	return ExitRequestError{}
}

func (c *Commands) sourceCommand(t *Term, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("wrong number of arguments: source <filename>")
	}

	if args == "-" {
		return t.starlarkEnv.REPL()
	}

	if runtime.GOOS != "windows" && strings.HasPrefix(args, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			if args == "~" {
				args = home
			} else if strings.HasPrefix(args, "~/") {
				args = filepath.Join(home, args[2:])
			}
		}
	}

	if filepath.Ext(args) == ".star" {
		_, err := t.starlarkEnv.Execute(args, nil, "main", nil)
		return err
	}

	return c.executeFile(t, args)
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}

package starbind

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"runtime"
	"sort"
	"strings"
	"sync"

	startime "go.starlark.net/lib/time"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"

	"github.com/vmagent/vmagent/pkg/breakpoint"
	"github.com/vmagent/vmagent/pkg/logflags"
	"github.com/vmagent/vmagent/pkg/vm"
	"github.com/vmagent/vmagent/service/agent"
)

const (
	vmCommandBuiltinName       = "vm_command"
	readFileBuiltinName        = "read_file"
	writeFileBuiltinName       = "write_file"
	setBreakpointBuiltinName   = "set_breakpoint"
	clearBreakpointBuiltinName = "clear_breakpoint"
	breakpointsBuiltinName     = "breakpoints"
	threadsBuiltinName         = "threads"
	stacktraceBuiltinName      = "stacktrace"
	getLocalBuiltinName        = "get_local"
	setLocalBuiltinName        = "set_local"
	getReceiverBuiltinName     = "get_receiver"
	curThreadBuiltinName       = "cur_thread"
	helpBuiltinName            = "help"
	commandPrefix              = "command_"
	vmContextName              = "vm_context"
)

func init() {
	resolve.AllowNestedDef = true
	resolve.AllowLambda = true
	resolve.AllowFloat = true
	resolve.AllowSet = true
	resolve.AllowBitwise = true
	resolve.AllowRecursion = true
	resolve.AllowGlobalReassign = true
}

// Context is the context in which starlark scripts are evaluated.
// It contains methods to call agent functions, command line commands, etc.
type Context interface {
	Agent() *agent.Agent
	RegisterCommand(name, helpMsg string, cmdfn func(args string) error)
	CallCommand(cmdstr string) error
	// CurrentThread is the thread selected by the thread command, zero if
	// none was selected.
	CurrentThread() vm.ThreadID
}

// Env is the environment used to evaluate starlark scripts.
type Env struct {
	env       starlark.StringDict
	doc       map[string]string
	contextMu sync.Mutex
	thread    *starlark.Thread
	cancelfn  context.CancelFunc
	load      func(thread *starlark.Thread, module string) (starlark.StringDict, error)

	ctx Context
	out EchoWriter
	log logflags.Logger
}

type builtinFn func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

// New creates a new starlark binding environment.
func New(ctx Context, out EchoWriter) *Env {
	env := &Env{
		env:  starlark.StringDict{},
		doc:  map[string]string{},
		ctx:  ctx,
		out:  out,
		load: MakeLoad(),
		log:  logflags.ScriptLogger(),
	}

	// Make the "time" module available to Starlark scripts.
	starlark.Universe["time"] = startime.Module

	env.builtin(vmCommandBuiltinName, "(Command)", "runs a command of the terminal, for example vm_command(\"threads\").", env.vmCommand)
	env.builtin(readFileBuiltinName, "(Path)", "reads a file.", env.readFile)
	env.builtin(writeFileBuiltinName, "(Path, Text)", "writes text to the specified file.", env.writeFile)
	env.builtin(setBreakpointBuiltinName, "(Method, BCI=0)", "sets a breakpoint, returns False if it was already set.", env.setBreakpoint)
	env.builtin(clearBreakpointBuiltinName, "(Method, BCI=0)", "clears a breakpoint.", env.clearBreakpoint)
	env.builtin(breakpointsBuiltinName, "()", "returns the list of breakpoints.", env.breakpoints)
	env.builtin(threadsBuiltinName, "()", "returns the list of platform and virtual threads.", env.threads)
	env.builtin(stacktraceBuiltinName, "(ThreadID, Depth=-1)", "returns the frames of a thread.", env.stacktrace)
	env.builtin(getLocalBuiltinName, "(ThreadID, Depth, Slot, Type)", "reads a local variable slot.", env.getLocal)
	env.builtin(setLocalBuiltinName, "(ThreadID, Depth, Slot, Type, Value)", "writes a local variable slot.", env.setLocal)
	env.builtin(getReceiverBuiltinName, "(ThreadID, Depth)", "reads the receiver of a frame.", env.getReceiver)
	env.builtin(curThreadBuiltinName, "()", "returns the thread selected by the thread command.", env.curThread)
	env.builtin(helpBuiltinName, "(Object)", "prints help for Object.", env.help)

	return env
}

func (env *Env) builtin(name, args, descr string, fn builtinFn) {
	env.env[name] = starlark.NewBuiltin(name, fn)
	env.doc[name] = name + args + "\n\n" + name + " " + descr
}

func (env *Env) vmCommand(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := isCancelled(thread); err != nil {
		return starlark.None, err
	}
	argstrs := make([]string, len(args))
	for i := range args {
		a, ok := args[i].(starlark.String)
		if !ok {
			return nil, decorateError(thread, fmt.Errorf("argument of %s is not a string", vmCommandBuiltinName))
		}
		argstrs[i] = string(a)
	}
	cmdstr := strings.Join(argstrs, " ")
	env.log.Debugf("vm_command %q", cmdstr)
	return starlark.None, decorateError(thread, env.ctx.CallCommand(cmdstr))
}

func (env *Env) readFile(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackPositionalArgs(readFileBuiltinName, args, kwargs, 1, &path); err != nil {
		return nil, decorateError(thread, err)
	}
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, decorateError(thread, err)
	}
	return starlark.String(string(buf)), nil
}

func (env *Env) writeFile(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) != 2 {
		return nil, decorateError(thread, fmt.Errorf("wrong number of arguments"))
	}
	path, ok := args[0].(starlark.String)
	if !ok {
		return nil, decorateError(thread, fmt.Errorf("first argument of %s was not a string", writeFileBuiltinName))
	}
	text := args[1].String()
	if s, ok := args[1].(starlark.String); ok {
		text = string(s)
	}
	err := ioutil.WriteFile(string(path), []byte(text), 0640)
	return starlark.None, decorateError(thread, err)
}

func (env *Env) setBreakpoint(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var method string
	var bci int
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "method", &method, "bci?", &bci); err != nil {
		return nil, decorateError(thread, err)
	}
	st, err := env.ctx.Agent().SetBreakpoint(method, bci)
	if err != nil {
		return nil, decorateError(thread, err)
	}
	env.log.Debugf("set_breakpoint %s@%d: %v", method, bci, st)
	return starlark.Bool(st == breakpoint.Changed), nil
}

func (env *Env) clearBreakpoint(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var method string
	var bci int
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "method", &method, "bci?", &bci); err != nil {
		return nil, decorateError(thread, err)
	}
	return starlark.None, decorateError(thread, env.ctx.Agent().ClearBreakpoint(method, bci))
}

func (env *Env) breakpoints(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, decorateError(thread, err)
	}
	bps, err := env.ctx.Agent().Breakpoints()
	if err != nil {
		return nil, decorateError(thread, err)
	}
	return env.interfaceToStarlarkValue(bps), nil
}

func (env *Env) threads(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, decorateError(thread, err)
	}
	ts, err := env.ctx.Agent().Threads()
	if err != nil {
		return nil, decorateError(thread, err)
	}
	return env.interfaceToStarlarkValue(ts), nil
}

func (env *Env) stacktrace(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var tid int
	depth := -1
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "tid", &tid, "depth?", &depth); err != nil {
		return nil, decorateError(thread, err)
	}
	frames, err := env.ctx.Agent().Stacktrace(vm.ThreadID(tid), depth)
	if err != nil {
		return nil, decorateError(thread, err)
	}
	return env.interfaceToStarlarkValue(frames), nil
}

// unpackLocalRef unpacks the thread, depth and, if withSlot is set, the
// slot and type arguments of the local variable builtins. The remaining
// positional arguments are returned.
func unpackLocalRef(b *starlark.Builtin, args starlark.Tuple, withSlot bool) (agent.LocalRef, starlark.Tuple, error) {
	var ref agent.LocalRef
	n := 2
	if withSlot {
		n = 4
	}
	if len(args) < n {
		return ref, nil, fmt.Errorf("%s: got %d arguments, want at least %d", b.Name(), len(args), n)
	}
	var tid int
	var typ string
	pargs := []interface{}{&tid, &ref.Depth}
	if withSlot {
		pargs = append(pargs, &ref.Slot, &typ)
	}
	if err := starlark.UnpackPositionalArgs(b.Name(), args[:n], nil, n, pargs...); err != nil {
		return ref, nil, err
	}
	ref.Thread = vm.ThreadID(tid)
	if withSlot {
		t, err := vm.ParseBasicType(typ)
		if err != nil {
			return ref, nil, err
		}
		ref.Type = t
	}
	return ref, args[n:], nil
}

func (env *Env) getLocal(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	ref, rest, err := unpackLocalRef(b, args, true)
	if err == nil && (len(rest) != 0 || len(kwargs) != 0) {
		err = fmt.Errorf("%s: too many arguments", b.Name())
	}
	if err != nil {
		return nil, decorateError(thread, err)
	}
	v, err := env.ctx.Agent().GetLocal(ref)
	if err != nil {
		return nil, decorateError(thread, err)
	}
	return valueToStarlarkValue(v), nil
}

func (env *Env) setLocal(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	ref, rest, err := unpackLocalRef(b, args, true)
	if err == nil && (len(rest) != 1 || len(kwargs) != 0) {
		err = fmt.Errorf("%s: wrong number of arguments", b.Name())
	}
	if err != nil {
		return nil, decorateError(thread, err)
	}
	v, err := starlarkValueToValue(env.ctx.Agent().Runtime(), ref.Type, rest[0])
	if err != nil {
		return nil, decorateError(thread, err)
	}
	return starlark.None, decorateError(thread, env.ctx.Agent().SetLocal(ref, v))
}

func (env *Env) getReceiver(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	ref, rest, err := unpackLocalRef(b, args, false)
	if err == nil && (len(rest) != 0 || len(kwargs) != 0) {
		err = fmt.Errorf("%s: too many arguments", b.Name())
	}
	if err != nil {
		return nil, decorateError(thread, err)
	}
	v, err := env.ctx.Agent().GetReceiver(ref)
	if err != nil {
		return nil, decorateError(thread, err)
	}
	return valueToStarlarkValue(v), nil
}

func (env *Env) curThread(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return starlark.MakeInt64(int64(env.ctx.CurrentThread())), nil
}

func (env *Env) help(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	switch len(args) {
	case 0:
		fmt.Fprintln(env.out, "Available builtins:")
		bins := make([]string, 0, len(env.env))
		for name, value := range env.env {
			switch value.(type) {
			case *starlark.Builtin:
				bins = append(bins, name)
			}
		}
		sort.Strings(bins)
		for _, bin := range bins {
			fmt.Fprintf(env.out, "\t%s\n", bin)
		}
	case 1:
		switch x := args[0].(type) {
		case *starlark.Builtin:
			if env.doc[x.Name()] != "" {
				fmt.Fprintf(env.out, "%s\n", env.doc[x.Name()])
			} else {
				fmt.Fprintf(env.out, "no help for builtin %s\n", x.Name())
			}
		case *starlark.Function:
			fmt.Fprintf(env.out, "user defined function %s\n", x.Name())
			if doc := x.Doc(); doc != "" {
				fmt.Fprintln(env.out, doc)
			}
		default:
			fmt.Fprintf(env.out, "no help for object of type %T\n", args[0])
		}
	default:
		fmt.Fprintln(env.out, "wrong number of arguments ", len(args))
	}
	return starlark.None, nil
}

// Redirect redirects starlark output to out.
func (env *Env) Redirect(out EchoWriter) {
	env.out = out
	if env.thread != nil {
		env.thread.Print = env.printFunc()
	}
}

func (env *Env) printFunc() func(_ *starlark.Thread, msg string) {
	return func(_ *starlark.Thread, msg string) { fmt.Fprintln(env.out, msg) }
}

// Execute executes a script. Path is the name of the file to execute and
// source is the source code to execute.
// Source can be either a []byte, a string or a io.Reader. If source is nil
// Execute will execute the file specified by 'path'.
// After the file is executed if a function named mainFnName exists it will be called, passing args to it.
func (env *Env) Execute(path string, source interface{}, mainFnName string, args []interface{}) (_ starlark.Value, _err error) {
	defer func() {
		err := recover()
		if err == nil {
			return
		}
		_err = fmt.Errorf("panic executing starlark script: %v", err)
		fmt.Fprintf(env.out, "panic executing starlark script: %v\n", err)
		for i := 0; ; i++ {
			pc, file, line, ok := runtime.Caller(i)
			if !ok {
				break
			}
			fname := "<unknown>"
			fn := runtime.FuncForPC(pc)
			if fn != nil {
				fname = fn.Name()
			}
			fmt.Fprintf(env.out, "%s\n\tin %s:%d\n", fname, file, line)
		}
	}()

	env.log.Debugf("executing %s", path)
	thread := env.newThread()
	globals, err := starlark.ExecFile(thread, path, source, env.env)
	if err != nil {
		return starlark.None, err
	}

	err = env.exportGlobals(globals)
	if err != nil {
		return starlark.None, err
	}

	return env.callMain(thread, globals, mainFnName, args)
}

// exportGlobals saves globals with a name starting with a capital letter
// into the environment and creates commands from globals with a name
// starting with "command_"
func (env *Env) exportGlobals(globals starlark.StringDict) error {
	for name, val := range globals {
		switch {
		case strings.HasPrefix(name, commandPrefix):
			err := env.createCommand(name, val)
			if err != nil {
				return err
			}
		case name[0] >= 'A' && name[0] <= 'Z':
			env.env[name] = val
		}
	}
	return nil
}

// Cancel cancels the execution of a currently running script or function.
func (env *Env) Cancel() {
	if env == nil {
		return
	}
	env.contextMu.Lock()
	if env.cancelfn != nil {
		env.cancelfn()
		env.cancelfn = nil
	}
	if env.thread != nil {
		env.thread.Cancel("user interrupt")
	}
	env.contextMu.Unlock()
}

func (env *Env) newThread() *starlark.Thread {
	thread := &starlark.Thread{
		Print: env.printFunc(),
		Load:  env.load,
	}
	env.contextMu.Lock()
	var ctx context.Context
	ctx, env.cancelfn = context.WithCancel(context.Background())
	env.thread = thread
	env.contextMu.Unlock()
	thread.SetLocal(vmContextName, ctx)
	return thread
}

func (env *Env) createCommand(name string, val starlark.Value) error {
	fnval, ok := val.(*starlark.Function)
	if !ok {
		return nil
	}

	name = name[len(commandPrefix):]

	helpMsg := fnval.Doc()
	if helpMsg == "" {
		helpMsg = "user defined"
	}

	if fnval.NumParams() == 1 {
		if p0, _ := fnval.Param(0); p0 == "args" {
			env.ctx.RegisterCommand(name, helpMsg, func(args string) error {
				_, err := starlark.Call(env.newThread(), fnval, starlark.Tuple{starlark.String(args)}, nil)
				return err
			})
			return nil
		}
	}

	env.ctx.RegisterCommand(name, helpMsg, func(args string) error {
		thread := env.newThread()
		argval, err := starlark.Eval(thread, "<input>", "("+args+")", env.env)
		if err != nil {
			return err
		}
		argtuple, ok := argval.(starlark.Tuple)
		if !ok {
			argtuple = starlark.Tuple{argval}
		}
		_, err = starlark.Call(thread, fnval, argtuple, nil)
		return err
	})
	return nil
}

// callMain calls the main function in globals, if one was defined.
func (env *Env) callMain(thread *starlark.Thread, globals starlark.StringDict, mainFnName string, args []interface{}) (starlark.Value, error) {
	if mainFnName == "" {
		return starlark.None, nil
	}
	mainval := globals[mainFnName]
	if mainval == nil {
		return starlark.None, nil
	}
	mainfn, ok := mainval.(*starlark.Function)
	if !ok {
		return starlark.None, fmt.Errorf("%s is not a function", mainFnName)
	}
	if mainfn.NumParams() != len(args) {
		return starlark.None, fmt.Errorf("wrong number of arguments for %s", mainFnName)
	}
	argtuple := make(starlark.Tuple, len(args))
	for i := range args {
		argtuple[i] = env.interfaceToStarlarkValue(args[i])
	}
	return starlark.Call(thread, mainfn, argtuple, nil)
}

func isCancelled(thread *starlark.Thread) error {
	if ctx, ok := thread.Local(vmContextName).(context.Context); ok {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

func decorateError(thread *starlark.Thread, err error) error {
	if err == nil {
		return nil
	}
	pos := thread.CallFrame(1).Pos
	if pos.Col > 0 {
		return fmt.Errorf("%s:%d:%d: %v", pos.Filename(), pos.Line, pos.Col, err)
	}
	return fmt.Errorf("%s:%d: %v", pos.Filename(), pos.Line, err)
}

type EchoWriter interface {
	io.Writer
	Echo(string)
	Flush()
}

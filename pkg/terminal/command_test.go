package terminal

import (
	"bytes"
	"flag"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vmagent/vmagent/pkg/config"
	"github.com/vmagent/vmagent/pkg/logflags"
	protest "github.com/vmagent/vmagent/pkg/vm/test"
	"github.com/vmagent/vmagent/service/agent"
)

func TestMain(m *testing.M) {
	var logConf string
	flag.StringVar(&logConf, "log", "", "configures logging")
	flag.Parse()
	logflags.Setup(logConf != "", logConf, "")
	os.Exit(m.Run())
}

// syncBuffer is a bytes.Buffer safe for concurrent use, events are printed
// by the service thread.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type FakeTerminal struct {
	*Term
	t   testing.TB
	out *syncBuffer
}

const logCommandOutput = false

// redirect sends the output of the terminal to a new buffer.
func (ft *FakeTerminal) redirect() *syncBuffer {
	out := &syncBuffer{}
	ft.stdout.mu.Lock()
	ft.stdout.pw.w = out
	ft.out = out
	ft.stdout.mu.Unlock()
	return out
}

func (ft *FakeTerminal) Exec(cmdstr string) (outstr string, err error) {
	out := ft.redirect()
	err = ft.cmds.Call(cmdstr, ft.Term)
	outstr = out.String()
	if logCommandOutput {
		ft.t.Logf("command %q -> %q", cmdstr, outstr)
	}
	return
}

func (ft *FakeTerminal) MustExec(cmdstr string) string {
	ft.t.Helper()
	outstr, err := ft.Exec(cmdstr)
	if err != nil {
		ft.t.Fatalf("Error executing <%s>: %v", cmdstr, err)
	}
	return outstr
}

func (ft *FakeTerminal) AssertExec(cmdstr, tgt string) {
	ft.t.Helper()
	out := ft.MustExec(cmdstr)
	if out != tgt {
		ft.t.Fatalf("output of %q mismatch:\ngot:\n%s\nexpected:\n%s", cmdstr, out, tgt)
	}
}

func (ft *FakeTerminal) AssertExecError(cmdstr, tgterr string) {
	ft.t.Helper()
	_, err := ft.Exec(cmdstr)
	if err == nil {
		ft.t.Fatalf("Expected error executing %q", cmdstr)
	}
	if !strings.Contains(err.Error(), tgterr) {
		ft.t.Fatalf("Expected error %q executing %q, got error %q", tgterr, cmdstr, err.Error())
	}
}

// waitOutput waits for the output of the terminal to contain s.
func (ft *FakeTerminal) waitOutput(s string) {
	ft.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(ft.out.String(), s) {
		if time.Now().After(deadline) {
			ft.t.Fatalf("timed out waiting for %q, got:\n%s", s, ft.out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func withTestTerminal(t testing.TB, fn func(*FakeTerminal)) {
	a, err := agent.New(&agent.Config{}, protest.LoadFixture(t, "testvm"))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	term := New(a, &config.Config{})
	term.dumb = true
	defer term.Close()
	ft := &FakeTerminal{Term: term, t: t}
	ft.redirect()
	fn(ft)
}

const (
	mainWork  = "com.example.Main.work(IJ)V"
	workerRun = "com.example.Worker.run()V"
)

func TestCommandDefault(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.AssertExecError("nonexistent-command", "command not available")
		term.AssertExec("", "")
	})
}

func TestHelp(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		out := term.MustExec("help")
		for _, s := range []string{"The following commands are available:", "Manipulating breakpoints:", "break (alias: b)", "exit (alias: quit | q)"} {
			if !strings.Contains(out, s) {
				t.Fatalf("help output does not contain %q:\n%s", s, out)
			}
		}
		if out := term.MustExec("help b"); !strings.HasPrefix(out, "Sets a breakpoint.") {
			t.Fatalf("unexpected help for break: %q", out)
		}
		term.AssertExecError("help nonexistent", "command not available")
	})
}

func TestCommandReplace(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		called := false
		term.cmds.Register("help", func(t *Term, args string) error {
			called = true
			return nil
		}, "replaced")
		term.MustExec("help")
		if !called {
			t.Fatalf("registered command not called")
		}
		term.cmds.Register("hello", func(t *Term, args string) error {
			if args != "world" {
				return noCmdError
			}
			called = false
			return nil
		}, "says hello")
		term.MustExec("hello world")
		if called {
			t.Fatalf("new command not called")
		}
	})
}

func TestMergeAliases(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.cmds.Merge(map[string][]string{"breakpoints": {"bps"}})
		term.AssertExec("bps", "No breakpoints.\n")
		term.cmds.Merge(map[string][]string{"breakpoints": {"allbps"}})
		term.AssertExecError("bps", "command not available")
		term.AssertExec("allbps", "No breakpoints.\n")
		term.AssertExec("bp", "No breakpoints.\n")
	})
}

func TestParseMethodLocation(t *testing.T) {
	tests := []struct {
		in     string
		method string
		bci    int
		err    bool
	}{
		{mainWork + "@10", mainWork, 10, false},
		{mainWork + " 12", mainWork, 12, false},
		{workerRun, workerRun, 0, false},
		{mainWork + "@x", "", 0, true},
		{mainWork + " x", "", 0, true},
		{"", "", 0, true},
		{"a b c", "", 0, true},
	}
	for _, tt := range tests {
		method, bci, err := parseMethodLocation(tt.in)
		if tt.err {
			if err == nil {
				t.Errorf("%q: expected an error", tt.in)
			}
			continue
		}
		if err != nil || method != tt.method || bci != tt.bci {
			t.Errorf("%q: got %q %d %v", tt.in, method, bci, err)
		}
	}
}

func TestBreakpoints(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.AssertExec("break "+mainWork+"@10", "Breakpoint set at "+mainWork+"@10\n")
		term.AssertExec("break "+mainWork+"@10", "Breakpoint already set at "+mainWork+"@10\n")
		term.AssertExec("b "+workerRun+" 3", "Breakpoint set at "+workerRun+"@3\n")

		out := term.MustExec("breakpoints")
		if !strings.Contains(out, "Breakpoint 1 at "+mainWork+"@10") || !strings.Contains(out, "Breakpoint 2 at "+workerRun+"@3") {
			t.Fatalf("unexpected breakpoints output:\n%s", out)
		}

		term.AssertExec("clear 1", "Breakpoint "+mainWork+"@10 cleared\n")
		term.AssertExec("clear "+workerRun+"@3", "Breakpoint "+workerRun+"@3 cleared\n")
		term.AssertExec("breakpoints", "No breakpoints.\n")

		term.AssertExecError("break com.example.Main.nothing()V", "not found")
		term.AssertExecError("break "+mainWork+"@x", "invalid bytecode offset")
		term.AssertExecError("break "+mainWork+"@-1", "negative bytecode offset")
		term.AssertExecError("clear 5", "no breakpoint with id 5")
		term.AssertExecError("clear "+mainWork+"@10", "not found")
	})
}

func TestThreads(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		out := term.MustExec("threads")
		for _, s := range []string{`  thread 1 "main" (suspended) at ` + mainWork + "@10 (interpreted)", `virtual thread 100 "vt-mounted" on 5`, `thread 3 "running" at`} {
			if !strings.Contains(out, s) {
				t.Fatalf("threads output does not contain %q:\n%s", s, out)
			}
		}
		term.AssertExec("thread 1", "Switched to thread 1\n")
		if out := term.MustExec("threads"); !strings.Contains(out, `* thread 1 "main"`) {
			t.Fatalf("current thread not marked:\n%s", out)
		}
		term.AssertExecError("thread 999", "no thread 999")
		term.AssertExecError("thread x", "invalid thread id")
		term.AssertExecError("thread", "you must specify a thread")
	})
}

func TestStack(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.AssertExecError("stack", "no thread selected")
		out := term.MustExec("stack 1")
		lines := strings.Split(strings.TrimSpace(out), "\n")
		if len(lines) != 2 || !strings.Contains(lines[0], mainWork) || !strings.Contains(lines[0], "@10") || !strings.Contains(lines[1], "com.example.Main.main") {
			t.Fatalf("unexpected stack:\n%s", out)
		}

		term.MustExec("thread 1")
		out = term.MustExec("stack -full 1")
		if !strings.Contains(out, "1: I n = 7") || !strings.Contains(out, "2: J total = 100L") {
			t.Fatalf("locals missing from full stack:\n%s", out)
		}
		if out := term.MustExec("stack 1 1"); strings.Count(out, "\n") != 1 {
			t.Fatalf("expected a single frame:\n%s", out)
		}
		if out := term.MustExec("stack 2"); !strings.Contains(out, "(compiled)") || !strings.Contains(out, "(native)") {
			t.Fatalf("unexpected stack of thread 2:\n%s", out)
		}
		term.AssertExecError("stack 1 x", "invalid depth")
		term.AssertExecError("stack 1 2 3", "too many arguments")
	})
}

func TestLocals(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		out := term.MustExec("locals 1")
		if !strings.Contains(out, "1: I n = 7") || !strings.HasPrefix(out, "0: Lcom/example/Main; this = com.example.Main@") {
			t.Fatalf("unexpected locals:\n%s", out)
		}
		term.AssertExec("locals get 1 0 1 int", "7\n")
		term.AssertExec("locals get 1 0 2 long", "100L\n")
		term.MustExec("locals set 1 0 1 int 42")
		term.AssertExec("locals get 1 0 1 int", "42\n")
		term.MustExec("locals set 1 0 4 object null")
		term.AssertExec("locals get 1 0 4 object", "null\n")
		term.MustExec("locals set 1 0 4 object @str")
		if out := term.MustExec("locals get 1 0 4 object"); !strings.HasPrefix(out, "java.lang.String@") {
			t.Fatalf("unexpected value %q", out)
		}

		term.AssertExecError("locals get 1 0 1 long", "type mismatch")
		term.AssertExecError("locals set 1 0 4 object @circle", "invalid class")
		term.AssertExecError("locals set 1 0 4 object @nobody", "no object named")
		term.AssertExecError("locals get 3 0 1 int", "thread not suspended")
		term.AssertExecError("locals get 1 5 1 int", "no such frame")
		term.AssertExecError("locals get 1 0 1", "wrong number of arguments")
		term.AssertExecError("locals get 1 0 1 bogus", "unknown type")

		// Writes into compiled frames are installed when the thread resumes.
		term.MustExec("locals set 7 0 1 int 5")
		if out := term.MustExec("locals 7"); !strings.Contains(out, "I n = 5 (pending)") {
			t.Fatalf("expected a pending value:\n%s", out)
		}
		term.AssertExec("locals get 7 0 1 int", "5\n")
		term.AssertExec("locals 2 1", "-1: Lcom/example/Main; this = "+term.MustExec("receiver 2 1"))
	})
}

func TestReceiver(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		if out := term.MustExec("receiver 1 0"); !strings.HasPrefix(out, "com.example.Main@") {
			t.Fatalf("unexpected receiver %q", out)
		}
		if out := term.MustExec("receiver 100 0"); !strings.HasPrefix(out, "com.example.Main@") {
			t.Fatalf("unexpected receiver of virtual thread %q", out)
		}
		term.AssertExecError("receiver 1 1", "invalid slot")
		term.AssertExecError("receiver 1", "wrong number of arguments")
	})
}

func TestRedefine(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.MustExec("break " + mainWork + "@10")
		if out := term.MustExec("redefine com.example.Main"); !strings.HasPrefix(out, "Redefined com.example.Main (version ") || !strings.HasSuffix(out, "), 1 breakpoints cleared\n") {
			t.Fatalf("unexpected output %q", out)
		}
		term.AssertExec("breakpoints", "No breakpoints.\n")
		term.AssertExecError("redefine com.example.Nope", "no class named")
		term.AssertExecError("redefine", "you must specify a class")
	})
}

func TestUnloadAndCompile(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.MustExec("break " + workerRun)
		term.AssertExecError("unload com.example.Worker", "held alive")
		term.AssertExec("unload com.example.Point", "Unloaded com.example.Point\n")
		term.waitOutput("> repl: class-unload com.example.Point")

		if out := term.MustExec("compile " + workerRun + " 16"); !strings.HasPrefix(out, "Installed "+workerRun+" [0x") {
			t.Fatalf("unexpected output %q", out)
		}
		term.waitOutput("> repl: compiled-method-load " + workerRun)
		term.AssertExecError("compile com.example.Main.nativeHash()I", "native")
		term.AssertExecError("compile "+workerRun+" 0", "invalid size")
	})
}

func TestSweep(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		out := term.MustExec("sweep")
		if !strings.Contains(out, "Reclaimed com.example.Main.main([Ljava/lang/String;)V [0x") || !strings.Contains(out, "1 code blobs reclaimed\n") {
			t.Fatalf("unexpected output:\n%s", out)
		}
		term.waitOutput("> repl: compiled-method-unload method ")
		term.AssertExec("sweep", "0 code blobs reclaimed\n")
	})
}

func TestEvents(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		out := term.MustExec("events")
		if !strings.Contains(out, "repl") || !strings.Contains(out, "compiled-method-load,compiled-method-unload") || !strings.HasSuffix(out, "0 events queued, 0 dropped\n") {
			t.Fatalf("unexpected output:\n%s", out)
		}

		out = term.MustExec("events generate")
		if strings.Count(out, "> repl: compiled-method-load ") != 2 || !strings.Contains(out, mainWork) || !strings.HasSuffix(out, "2 events generated\n") {
			t.Fatalf("unexpected output:\n%s", out)
		}

		// Events of disabled kinds are consumed without being printed.
		term.MustExec("events off")
		term.AssertExec("events generate", "2 events generated\n")
		if out := term.MustExec("events"); strings.Contains(out, "compiled-method-load") {
			t.Fatalf("terminal still subscribed:\n%s", out)
		}
		term.MustExec("events on compiled-method-load")
		if out := term.MustExec("events generate"); !strings.HasSuffix(out, "2 events generated\n") {
			t.Fatalf("unexpected output:\n%s", out)
		}
		term.AssertExec("events post", "0 events posted\n")
		term.AssertExecError("events on bogus", "bogus")
		term.AssertExecError("events bogus", "unknown events subcommand")
	})
}

func TestConfig(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.MustExec("config max-stack-depth 1")
		if out := term.MustExec("stack 1"); strings.Count(out, "\n") != 1 {
			t.Fatalf("max-stack-depth ignored:\n%s", out)
		}
		term.MustExec("config service-poll-interval 2s")
		term.MustExec("config event-sink ws://localhost:1/events")
		out := term.MustExec("config -list")
		for _, s := range []string{"max-stack-depth       1", "service-poll-interval 2s", "event-sink            ws://localhost:1/events", "resolver-cache-size   <not defined>"} {
			if !strings.Contains(out, s) {
				t.Fatalf("config -list does not contain %q:\n%s", s, out)
			}
		}
		term.AssertExecError("config self-frame-access bogus", "unknown policy")
		term.MustExec("config self-frame-access deoptimize")
		term.AssertExecError("config max-stack-depth x", "must be a number")
		term.AssertExecError("config nonexistent 1", "is not a configuration parameter")

		term.MustExec("config alias breakpoints bps")
		term.AssertExec("bps", "No breakpoints.\n")
		term.MustExec("config alias bps")
		term.AssertExecError("bps", "command not available")
	})
}

func TestSourceFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "init")
	src := "# comment\n\nbreak " + mainWork + "@10\nbogus\nbreakpoints\n"
	if err := ioutil.WriteFile(path, []byte(src), 0600); err != nil {
		t.Fatal(err)
	}
	withTestTerminal(t, func(term *FakeTerminal) {
		out := term.MustExec("source " + path)
		for _, s := range []string{"Breakpoint set at " + mainWork + "@10", path + ":4: command not available", "Breakpoint 1 at " + mainWork + "@10"} {
			if !strings.Contains(out, s) {
				t.Fatalf("output does not contain %q:\n%s", s, out)
			}
		}
		term.AssertExecError("source", "wrong number of arguments")
		term.AssertExecError("source "+filepath.Join(dir, "missing"), "no such file")
	})
}

func TestTranscript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.txt")
	withTestTerminal(t, func(term *FakeTerminal) {
		term.MustExec("transcript " + path)
		term.AssertExec("breakpoints", "No breakpoints.\n")
		term.MustExec("transcript -off")
		term.MustExec("transcript -x " + path)
		term.AssertExec("bp", "")
		term.MustExec("transcript -off")
		term.AssertExecError("transcript", "no output path specified")
		term.AssertExecError("transcript -y "+path, "unrecognized option")
	})
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf) != "No breakpoints.\nNo breakpoints.\n" {
		t.Fatalf("unexpected transcript %q", buf)
	}
}

func TestExit(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		_, err := term.Exec("exit")
		if _, ok := err.(ExitRequestError); !ok {
			t.Fatalf("expected ExitRequestError, got %v", err)
		}
	})
}

func TestWriteMarkdown(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		var buf bytes.Buffer
		term.cmds.WriteMarkdown(&buf)
		out := buf.String()
		for _, s := range []string{"## Manipulating breakpoints", "[break](#break) | Sets a breakpoint.", "## locals\n", "Aliases: bt"} {
			if !strings.Contains(out, s) {
				t.Fatalf("documentation does not contain %q", s)
			}
		}
	})
}

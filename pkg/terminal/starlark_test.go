package terminal

import (
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"
)

// writeStarFile writes src to a starlark script in a temporary directory.
func writeStarFile(t *testing.T, name, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name+".star")
	if err := ioutil.WriteFile(path, []byte(src), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func (ft *FakeTerminal) execStarlark(t *testing.T, src string) string {
	t.Helper()
	return ft.MustExec("source " + writeStarFile(t, "script", src))
}

func TestStarlarkBreakpoints(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		out := term.execStarlark(t, `
def main():
	print(set_breakpoint("com.example.Main.work(IJ)V", 10))
	print(set_breakpoint("com.example.Main.work(IJ)V", bci=10))
	print(set_breakpoint("com.example.Worker.run()V"))
	for bp in breakpoints():
		print(bp.ID, bp.Method, bp.BCI)
	clear_breakpoint("com.example.Worker.run()V")
	print(len(breakpoints()))
`)
		expected := "True\nFalse\nTrue\n1 com.example.Main.work(IJ)V 10\n2 com.example.Worker.run()V 0\n1\n"
		if out != expected {
			t.Fatalf("unexpected output:\n%s\nexpected:\n%s", out, expected)
		}
		if out := term.MustExec("breakpoints"); !strings.HasPrefix(out, "Breakpoint 1 at com.example.Main.work(IJ)V@10 (class version ") || strings.Count(out, "\n") != 1 {
			t.Fatalf("unexpected breakpoints %q", out)
		}
	})
}

func TestStarlarkThreads(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		out := term.execStarlark(t, `
def main():
	for th in threads():
		if th.Suspended and not th.Virtual:
			print(th.ID, th.Name)
	frames = stacktrace(1)
	print(len(frames), frames[0].Method, frames[0].BCI)
	print(len(stacktrace(1, 1)))
`)
		for _, s := range []string{"1 main\n", "2 worker\n", "7 optimized\n", "2 com.example.Main.work(IJ)V 10\n1\n"} {
			if !strings.Contains(out, s) {
				t.Fatalf("output does not contain %q:\n%s", s, out)
			}
		}
		if strings.Contains(out, "3 running") || strings.Contains(out, "100 vt-mounted") {
			t.Fatalf("unexpected thread in output:\n%s", out)
		}
	})
}

func TestStarlarkLocals(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		out := term.execStarlark(t, `
def main():
	print(get_local(1, 0, 1, "int"))
	print(get_local(1, 0, 2, "long"))
	set_local(1, 0, 1, "int", 42)
	print(get_local(1, 0, 1, "int"))
	set_local(1, 0, 4, "object", None)
	print(get_local(1, 0, 4, "object"))
	set_local(1, 0, 4, "object", "@str")
	print(get_local(1, 0, 4, "object").startswith("java.lang.String@"))
	print(get_receiver(1, 0).startswith("com.example.Main@"))
`)
		expected := "7\n100\n42\nNone\nTrue\nTrue\n"
		if out != expected {
			t.Fatalf("unexpected output:\n%s\nexpected:\n%s", out, expected)
		}
		term.AssertExec("locals get 1 0 1 int", "42\n")
	})
}

func TestStarlarkErrors(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		for _, tc := range []struct {
			src string
			err string
		}{
			{`get_local(3, 0, 1, "int")`, "thread not suspended"},
			{`get_local(1, 0, 1, "long")`, "type mismatch"},
			{`get_local(1, 0, 1, "bogus")`, "unknown type"},
			{`get_local(1, 0)`, "want at least 4"},
			{`get_receiver(1, 1)`, "invalid slot"},
			{`set_local(1, 0, 1, "int")`, "wrong number of arguments"},
			{`set_local(1, 0, 4, "object", "@nobody")`, "no object named"},
			{`set_breakpoint("com.example.Main.nothing()V")`, "not found"},
			{`vm_command(1)`, "is not a string"},
		} {
			_, err := term.Exec("source " + writeStarFile(t, "error", tc.src))
			if err == nil || !strings.Contains(err.Error(), tc.err) {
				t.Errorf("%s: expected error %q, got %v", tc.src, tc.err, err)
			}
		}
	})
}

func TestStarlarkVMCommand(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.MustExec("thread 7")
		out := term.execStarlark(t, `
def main():
	vm_command("break", "com.example.Main.work(IJ)V@3")
	print(cur_thread())
`)
		if out != "Breakpoint set at com.example.Main.work(IJ)V@3\n7\n" {
			t.Fatalf("unexpected output %q", out)
		}
	})
}

func TestStarlarkCommands(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.execStarlark(t, `
def command_double(args):
	"Prints a local variable of the current thread twice."
	v = get_local(cur_thread(), 0, int(args), "int")
	print(v * 2)

def command_add(a, b):
	print(a + b)

Exported = 5
`)
		term.MustExec("thread 1")
		term.AssertExec("double 1", "14\n")
		term.AssertExec("add 2, Exported", "7\n")
		term.AssertExec("help double", "Prints a local variable of the current thread twice.\n")
		if out := term.MustExec("help add"); out != "user defined\n" {
			t.Fatalf("unexpected help %q", out)
		}
	})
}

func TestStarlarkHelp(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		out := term.execStarlark(t, `help(get_local)`)
		if !strings.HasPrefix(out, "get_local(ThreadID, Depth, Slot, Type)\n\nget_local reads a local variable slot.") {
			t.Fatalf("unexpected help %q", out)
		}
		out = term.execStarlark(t, `help()`)
		for _, name := range []string{"breakpoints", "get_receiver", "set_local", "vm_command"} {
			if !strings.Contains(out, "\t"+name+"\n") {
				t.Fatalf("builtin %s not listed:\n%s", name, out)
			}
		}
	})
}

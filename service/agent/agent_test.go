package agent_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vmagent/vmagent/pkg/agenterr"
	"github.com/vmagent/vmagent/pkg/breakpoint"
	"github.com/vmagent/vmagent/pkg/config"
	"github.com/vmagent/vmagent/pkg/events"
	"github.com/vmagent/vmagent/pkg/locals"
	"github.com/vmagent/vmagent/pkg/vm"
	protest "github.com/vmagent/vmagent/pkg/vm/test"
	"github.com/vmagent/vmagent/service/agent"
)

const (
	mainWork = "com.example.Main.work(IJ)V"
	mainMain = "com.example.Main.main([Ljava/lang/String;)V"
)

func newAgent(t *testing.T) *agent.Agent {
	t.Helper()
	a, err := agent.New(&agent.Config{}, protest.LoadFixture(t, "testvm"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func assertCode(t *testing.T, err error, code agenterr.Code) {
	t.Helper()
	if agenterr.CodeOf(err) != code {
		t.Fatalf("expected %v, got %v", code, err)
	}
}

func TestAgent_Breakpoints(t *testing.T) {
	a := newAgent(t)

	st, err := a.SetBreakpoint(mainWork, 10)
	if err != nil || st != breakpoint.Changed {
		t.Fatalf("expected changed, got %v %v", st, err)
	}
	st, err = a.SetBreakpoint(mainWork, 10)
	if err != nil || st != breakpoint.NotChanged {
		t.Fatalf("expected not changed, got %v %v", st, err)
	}
	if _, err := a.SetBreakpoint(mainMain, 3); err != nil {
		t.Fatal(err)
	}

	bps, err := a.Breakpoints()
	if err != nil {
		t.Fatal(err)
	}
	if len(bps) != 2 || bps[0].Method != mainWork || bps[0].BCI != 10 || bps[1].ID != 2 {
		t.Fatalf("unexpected breakpoints %v", bps)
	}
	work, _ := a.FindMethod(mainWork)
	if !work.HasBreakpoint(10) {
		t.Fatalf("breakpoint not armed")
	}

	var buf bytes.Buffer
	if err := a.PrintBreakpoints(&buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), mainWork+"@10") {
		t.Fatalf("unexpected listing %q", buf.String())
	}

	if err := a.ClearBreakpoint(mainWork, 10); err != nil {
		t.Fatal(err)
	}
	assertCode(t, a.ClearBreakpoint(mainWork, 10), agenterr.NotFound)
	if work.HasBreakpoint(10) {
		t.Fatalf("breakpoint still armed")
	}

	_, err = a.SetBreakpoint("com.example.Main.nope()V", 0)
	assertCode(t, err, agenterr.NotFound)
	_, err = a.SetBreakpoint(mainWork, -1)
	assertCode(t, err, agenterr.IllegalArgument)
}

func TestAgent_Locals(t *testing.T) {
	a := newAgent(t)

	ref := agent.LocalRef{Thread: 1, Depth: 0, Slot: 1, Type: vm.Int}
	v, err := a.GetLocal(ref)
	if err != nil || v.Int() != 7 {
		t.Fatalf("expected 7, got %v %v", v, err)
	}
	if err := a.SetLocal(ref, vm.IntValue(42)); err != nil {
		t.Fatal(err)
	}
	if v, _ := a.GetLocal(ref); v.Int() != 42 {
		t.Fatalf("expected 42 after write, got %v", v)
	}

	recv, err := a.GetReceiver(agent.LocalRef{Thread: 1})
	if err != nil || recv.Ref != a.Runtime().Named("main") {
		t.Fatalf("expected main as receiver, got %v %v", recv, err)
	}

	running := agent.LocalRef{Thread: 3, Depth: 0, Slot: 1, Type: vm.Int}
	_, err = a.GetLocal(running)
	assertCode(t, err, agenterr.ThreadNotSuspended)
	running.Caller = 3
	if v, err := a.GetLocal(running); err != nil || v.Int() != 1 {
		t.Fatalf("expected own frame to be readable, got %v %v", v, err)
	}

	v, err = a.GetLocal(agent.LocalRef{Thread: 101, Depth: 0, Slot: 1, Type: vm.Int})
	if err != nil || v.Int() != 12 {
		t.Fatalf("expected 12 from the parked virtual thread, got %v %v", v, err)
	}

	_, err = a.GetLocal(agent.LocalRef{Thread: 999})
	assertCode(t, err, agenterr.NotFound)
}

func TestAgent_ThreadsAndStacktrace(t *testing.T) {
	a := newAgent(t)
	threads, err := a.Threads()
	if err != nil {
		t.Fatal(err)
	}
	var sawVirtual, sawCarrier bool
	for _, th := range threads {
		if th.Virtual && th.ID == 100 && th.Carrier == 5 {
			sawVirtual = true
		}
		if !th.Virtual && th.ID == 5 && th.Mounted == 100 {
			sawCarrier = true
		}
	}
	if !sawVirtual || !sawCarrier {
		t.Fatalf("mounted virtual thread not reported: %v", threads)
	}

	frames, err := a.Stacktrace(1, -1)
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 2 || frames[0].Method != mainWork || frames[1].Method != mainMain {
		t.Fatalf("unexpected stack %v", frames)
	}
	if n := frames[0].Var("n"); n == nil || n.Value != "7" {
		t.Fatalf("expected n = 7, got %v", n)
	}
	if frames, _ := a.Stacktrace(1, 1); len(frames) != 1 {
		t.Fatalf("depth not honored")
	}
}

func TestAgent_CompiledFrameWriteOnResume(t *testing.T) {
	a := newAgent(t)
	ref := agent.LocalRef{Thread: 7, Depth: 0, Slot: 1, Type: vm.Int}
	if err := a.SetLocal(ref, vm.IntValue(99)); err != nil {
		t.Fatal(err)
	}
	frames, _ := a.Stacktrace(7, 1)
	if n := frames[0].Var("n"); n == nil || n.Value != "99" || !n.Pending {
		t.Fatalf("expected pending 99, got %v", n)
	}
	if err := a.Resume(7); err != nil {
		t.Fatal(err)
	}
	frames, _ = a.Stacktrace(7, 1)
	if n := frames[0].Var("n"); n == nil || n.Value != "99" || n.Pending || frames[0].Kind != "interpreted" {
		t.Fatalf("expected installed 99, got %v in %v", n, frames[0])
	}
	_, err := a.GetLocal(ref)
	assertCode(t, err, agenterr.ThreadNotSuspended)
	if err := a.Suspend(7); err != nil {
		t.Fatal(err)
	}
	if v, err := a.GetLocal(ref); err != nil || v.Int() != 99 {
		t.Fatalf("expected 99 after suspending again, got %v %v", v, err)
	}
}

func TestAgent_RedefineClass(t *testing.T) {
	a := newAgent(t)
	if _, err := a.SetBreakpoint(mainWork, 10); err != nil {
		t.Fatal(err)
	}
	old, _ := a.FindMethod(mainWork)
	n, err := a.RedefineClass("com.example.Main", old.Class.NewVersion())
	if err != nil || n != 1 {
		t.Fatalf("expected one breakpoint cleared, got %d %v", n, err)
	}
	if bps, _ := a.Breakpoints(); len(bps) != 0 {
		t.Fatalf("breakpoints left after redefinition: %v", bps)
	}
	if old.HasBreakpoint(10) || !old.Obsolete() {
		t.Fatalf("old version still armed or not obsolete")
	}
	if _, err := a.SetBreakpoint(mainWork, 10); err != nil {
		t.Fatal(err)
	}
	if !old.HasBreakpoint(10) {
		t.Fatalf("expected breakpoint to be armed in the obsolete version too")
	}
	_, err = a.RedefineClass("com.example.Nope", &vm.Class{})
	assertCode(t, err, agenterr.NotFound)
}

func TestAgent_UnloadClass(t *testing.T) {
	a := newAgent(t)
	got := make(chan string, 1)
	a.CreateEnv("A", events.Callbacks{
		ClassUnload: func(env *events.Env, name string) { got <- name },
	}, events.ClassUnload)

	if _, err := a.SetBreakpoint("com.example.Worker.run()V", 0); err != nil {
		t.Fatal(err)
	}
	assertCode(t, a.UnloadClass("com.example.Worker"), agenterr.IllegalArgument)
	if err := a.UnloadClass("com.example.Point"); err != nil {
		t.Fatal(err)
	}
	select {
	case name := <-got:
		if name != "com.example.Point" {
			t.Fatalf("unexpected class %q", name)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("class unload event not posted")
	}
}

func TestAgent_Events(t *testing.T) {
	a := newAgent(t)
	got := make(chan string, 10)
	env := a.CreateEnv("A", events.Callbacks{
		DynamicCodeGenerated: func(env *events.Env, name string, begin, end uintptr) { got <- "stub " + name },
		ClassUnload:          func(env *events.Env, name string) { got <- "class " + name },
		CompiledMethodUnload: func(env *events.Env, id vm.MethodID, begin uintptr) { got <- "unload" },
	}, events.DynamicCodeGenerated, events.ClassUnload, events.CompiledMethodUnload)
	other := a.CreateEnv("B", events.Callbacks{}, events.CompiledMethodLoad)

	if n := a.DynamicCodeGenerated("stub1", 0x1000, 0x1010); n != 1 {
		t.Fatalf("expected one subscribed env, got %d", n)
	}
	a.ClassUnloaded("com.Foo")
	if reclaimed := a.Sweep(); len(reclaimed) != 1 {
		t.Fatalf("expected main code to be reclaimed, got %v", reclaimed)
	}

	for _, expected := range []string{"stub stub1", "class com.Foo", "unload"} {
		select {
		case s := <-got:
			if s != expected {
				t.Fatalf("expected %q, got %q", expected, s)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %q", expected)
		}
	}

	if len(a.Envs()) != 2 || a.Env(env.ID) != env {
		t.Fatalf("wrong environments")
	}
	if err := a.DisposeEnv(other); err != nil {
		t.Fatal(err)
	}
	assertCode(t, a.DisposeEnv(other), agenterr.Disposed)
	if !other.Disposed() || len(a.Envs()) != 1 {
		t.Fatalf("env not disposed")
	}
}

func TestAgent_CompileAfterBreakpoint(t *testing.T) {
	a := newAgent(t)
	if _, err := a.SetBreakpoint(mainWork, 10); err != nil {
		t.Fatal(err)
	}
	code, err := a.Compile(mainWork, 32)
	if err != nil {
		t.Fatal(err)
	}
	if !code.Patched(10) {
		t.Fatalf("code compiled after the breakpoint was set is not armed at bci 10")
	}
	if err := a.ClearBreakpoint(mainWork, 10); err != nil {
		t.Fatal(err)
	}
	if code.Patched(10) {
		t.Fatalf("breakpoint still patched in compiled code after clear")
	}

	if err := a.MakeNotEntrant(code.Begin); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, c := range a.Sweep() {
		if c == code {
			found = true
		}
	}
	if !found {
		t.Fatalf("not entrant code was not reclaimed")
	}
}

func TestAgent_GenerateEvents(t *testing.T) {
	a := newAgent(t)
	var loaded []string
	env := a.CreateEnv("A", events.Callbacks{
		CompiledMethodLoad: func(env *events.Env, code *vm.Code) { loaded = append(loaded, code.Method.Name) },
	})
	env.SetEventNotificationMode(true, events.CompiledMethodLoad)
	if n := a.GenerateEvents(env); n != 2 {
		t.Fatalf("expected 2 events, got %d", n)
	}
	if len(loaded) != 2 || loaded[0] != "work" || loaded[1] != "run" {
		t.Fatalf("expected load events for the alive code, got %v", loaded)
	}
}

func TestAgent_Close(t *testing.T) {
	a := newAgent(t)
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := a.SetBreakpoint(mainWork, 10); !errors.Is(err, agent.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := a.GetLocal(agent.LocalRef{Thread: 1, Slot: 1, Type: vm.Int}); !errors.Is(err, agent.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	a.Close()
}

func TestConfigFrom(t *testing.T) {
	size := 12
	cfg, err := agent.ConfigFrom(&config.Config{SelfFrameAccess: "deoptimize", ResolverCacheSize: &size, EventQueueLimit: 4})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SelfFrameAccess != locals.SelfDeoptimize || cfg.ResolverCacheSize != 12 || cfg.EventQueueLimit != 4 {
		t.Fatalf("unexpected config %#v", cfg)
	}
	if _, err := agent.ConfigFrom(&config.Config{SelfFrameAccess: "never"}); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}

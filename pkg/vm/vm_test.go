package vm_test

import (
	"errors"
	"testing"

	"github.com/vmagent/vmagent/pkg/vm"
	protest "github.com/vmagent/vmagent/pkg/vm/test"
)

const (
	mainWork = "com.example.Main.work(IJ)V"
	mainMain = "com.example.Main.main([Ljava/lang/String;)V"
)

func TestLoadImage(t *testing.T) {
	rt := protest.LoadFixture(t, "testvm")

	if c := rt.Classes.Lookup("com.example.Lazy"); c != nil {
		t.Fatalf("lazy class defined before first use")
	}
	if n := len(rt.Threads()); n != 7 {
		t.Fatalf("expected 7 threads, got %d", n)
	}
	if n := len(rt.VirtualThreads()); n != 3 {
		t.Fatalf("expected 3 virtual threads, got %d", n)
	}

	th := protest.MustThread(t, rt, 1)
	if !th.Suspended() {
		t.Fatalf("expected thread 1 to be suspended")
	}
	top := th.Frames()[0]
	if top.Method.QualifiedName() != mainWork {
		t.Fatalf("unexpected top frame %v", top)
	}
	if len(top.Locals) != 5 {
		t.Fatalf("expected 5 locals, got %d", len(top.Locals))
	}
	if top.Locals[1].Int() != 7 || top.Locals[2].Long() != 100 {
		t.Fatalf("unexpected locals %v", top.Locals)
	}
	if top.Locals[3].Kind != vm.Illegal {
		t.Fatalf("expected second half of long to be illegal, got %v", top.Locals[3])
	}
	if top.Locals[0].Ref != rt.Named("main") {
		t.Fatalf("expected this to be the main object, got %v", top.Locals[0])
	}

	worker := rt.Named("worker")
	if worker.Fields["target"].Ref != rt.Named("circle") {
		t.Fatalf("unexpected field value %v", worker.Fields["target"])
	}

	live := rt.Code.Live()
	if len(live) != 3 {
		t.Fatalf("expected 3 code blobs, got %d", len(live))
	}
	if live[0].Oops[0] != rt.Named("main") {
		t.Fatalf("expected oop of %v to be main", live[0])
	}
	if s := live[2].State(); s != vm.CodeNotEntrant {
		t.Fatalf("expected %v to be not entrant, got %v", live[2], s)
	}
}

func TestParseImageErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		img  string
	}{
		{"unknown key", "classez: []"},
		{"unknown super", "classes:\n  - name: A\n    super: B\n"},
		{"unknown method", "classes:\n  - name: A\nthreads:\n  - id: 1\n    frames:\n      - method: A.foo()V\n"},
		{"unknown kind", "classes:\n  - name: A\n    methods:\n      - {name: foo, signature: ()V}\nthreads:\n  - id: 1\n    frames:\n      - {method: A.foo()V, kind: jit}\n"},
		{"unknown object", "classes:\n  - name: A\n    methods:\n      - {name: foo, signature: ()V, max-locals: 1}\nthreads:\n  - id: 1\n    frames:\n      - {method: A.foo()V, locals: [{object: nope}]}\n"},
		{"unknown carrier", "virtual-threads:\n  - id: 1\n    carrier: 9\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := vm.ParseImage([]byte(tc.img)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestBasicTypes(t *testing.T) {
	for _, tc := range []struct {
		sig  string
		kind vm.BasicType
		slot vm.BasicType
	}{
		{"Z", vm.Boolean, vm.Int},
		{"C", vm.Char, vm.Int},
		{"B", vm.Byte, vm.Int},
		{"S", vm.Short, vm.Int},
		{"I", vm.Int, vm.Int},
		{"J", vm.Long, vm.Long},
		{"F", vm.Float, vm.Float},
		{"D", vm.Double, vm.Double},
		{"Ljava/lang/String;", vm.Object, vm.Object},
		{"[I", vm.Array, vm.Object},
		{"", vm.Illegal, vm.Illegal},
	} {
		if k := vm.BasicTypeOf(tc.sig); k != tc.kind {
			t.Errorf("BasicTypeOf(%q): expected %v got %v", tc.sig, tc.kind, k)
		}
		if k := vm.BasicTypeOf(tc.sig).SlotKind(); k != tc.slot {
			t.Errorf("SlotKind(%q): expected %v got %v", tc.sig, tc.slot, k)
		}
	}
	if vm.Long.Slots() != 2 || vm.Int.Slots() != 1 {
		t.Fatalf("wrong slot sizes")
	}
	if _, err := vm.ParseBasicType("illegal"); err == nil {
		t.Fatalf("expected illegal to be rejected")
	}
	if k, err := vm.ParseBasicType("Long"); err != nil || k != vm.Long {
		t.Fatalf("expected long, got %v %v", k, err)
	}
}

func TestParseValue(t *testing.T) {
	v, err := vm.ParseValue(vm.Int, "-42")
	if err != nil || v.Int() != -42 {
		t.Fatalf("unexpected value %v %v", v, err)
	}
	v, err = vm.ParseValue(vm.Long, "9000000000L")
	if err != nil || v.Long() != 9000000000 {
		t.Fatalf("unexpected value %v %v", v, err)
	}
	v, err = vm.ParseValue(vm.Double, "2.5")
	if err != nil || v.Double() != 2.5 {
		t.Fatalf("unexpected value %v %v", v, err)
	}
	v, err = vm.ParseValue(vm.Object, "null")
	if err != nil || !v.IsNull() {
		t.Fatalf("unexpected value %v %v", v, err)
	}
	if _, err := vm.ParseValue(vm.Object, "foo"); err == nil {
		t.Fatalf("expected error parsing a reference")
	}
	if s := vm.LongValue(3).String(); s != "3L" {
		t.Fatalf("unexpected string %q", s)
	}
}

func TestResolveLazyClass(t *testing.T) {
	rt := protest.LoadFixture(t, "testvm")
	c, err := rt.Classes.Resolve("com.example.Lazy")
	if err != nil {
		t.Fatal(err)
	}
	if c.Super != rt.Classes.Lookup("java.lang.Object") {
		t.Fatalf("unexpected superclass %v", c.Super)
	}
	if c2, _ := rt.Classes.Resolve("com.example.Lazy"); c2 != c {
		t.Fatalf("class resolved twice")
	}
	_, err = rt.Classes.Resolve("com.example.Missing")
	if !errors.Is(err, vm.ErrClassNotFound) {
		t.Fatalf("expected ErrClassNotFound, got %v", err)
	}
}

func TestIsAssignable(t *testing.T) {
	rt := protest.LoadFixture(t, "testvm")
	circle := rt.Classes.Lookup("com.example.Circle")

	for _, tc := range []struct {
		sig string
		ok  bool
	}{
		{"Lcom/example/Circle;", true},
		{"Lcom/example/Shape;", true},
		{"Ljava/lang/Object;", true},
		{"Ljava/lang/String;", false},
		{"Lcom/example/Lazy;", false},
	} {
		ok, err := rt.Classes.IsAssignable(tc.sig, circle)
		if err != nil {
			t.Fatalf("%s: %v", tc.sig, err)
		}
		if ok != tc.ok {
			t.Errorf("%s: expected %v got %v", tc.sig, tc.ok, ok)
		}
	}
	if _, err := rt.Classes.IsAssignable("Lcom/example/Missing;", circle); !errors.Is(err, vm.ErrClassNotFound) {
		t.Fatalf("expected ErrClassNotFound, got %v", err)
	}
	if _, err := rt.Classes.IsAssignable("I", circle); err == nil {
		t.Fatalf("expected error for primitive descriptor")
	}
}

type countingResolver struct {
	r     vm.Resolver
	calls int
}

func (cr *countingResolver) IsAssignable(sig string, k *vm.Class) (bool, error) {
	cr.calls++
	return cr.r.IsAssignable(sig, k)
}

func TestCachingResolver(t *testing.T) {
	rt := protest.LoadFixture(t, "testvm")
	circle := rt.Classes.Lookup("com.example.Circle")
	counter := &countingResolver{r: rt.Classes}
	cr := vm.NewCachingResolver(counter, 0)

	for i := 0; i < 3; i++ {
		ok, err := cr.IsAssignable("Lcom/example/Shape;", circle)
		if err != nil || !ok {
			t.Fatalf("unexpected result %v %v", ok, err)
		}
	}
	if counter.calls != 1 {
		t.Fatalf("expected 1 call to the underlying resolver, got %d", counter.calls)
	}
	for i := 0; i < 2; i++ {
		if _, err := cr.IsAssignable("Lcom/example/Missing;", circle); err == nil {
			t.Fatalf("expected error")
		}
	}
	if counter.calls != 3 {
		t.Fatalf("expected failed resolutions not to be cached, got %d calls", counter.calls)
	}
	if cr.Len() != 1 {
		t.Fatalf("expected 1 cached entry, got %d", cr.Len())
	}
	cr.Purge()
	if cr.Len() != 0 {
		t.Fatalf("expected empty cache after purge")
	}
}

func TestFindMethods(t *testing.T) {
	rt := protest.LoadFixture(t, "testvm")
	got := rt.Classes.FindMethods("com.example.Main.n")
	want := []string{
		"com.example.Main.nativeHash()I",
		"com.example.Main.nativeStatic()V",
		"com.example.Main.noDebug(I)I",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %v got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v got %v", want, got)
		}
	}
}

func TestRedefineKeepsMethodIdentity(t *testing.T) {
	rt := protest.LoadFixture(t, "testvm")
	old := protest.MustMethod(t, rt, mainWork)
	oldClass := old.Class

	nc := &vm.Class{
		Super: oldClass.Super,
		Methods: []*vm.Method{
			{Name: "work", Signature: "(IJ)V", MaxLocals: 5},
			{Name: "added", Signature: "()V", MaxLocals: 1},
		},
	}
	prev, err := rt.Classes.Redefine("com.example.Main", nc)
	if err != nil {
		t.Fatal(err)
	}
	if prev != oldClass || !oldClass.Obsolete() || nc.Obsolete() {
		t.Fatalf("wrong obsolete state")
	}
	if nc.ID != oldClass.ID || nc.Version != oldClass.Version+1 {
		t.Fatalf("expected identity to be kept, got id %d version %d", nc.ID, nc.Version)
	}
	m := protest.MustMethod(t, rt, mainWork)
	if m == old || m.ID != old.ID {
		t.Fatalf("expected new method with the old id")
	}
	if rt.Classes.Method(old.ID) != m {
		t.Fatalf("expected id to resolve to the current version")
	}
	versions := m.Versions()
	if len(versions) != 2 || versions[1] != old {
		t.Fatalf("unexpected versions %v", versions)
	}
	if protest.MustMethod(t, rt, "com.example.Main.added()V").Versions()[0].Class != nc {
		t.Fatalf("added method has the wrong class")
	}
	if rt.Classes.MethodByName("com.example.Main.noDebug(I)I") != nil {
		t.Fatalf("removed method still resolvable")
	}
}

func TestMethodBreakpointCounts(t *testing.T) {
	rt := protest.LoadFixture(t, "testvm")
	m := protest.MustMethod(t, rt, mainWork)
	code := m.Code()
	if len(code) != 1 {
		t.Fatalf("expected one code blob, got %d", len(code))
	}

	m.SetBreakpoint(4)
	m.SetBreakpoint(4)
	if !m.HasBreakpoint(4) || !code[0].Patched(4) {
		t.Fatalf("breakpoint not armed")
	}
	m.ClearBreakpoint(4)
	if !m.HasBreakpoint(4) || !code[0].Patched(4) {
		t.Fatalf("breakpoint disarmed while still set once")
	}
	m.ClearBreakpoint(4)
	if m.HasBreakpoint(4) || code[0].Patched(4) || m.BreakpointCount() != 0 {
		t.Fatalf("breakpoint still armed")
	}
	m.ClearBreakpoint(8)
}

func TestInstallPatchesArmedBreakpoints(t *testing.T) {
	rt := protest.LoadFixture(t, "testvm")
	m := protest.MustMethod(t, rt, mainWork)
	m.SetBreakpoint(4)
	m.SetBreakpoint(10)

	code := rt.Code.Install(m, 32)
	if !code.Patched(4) || !code.Patched(10) {
		t.Fatalf("code installed after the breakpoints were set is not patched")
	}
	if code.Patched(8) {
		t.Fatalf("unexpected patch at 8")
	}
	m.ClearBreakpoint(10)
	if code.Patched(10) || !code.Patched(4) {
		t.Fatalf("clear did not reach the new code")
	}
}

func TestClassUnloadHeld(t *testing.T) {
	rt := protest.LoadFixture(t, "testvm")
	c := rt.Classes.Lookup("com.example.Point")
	h := c.Retain()
	if err := rt.Classes.Unload(c); err == nil {
		t.Fatalf("expected unload of a held class to fail")
	}
	h.Release()
	h.Release()
	if c.Held() {
		t.Fatalf("double release changed the hold count")
	}
	if err := rt.Classes.Unload(c); err != nil {
		t.Fatal(err)
	}
	if !c.Unloaded() || rt.Classes.Lookup("com.example.Point") != nil {
		t.Fatalf("class not unloaded")
	}
}

type codeRoots []*vm.Code

func (r codeRoots) CodesDo(fn func(*vm.Code)) {
	for _, c := range r {
		fn(c)
	}
}

func TestSweep(t *testing.T) {
	rt := protest.LoadFixture(t, "testvm")
	work := protest.MustMethod(t, rt, mainWork).Code()[0]
	mainCode := protest.MustMethod(t, rt, mainMain).Code()[0]

	var unloaded []*vm.Code
	rt.Code.OnUnload(func(c *vm.Code) { unloaded = append(unloaded, c) })

	rt.Code.MakeNotEntrant(work)
	rt.Code.AddRoots(codeRoots{work})

	if work.BarrierArmed() {
		t.Fatalf("barrier armed before any collection")
	}
	reclaimed := rt.Code.Sweep()
	if len(reclaimed) != 1 || reclaimed[0] != mainCode {
		t.Fatalf("expected only main to be reclaimed, got %v", reclaimed)
	}
	if len(unloaded) != 1 || unloaded[0] != mainCode {
		t.Fatalf("unload hook not called")
	}
	if mainCode.State() != vm.CodeUnloaded || rt.Code.Lookup(mainCode.Begin) != nil {
		t.Fatalf("reclaimed code still in the cache")
	}
	if len(protest.MustMethod(t, rt, mainMain).Code()) != 0 {
		t.Fatalf("reclaimed code still attached to its method")
	}
	if work.State() != vm.CodeNotEntrant {
		t.Fatalf("rooted code was reclaimed")
	}
	if !work.BarrierArmed() {
		t.Fatalf("expected entry barrier to be armed after a sweep")
	}
	work.RunEntryBarrier()
	if work.BarrierArmed() {
		t.Fatalf("entry barrier still armed")
	}
	if rt.Code.Epoch() != 2 {
		t.Fatalf("expected epoch 2, got %d", rt.Code.Epoch())
	}
}

func TestVirtualThreadMount(t *testing.T) {
	rt := protest.LoadFixture(t, "testvm")
	carrier := protest.MustThread(t, rt, 5)
	vt := rt.VirtualThread(100)

	if vt.Carrier() != carrier || carrier.Mounted() != vt {
		t.Fatalf("virtual thread not mounted")
	}
	if len(carrier.Frames()) != 2 || len(carrier.OwnFrames()) != 1 {
		t.Fatalf("unexpected carrier stack %v", carrier.Frames())
	}
	if carrier.OwnFrames()[0].Method.QualifiedName() != mainMain {
		t.Fatalf("unexpected carrier frame %v", carrier.OwnFrames()[0])
	}
	if len(vt.Frames()) != 1 || vt.Frames()[0].Locals[1].Int() != 11 {
		t.Fatalf("unexpected virtual thread stack %v", vt.Frames())
	}

	parked := rt.VirtualThread(101)
	if err := parked.Mount(carrier); err == nil {
		t.Fatalf("expected mounting on a busy carrier to fail")
	}

	vt.Unmount()
	if vt.Carrier() != nil || carrier.Mounted() != nil {
		t.Fatalf("virtual thread still mounted")
	}
	if len(carrier.Frames()) != 1 || len(vt.Frames()) != 1 {
		t.Fatalf("frames not moved back into the continuation")
	}
	if err := parked.Mount(carrier); err != nil {
		t.Fatal(err)
	}
	if parked.Frames()[0].Locals[1].Int() != 12 {
		t.Fatalf("unexpected frames after remount %v", parked.Frames())
	}
}

func TestMaterialize(t *testing.T) {
	rt := protest.LoadFixture(t, "testvm")
	eb := vm.NewEscapeBarrier(rt)

	f := protest.MustThread(t, rt, 2).Frames()[0]
	if !vm.NeedsMaterialization(f) {
		t.Fatalf("expected %v to need materialization", f)
	}
	if err := eb.Materialize(f); err != nil {
		t.Fatal(err)
	}
	p := f.Locals[1].Ref
	if p == nil || p.Class.Name != "com.example.Point" {
		t.Fatalf("expected a materialized point, got %v", f.Locals[1])
	}
	if p.Fields["x"].Int() != 1 || p.Fields["y"].Int() != 2 {
		t.Fatalf("unexpected fields %v", p.Fields)
	}
	if !f.Deoptimized || vm.NeedsMaterialization(f) {
		t.Fatalf("frame not marked deoptimized")
	}

	stuck := protest.MustThread(t, rt, 4).Frames()[0]
	if err := eb.Materialize(stuck); !errors.Is(err, vm.ErrMaterializationFailed) {
		t.Fatalf("expected materialization failure, got %v", err)
	}

	interp := protest.MustThread(t, rt, 1).Frames()[0]
	if err := eb.Materialize(interp); err != nil || interp.Deoptimized {
		t.Fatalf("interpreted frame changed by materialization")
	}
}

func TestDeferredLocalsAppliedOnResume(t *testing.T) {
	rt := protest.LoadFixture(t, "testvm")
	th := protest.MustThread(t, rt, 7)
	f := th.Frames()[0]

	th.Deferred().Set(f, 1, vm.IntValue(99))
	if v, ok := th.Deferred().Get(f, 1); !ok || v.Int() != 99 {
		t.Fatalf("pending update not recorded")
	}
	if f.Locals[1].Int() != 21 {
		t.Fatalf("frame written before resume")
	}
	th.Resume()
	if th.Suspended() {
		t.Fatalf("thread still suspended")
	}
	if f.Locals[1].Int() != 99 || f.Kind != vm.Interpreted || !f.Deoptimized {
		t.Fatalf("pending update not applied: %v %v", f.Locals[1], f.Kind)
	}
	if th.Deferred().Len() != 0 {
		t.Fatalf("pending updates not cleared")
	}
}

func TestNewVersion(t *testing.T) {
	rt := protest.LoadFixture(t, "testvm")
	old := protest.MustMethod(t, rt, mainWork)
	nc := old.Class.NewVersion()
	if nc == old.Class || len(nc.Methods) != len(old.Class.Methods) {
		t.Fatalf("expected a copy with the same methods")
	}
	if _, err := rt.Classes.Redefine(old.Class.Name, nc); err != nil {
		t.Fatal(err)
	}
	m := protest.MustMethod(t, rt, mainWork)
	if m.Class != nc || m.ID != old.ID || len(m.Code()) != 0 {
		t.Fatalf("unexpected redefined method %v (code %v)", m, m.Code())
	}
	if lv, ok := m.LocalAt(4, 10); !ok || lv.Name != "name" {
		t.Fatalf("local variable table not copied")
	}
}

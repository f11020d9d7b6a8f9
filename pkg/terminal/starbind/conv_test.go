package starbind

import (
	"strings"
	"testing"

	"go.starlark.net/starlark"

	"github.com/vmagent/vmagent/pkg/vm"
	protest "github.com/vmagent/vmagent/pkg/vm/test"
	"github.com/vmagent/vmagent/service/api"
)

func TestConv(t *testing.T) {
	script := `
# A list global that we'll convert into local variable values.
x = [1, 2.5, None, "@main", "7"]
`
	globals, err := starlark.ExecFile(&starlark.Thread{}, "test.star", script, nil)
	if err != nil {
		t.Fatal(err)
	}
	x, ok := globals["x"].(*starlark.List)
	if !ok {
		t.Fatal("missing global 'x'")
	}
	rt := protest.LoadFixture(t, "testvm")

	tests := []struct {
		idx  int
		typ  vm.BasicType
		want string
	}{
		{0, vm.Int, "1"},
		{0, vm.Long, "1L"},
		{0, vm.Double, "1"},
		{1, vm.Float, "2.5f"},
		{1, vm.Double, "2.5"},
		{2, vm.Object, "null"},
		{4, vm.Int, "7"},
	}
	for _, tt := range tests {
		v, err := starlarkValueToValue(rt, tt.typ, x.Index(tt.idx))
		if err != nil {
			t.Fatalf("%v as %s: %v", x.Index(tt.idx), tt.typ, err)
		}
		if v.String() != tt.want {
			t.Errorf("%v as %s: expected %s, got %s", x.Index(tt.idx), tt.typ, tt.want, v)
		}
	}

	v, err := starlarkValueToValue(rt, vm.Object, x.Index(3))
	if err != nil {
		t.Fatal(err)
	}
	if v.Ref != rt.Named("main") {
		t.Fatalf("expected the object bound to main, got %v", v)
	}

	for _, tt := range []struct {
		idx int
		typ vm.BasicType
	}{
		{1, vm.Int},
		{0, vm.Object},
		{2, vm.Int},
	} {
		if _, err := starlarkValueToValue(rt, tt.typ, x.Index(tt.idx)); err == nil {
			t.Errorf("expected an error converting %v to %s", x.Index(tt.idx), tt.typ)
		}
	}
}

func TestParseValue(t *testing.T) {
	rt := protest.LoadFixture(t, "testvm")
	v, err := ParseValue(rt, vm.Object, "@str")
	if err != nil || v.Ref == nil || v.Ref != rt.Named("str") {
		t.Fatalf("expected the object bound to str, got %v %v", v, err)
	}
	if v, err := ParseValue(rt, vm.Object, "null"); err != nil || !v.IsNull() {
		t.Fatalf("expected null, got %v %v", v, err)
	}
	if _, err := ParseValue(rt, vm.Object, "@nobody"); err == nil || !strings.Contains(err.Error(), "no object named") {
		t.Fatalf("expected an error, got %v", err)
	}
	if v, err := ParseValue(rt, vm.Long, "12"); err != nil || v.String() != "12L" {
		t.Fatalf("expected 12L, got %v %v", v, err)
	}
	if _, err := ParseValue(rt, vm.Int, "x"); err == nil {
		t.Fatalf("expected an error parsing x as int")
	}
}

func TestValueToStarlarkValue(t *testing.T) {
	rt := protest.LoadFixture(t, "testvm")
	tests := []struct {
		v    vm.Value
		want starlark.Value
	}{
		{vm.IntValue(-3), starlark.MakeInt(-3)},
		{vm.LongValue(1 << 40), starlark.MakeInt64(1 << 40)},
		{vm.DoubleValue(0.5), starlark.Float(0.5)},
		{vm.ObjectValue(nil), starlark.None},
		{vm.ObjectValue(rt.Named("main")), starlark.String(rt.Named("main").String())},
	}
	for _, tt := range tests {
		got := valueToStarlarkValue(tt.v)
		if eq, err := starlark.Equal(got, tt.want); err != nil || !eq {
			t.Errorf("%v: expected %v, got %v", tt.v, tt.want, got)
		}
	}
}

func TestInterfaceToStarlarkValue(t *testing.T) {
	env := &Env{}
	bps := []api.Breakpoint{{ID: 1, Method: "com.example.Main.work(IJ)V", BCI: 10}}
	v := env.interfaceToStarlarkValue(bps)
	seq, ok := v.(starlark.Sequence)
	if !ok || seq.Len() != 1 {
		t.Fatalf("expected a sequence of length 1, got %v", v)
	}
	bp, ok := v.(starlark.Indexable).Index(0).(starlark.HasAttrs)
	if !ok {
		t.Fatalf("expected a struct, got %v", v.(starlark.Indexable).Index(0))
	}
	bci, err := bp.Attr("BCI")
	if err != nil {
		t.Fatal(err)
	}
	if eq, _ := starlark.Equal(bci, starlark.MakeInt(10)); !eq {
		t.Fatalf("expected 10, got %v", bci)
	}
	if _, err := bp.Attr("Nope"); err == nil {
		t.Fatal("expected an error reading a missing field")
	}

	loc := &api.Location{Method: "com.example.Main.main([Ljava/lang/String;)V", BCI: 5, Kind: "interpreted"}
	if _, ok := env.interfaceToStarlarkValue(loc).(starlark.HasAttrs); !ok {
		t.Fatalf("pointer to struct not converted to a struct")
	}
	var nilLoc *api.Location
	if env.interfaceToStarlarkValue(nilLoc) != starlark.None {
		t.Fatalf("nil pointer not converted to None")
	}
	if env.interfaceToStarlarkValue(true) != starlark.True {
		t.Fatalf("bool not converted")
	}
}

package starbind

import (
	"fmt"
	"reflect"
	"strings"

	"go.starlark.net/starlark"

	"github.com/vmagent/vmagent/pkg/vm"
	"github.com/vmagent/vmagent/service/api"
)

// interfaceToStarlarkValue converts a Go value, usually one of the types
// of package api, into a starlark.Value.
func (env *Env) interfaceToStarlarkValue(v interface{}) starlark.Value {
	switch v := v.(type) {
	case bool:
		return starlark.Bool(v)
	case uint8:
		return starlark.MakeUint64(uint64(v))
	case uint16:
		return starlark.MakeUint64(uint64(v))
	case uint32:
		return starlark.MakeUint64(uint64(v))
	case uint64:
		return starlark.MakeUint64(v)
	case uintptr:
		return starlark.MakeUint64(uint64(v))
	case uint:
		return starlark.MakeUint64(uint64(v))
	case int8:
		return starlark.MakeInt64(int64(v))
	case int16:
		return starlark.MakeInt64(int64(v))
	case int32:
		return starlark.MakeInt64(int64(v))
	case int64:
		return starlark.MakeInt64(v)
	case int:
		return starlark.MakeInt64(int64(v))
	case float64:
		return starlark.Float(v)
	case string:
		return starlark.String(v)
	case vm.Value:
		return valueToStarlarkValue(v)
	case nil:
		return starlark.None
	case error:
		return starlark.String(v.Error())
	default:
		vval := reflect.ValueOf(v)
		switch vval.Type().Kind() {
		case reflect.Ptr:
			if vval.IsNil() {
				return starlark.None
			}
			vval = vval.Elem()
			if vval.Type().Kind() == reflect.Struct {
				return structAsStarlarkValue{vval, env}
			}
		case reflect.Struct:
			return structAsStarlarkValue{vval, env}
		case reflect.Slice:
			return sliceAsStarlarkValue{vval, env}
		}
		return starlark.String(fmt.Sprintf("%v", v))
	}
}

// valueToStarlarkValue converts the content of a local variable slot.
// Objects are converted to their printed form, null to None.
func valueToStarlarkValue(v vm.Value) starlark.Value {
	switch v.Kind {
	case vm.Int:
		return starlark.MakeInt64(int64(v.Int()))
	case vm.Long:
		return starlark.MakeInt64(v.Long())
	case vm.Float:
		return starlark.Float(v.Float())
	case vm.Double:
		return starlark.Float(v.Double())
	case vm.Object:
		if v.IsNull() {
			return starlark.None
		}
	}
	return starlark.String(v.String())
}

// starlarkValueToValue converts val into a value of kind t. Reference
// kinds accept None, "null" and "@name", the object bound to name in rt.
func starlarkValueToValue(rt *vm.Runtime, t vm.BasicType, val starlark.Value) (vm.Value, error) {
	if t.IsReference() {
		var name string
		switch val := val.(type) {
		case starlark.NoneType:
			return vm.ObjectValue(nil), nil
		case starlark.String:
			name = string(val)
		default:
			return vm.Value{}, fmt.Errorf("can not convert %s to %s", val, t)
		}
		return parseObject(rt, name)
	}
	switch val := val.(type) {
	case starlark.Int:
		n, ok := val.Int64()
		if !ok {
			return vm.Value{}, fmt.Errorf("%s out of range", val)
		}
		switch t.SlotKind() {
		case vm.Int:
			return vm.IntValue(int32(n)), nil
		case vm.Long:
			return vm.LongValue(n), nil
		case vm.Float:
			return vm.FloatValue(float32(n)), nil
		case vm.Double:
			return vm.DoubleValue(float64(n)), nil
		}
	case starlark.Float:
		switch t.SlotKind() {
		case vm.Float:
			return vm.FloatValue(float32(val)), nil
		case vm.Double:
			return vm.DoubleValue(float64(val)), nil
		}
	case starlark.String:
		return vm.ParseValue(t, string(val))
	}
	return vm.Value{}, fmt.Errorf("can not convert %s to %s", val, t)
}

// parseObject parses "null" or the name of a bound object prefixed by "@".
func parseObject(rt *vm.Runtime, s string) (vm.Value, error) {
	if !strings.HasPrefix(s, "@") {
		return vm.ParseValue(vm.Object, s)
	}
	obj := rt.Named(s[1:])
	if obj == nil {
		return vm.Value{}, fmt.Errorf("no object named %q", s[1:])
	}
	return vm.ObjectValue(obj), nil
}

// ParseValue parses the command line representation of a value of kind t.
func ParseValue(rt *vm.Runtime, t vm.BasicType, s string) (vm.Value, error) {
	if t.IsReference() {
		return parseObject(rt, s)
	}
	return vm.ParseValue(t, s)
}

// sliceAsStarlarkValue converts a reflect.Value containing a slice
// into a starlark value.
// The public methods of sliceAsStarlarkValue implement the Indexable and
// Sequence starlark interfaces.
type sliceAsStarlarkValue struct {
	v   reflect.Value
	env *Env
}

var _ starlark.Indexable = sliceAsStarlarkValue{}
var _ starlark.Sequence = sliceAsStarlarkValue{}

func (v sliceAsStarlarkValue) Freeze() {
}

func (v sliceAsStarlarkValue) Hash() (uint32, error) {
	return 0, fmt.Errorf("not hashable")
}

func (v sliceAsStarlarkValue) String() string {
	s := make([]string, v.v.Len())
	for i := range s {
		s[i] = v.Index(i).String()
	}
	return "[" + strings.Join(s, ", ") + "]"
}

func (v sliceAsStarlarkValue) Truth() starlark.Bool {
	return v.v.Len() != 0
}

func (v sliceAsStarlarkValue) Type() string {
	return v.v.Type().String()
}

func (v sliceAsStarlarkValue) Index(i int) starlark.Value {
	if i >= v.v.Len() {
		return nil
	}
	return v.env.interfaceToStarlarkValue(v.v.Index(i).Interface())
}

func (v sliceAsStarlarkValue) Len() int {
	return v.v.Len()
}

func (v sliceAsStarlarkValue) Iterate() starlark.Iterator {
	return &sliceAsStarlarkValueIterator{0, v.v, v.env}
}

type sliceAsStarlarkValueIterator struct {
	cur int
	v   reflect.Value
	env *Env
}

func (it *sliceAsStarlarkValueIterator) Done() {
}

func (it *sliceAsStarlarkValueIterator) Next(p *starlark.Value) bool {
	if it.cur >= it.v.Len() {
		return false
	}
	*p = it.env.interfaceToStarlarkValue(it.v.Index(it.cur).Interface())
	it.cur++
	return true
}

// structAsStarlarkValue converts any Go struct into a starlark.Value.
// The public methods of structAsStarlarkValue implement the
// starlark.HasAttrs interface.
type structAsStarlarkValue struct {
	v   reflect.Value
	env *Env
}

var _ starlark.HasAttrs = structAsStarlarkValue{}

func (v structAsStarlarkValue) Freeze() {
}

func (v structAsStarlarkValue) Hash() (uint32, error) {
	return 0, fmt.Errorf("not hashable")
}

func (v structAsStarlarkValue) String() string {
	switch x := v.v.Interface().(type) {
	case api.Variable:
		return fmt.Sprintf("Variable<%s>", x.SinglelineString())
	case api.Thread:
		return x.String()
	case api.Breakpoint:
		return x.String()
	case api.Location:
		return x.String()
	case api.Stackframe:
		return fmt.Sprintf("Stackframe<%d %s>", x.Depth, x.Location.String())
	}
	return fmt.Sprintf("%#v", v.v)
}

func (v structAsStarlarkValue) Truth() starlark.Bool {
	return true
}

func (v structAsStarlarkValue) Type() string {
	return v.v.Type().String()
}

func (v structAsStarlarkValue) Attr(name string) (starlark.Value, error) {
	r := v.v.FieldByName(name)
	if r == (reflect.Value{}) {
		return starlark.None, fmt.Errorf("no field named %q in %T", name, v.v.Interface())
	}
	return v.env.interfaceToStarlarkValue(r.Interface()), nil
}

func (v structAsStarlarkValue) AttrNames() []string {
	typ := v.v.Type()
	r := make([]string, 0, typ.NumField())
	for i := 0; i < typ.NumField(); i++ {
		r = append(r, typ.Field(i).Name)
	}
	return r
}

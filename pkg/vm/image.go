package vm

import (
	"fmt"
	"io/ioutil"

	"gopkg.in/yaml.v2"
)

// Image describes the state of a runtime: its classes, objects, generated
// code and thread stacks. Images are written in YAML.
type Image struct {
	Classes        []ClassSpec         `yaml:"classes"`
	Objects        []ObjectSpec        `yaml:"objects"`
	Code           []CodeSpec          `yaml:"code"`
	Threads        []ThreadSpec        `yaml:"threads"`
	VirtualThreads []VirtualThreadSpec `yaml:"virtual-threads"`
}

// ClassSpec describes a class. Lazy classes are only defined when first
// resolved.
type ClassSpec struct {
	Name       string       `yaml:"name"`
	Super      string       `yaml:"super,omitempty"`
	Interfaces []string     `yaml:"interfaces,omitempty"`
	Lazy       bool         `yaml:"lazy,omitempty"`
	Methods    []MethodSpec `yaml:"methods,omitempty"`
}

type MethodSpec struct {
	Name      string      `yaml:"name"`
	Signature string      `yaml:"signature"`
	Static    bool        `yaml:"static,omitempty"`
	Native    bool        `yaml:"native,omitempty"`
	MaxLocals int         `yaml:"max-locals"`
	Locals    []LocalSpec `yaml:"locals,omitempty"`
	// Verifier lists the slot kinds by slot index, e.g. [object, int].
	Verifier []string `yaml:"verifier,omitempty"`
}

type LocalSpec struct {
	Slot      int    `yaml:"slot"`
	Name      string `yaml:"name"`
	Signature string `yaml:"signature"`
	Start     int    `yaml:"start"`
	Length    int    `yaml:"length"`
}

// ValueSpec is a slot or field value. Exactly one field should be set; an
// empty ValueSpec is an illegal (dead) slot.
type ValueSpec struct {
	Int    *int32   `yaml:"int,omitempty"`
	Long   *int64   `yaml:"long,omitempty"`
	Float  *float32 `yaml:"float,omitempty"`
	Double *float64 `yaml:"double,omitempty"`
	Object string   `yaml:"object,omitempty"`
	Null   bool     `yaml:"nil,omitempty"`
}

type ObjectSpec struct {
	ID     string               `yaml:"id"`
	Class  string               `yaml:"class"`
	Fields map[string]ValueSpec `yaml:"fields,omitempty"`
}

type CodeSpec struct {
	Method     string   `yaml:"method"`
	Size       int      `yaml:"size,omitempty"`
	Oops       []string `yaml:"oops,omitempty"`
	NotEntrant bool     `yaml:"not-entrant,omitempty"`
}

type ScalarReplacedSpec struct {
	Slot   int                  `yaml:"slot"`
	Class  string               `yaml:"class"`
	Fields map[string]ValueSpec `yaml:"fields,omitempty"`
}

type FrameSpec struct {
	Method           string               `yaml:"method"`
	BCI              int                  `yaml:"bci"`
	Kind             string               `yaml:"kind,omitempty"`
	Locals           []ValueSpec          `yaml:"locals,omitempty"`
	Receiver         string               `yaml:"receiver,omitempty"`
	ScalarReplaced   []ScalarReplacedSpec `yaml:"scalar-replaced,omitempty"`
	Unmaterializable bool                 `yaml:"unmaterializable,omitempty"`
}

type ThreadSpec struct {
	ID        int64       `yaml:"id"`
	Name      string      `yaml:"name"`
	Suspended bool        `yaml:"suspended,omitempty"`
	Frames    []FrameSpec `yaml:"frames"`
}

type VirtualThreadSpec struct {
	ID        int64       `yaml:"id"`
	Name      string      `yaml:"name"`
	Suspended bool        `yaml:"suspended,omitempty"`
	Carrier   int64       `yaml:"carrier,omitempty"`
	Frames    []FrameSpec `yaml:"frames"`
}

// LoadImage reads the image at path and builds a runtime from it.
func LoadImage(path string) (*Runtime, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rt, err := ParseImage(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	return rt, nil
}

// ParseImage builds a runtime from YAML image data.
func ParseImage(data []byte) (*Runtime, error) {
	var img Image
	if err := yaml.UnmarshalStrict(data, &img); err != nil {
		return nil, err
	}
	return img.Build()
}

// Build creates a runtime in the state described by img.
func (img *Image) Build() (*Runtime, error) {
	b := &imageBuilder{
		img:     img,
		lazy:    make(map[string]*ClassSpec),
		objects: make(map[string]*Instance),
	}
	for i := range img.Classes {
		if img.Classes[i].Lazy {
			b.lazy[img.Classes[i].Name] = &img.Classes[i]
		}
	}
	b.rt = NewRuntime(b.load)
	if err := b.build(); err != nil {
		return nil, err
	}
	return b.rt, nil
}

type imageBuilder struct {
	img     *Image
	rt      *Runtime
	lazy    map[string]*ClassSpec
	objects map[string]*Instance
}

func (b *imageBuilder) load(name string) (*Class, error) {
	cs := b.lazy[name]
	if cs == nil {
		return nil, ErrClassNotFound
	}
	return b.newClass(cs)
}

func (b *imageBuilder) newClass(cs *ClassSpec) (*Class, error) {
	c := &Class{Name: cs.Name}
	var err error
	if cs.Super != "" {
		if c.Super, err = b.rt.Classes.Resolve(cs.Super); err != nil {
			return nil, fmt.Errorf("superclass of %s: %v", cs.Name, err)
		}
	}
	for _, iname := range cs.Interfaces {
		i, err := b.rt.Classes.Resolve(iname)
		if err != nil {
			return nil, fmt.Errorf("interface of %s: %v", cs.Name, err)
		}
		c.Interfaces = append(c.Interfaces, i)
	}
	for _, ms := range cs.Methods {
		m := &Method{
			Class:     c,
			Name:      ms.Name,
			Signature: ms.Signature,
			Static:    ms.Static,
			Native:    ms.Native,
			MaxLocals: ms.MaxLocals,
		}
		for _, ls := range ms.Locals {
			m.LocalVariableTable = append(m.LocalVariableTable, LocalVariable{
				Slot:      ls.Slot,
				Name:      ls.Name,
				Signature: ls.Signature,
				StartBCI:  ls.Start,
				Length:    ls.Length,
			})
		}
		for _, k := range ms.Verifier {
			if k == "illegal" || k == "top" {
				m.VerifierLocals = append(m.VerifierLocals, Illegal)
				continue
			}
			t, err := ParseBasicType(k)
			if err != nil {
				return nil, fmt.Errorf("method %s.%s: %v", cs.Name, ms.Name, err)
			}
			m.VerifierLocals = append(m.VerifierLocals, t)
		}
		c.Methods = append(c.Methods, m)
	}
	return c, nil
}

func (b *imageBuilder) build() error {
	for i := range b.img.Classes {
		cs := &b.img.Classes[i]
		if cs.Lazy || b.rt.Classes.Lookup(cs.Name) != nil {
			continue
		}
		c, err := b.newClass(cs)
		if err != nil {
			return err
		}
		if err := b.rt.Classes.Define(c); err != nil {
			return err
		}
	}

	for _, os := range b.img.Objects {
		c, err := b.rt.Classes.Resolve(os.Class)
		if err != nil {
			return fmt.Errorf("object %s: %v", os.ID, err)
		}
		obj := b.rt.NewInstance(c)
		b.objects[os.ID] = obj
		b.rt.Bind(os.ID, obj)
	}
	for _, os := range b.img.Objects {
		for name, vs := range os.Fields {
			v, err := b.value(vs)
			if err != nil {
				return fmt.Errorf("object %s field %s: %v", os.ID, name, err)
			}
			b.objects[os.ID].Fields[name] = v
		}
	}

	for _, cs := range b.img.Code {
		m := b.rt.Classes.MethodByName(cs.Method)
		if m == nil {
			return fmt.Errorf("code: unknown method %s", cs.Method)
		}
		var oops []*Instance
		for _, id := range cs.Oops {
			obj := b.objects[id]
			if obj == nil {
				return fmt.Errorf("code %s: unknown object %s", cs.Method, id)
			}
			oops = append(oops, obj)
		}
		code := b.rt.Code.Install(m, cs.Size, oops...)
		if cs.NotEntrant {
			b.rt.Code.MakeNotEntrant(code)
		}
	}

	for _, ts := range b.img.Threads {
		frames, err := b.frames(ts.Frames)
		if err != nil {
			return fmt.Errorf("thread %d: %v", ts.ID, err)
		}
		t := NewThread(ThreadID(ts.ID), ts.Name, frames...)
		if ts.Suspended {
			t.Suspend()
		}
		b.rt.AddThread(t)
	}
	for _, vs := range b.img.VirtualThreads {
		frames, err := b.frames(vs.Frames)
		if err != nil {
			return fmt.Errorf("virtual thread %d: %v", vs.ID, err)
		}
		vt := NewVirtualThread(ThreadID(vs.ID), vs.Name, frames...)
		if vs.Suspended {
			vt.Suspend()
		}
		if vs.Carrier != 0 {
			carrier := b.rt.Thread(ThreadID(vs.Carrier))
			if carrier == nil {
				return fmt.Errorf("virtual thread %d: unknown carrier %d", vs.ID, vs.Carrier)
			}
			if err := vt.Mount(carrier); err != nil {
				return err
			}
		}
		b.rt.AddVirtualThread(vt)
	}
	return nil
}

func (b *imageBuilder) frames(specs []FrameSpec) ([]*Frame, error) {
	frames := make([]*Frame, 0, len(specs))
	for _, fs := range specs {
		m := b.rt.Classes.MethodByName(fs.Method)
		if m == nil {
			return nil, fmt.Errorf("unknown method %s", fs.Method)
		}
		f := &Frame{Method: m, BCI: fs.BCI, Unmaterializable: fs.Unmaterializable}
		switch fs.Kind {
		case "", "interpreted":
			f.Kind = Interpreted
		case "compiled":
			f.Kind = Compiled
		case "native":
			f.Kind = NativeWrapper
		default:
			return nil, fmt.Errorf("%s: unknown frame kind %q", fs.Method, fs.Kind)
		}
		n := m.MaxLocals
		if len(fs.Locals) > n {
			n = len(fs.Locals)
		}
		f.Locals = make([]Value, n)
		for i, vs := range fs.Locals {
			v, err := b.value(vs)
			if err != nil {
				return nil, fmt.Errorf("%s slot %d: %v", fs.Method, i, err)
			}
			f.Locals[i] = v
		}
		if fs.Receiver != "" {
			if f.Receiver = b.objects[fs.Receiver]; f.Receiver == nil {
				return nil, fmt.Errorf("%s: unknown receiver %s", fs.Method, fs.Receiver)
			}
		}
		for _, ss := range fs.ScalarReplaced {
			c, err := b.rt.Classes.Resolve(ss.Class)
			if err != nil {
				return nil, err
			}
			sr := ScalarReplaced{Slot: ss.Slot, Class: c, Fields: make(map[string]Value)}
			for name, vs := range ss.Fields {
				if sr.Fields[name], err = b.value(vs); err != nil {
					return nil, err
				}
			}
			f.ScalarReplaced = append(f.ScalarReplaced, sr)
		}
		frames = append(frames, f)
	}
	return frames, nil
}

func (b *imageBuilder) value(vs ValueSpec) (Value, error) {
	switch {
	case vs.Int != nil:
		return IntValue(*vs.Int), nil
	case vs.Long != nil:
		return LongValue(*vs.Long), nil
	case vs.Float != nil:
		return FloatValue(*vs.Float), nil
	case vs.Double != nil:
		return DoubleValue(*vs.Double), nil
	case vs.Null:
		return ObjectValue(nil), nil
	case vs.Object != "":
		obj := b.objects[vs.Object]
		if obj == nil {
			return Value{}, fmt.Errorf("unknown object %s", vs.Object)
		}
		return ObjectValue(obj), nil
	}
	return Value{}, nil
}

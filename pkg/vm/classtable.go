package vm

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/derekparker/trie"
)

// ErrClassNotFound is returned when a class can neither be found nor
// loaded.
var ErrClassNotFound = errors.New("class not found")

// Loader loads a class that is not yet defined. The returned class is
// defined in the table by the caller.
type Loader func(name string) (*Class, error)

// Resolver decides whether a class is assignable to the type named by a
// field descriptor, loading the descriptor's class if needed.
type Resolver interface {
	IsAssignable(signature string, k *Class) (bool, error)
}

// ClassTable is the dictionary of loaded classes.
type ClassTable struct {
	mu      sync.RWMutex
	byName  map[string]*Class
	byID    map[ClassID]*Class
	methods map[MethodID]*Method
	index   *trie.Trie // qualified method name -> MethodID
	loader  Loader

	nextClass  uint64
	nextMethod uint64
}

// NewClassTable returns an empty table. loader may be nil.
func NewClassTable(loader Loader) *ClassTable {
	return &ClassTable{
		byName:  make(map[string]*Class),
		byID:    make(map[ClassID]*Class),
		methods: make(map[MethodID]*Method),
		index:   trie.New(),
		loader:  loader,
	}
}

// SetLoader replaces the loader used by Resolve.
func (ct *ClassTable) SetLoader(loader Loader) {
	ct.mu.Lock()
	ct.loader = loader
	ct.mu.Unlock()
}

// Define adds c to the table and assigns identifiers to c and its methods.
func (ct *ClassTable) Define(c *Class) error {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.defineLocked(c)
}

func (ct *ClassTable) defineLocked(c *Class) error {
	if _, ok := ct.byName[c.Name]; ok {
		return fmt.Errorf("class %s already defined", c.Name)
	}
	c.ID = ClassID(atomic.AddUint64(&ct.nextClass, 1))
	ct.byName[c.Name] = c
	ct.byID[c.ID] = c
	for _, m := range c.Methods {
		m.Class = c
		m.ID = MethodID(atomic.AddUint64(&ct.nextMethod, 1))
		ct.indexMethod(m)
	}
	return nil
}

func (ct *ClassTable) indexMethod(m *Method) {
	ct.methods[m.ID] = m
	if _, ok := ct.index.Find(m.QualifiedName()); !ok {
		ct.index.Add(m.QualifiedName(), m.ID)
	}
}

// Lookup returns the class with the given binary name, if defined.
func (ct *ClassTable) Lookup(name string) *Class {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.byName[name]
}

// Class returns the current version of the class with the given id.
func (ct *ClassTable) Class(id ClassID) *Class {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.byID[id]
}

// Classes returns all defined classes sorted by name.
func (ct *ClassTable) Classes() []*Class {
	ct.mu.RLock()
	r := make([]*Class, 0, len(ct.byName))
	for _, c := range ct.byName {
		r = append(r, c)
	}
	ct.mu.RUnlock()
	sort.Slice(r, func(i, j int) bool { return r[i].Name < r[j].Name })
	return r
}

// Method returns the current method with the given id.
func (ct *ClassTable) Method(id MethodID) *Method {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.methods[id]
}

// MethodByName returns the method with the given qualified name, e.g.
// "com.example.Foo.bar(I)V".
func (ct *ClassTable) MethodByName(qualified string) *Method {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	n, ok := ct.index.Find(qualified)
	if !ok {
		return nil
	}
	return ct.methods[n.Meta().(MethodID)]
}

// FindMethods returns the qualified names of all loaded methods starting
// with prefix, sorted.
func (ct *ClassTable) FindMethods(prefix string) []string {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	var r []string
	for _, key := range ct.index.PrefixSearch(prefix) {
		n, ok := ct.index.Find(key)
		if !ok {
			continue
		}
		if _, live := ct.methods[n.Meta().(MethodID)]; live {
			r = append(r, key)
		}
	}
	sort.Strings(r)
	return r
}

// Resolve returns the class with the given binary name, loading it if it
// is not yet defined.
func (ct *ClassTable) Resolve(name string) (*Class, error) {
	if c := ct.Lookup(name); c != nil {
		return c, nil
	}
	ct.mu.RLock()
	loader := ct.loader
	ct.mu.RUnlock()
	if loader == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrClassNotFound)
	}
	c, err := loader(name)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", name, err)
	}
	if c == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrClassNotFound)
	}
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if prev := ct.byName[name]; prev != nil {
		// lost a race with another resolution
		return prev, nil
	}
	if err := ct.defineLocked(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Redefine replaces the current version of the class name with nc. nc
// takes over the identity of the old version; methods with the same name
// and signature keep their MethodID. The old version stays reachable
// through nc.Previous. Must be called with the world paused.
func (ct *ClassTable) Redefine(name string, nc *Class) (*Class, error) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	old := ct.byName[name]
	if old == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrClassNotFound)
	}
	nc.Name = name
	nc.ID = old.ID
	nc.Previous = old
	nc.Version = old.Version + 1
	ct.byName[name] = nc
	ct.byID[nc.ID] = nc
	for _, om := range old.Methods {
		delete(ct.methods, om.ID)
	}
	for _, m := range nc.Methods {
		m.Class = nc
		if om := old.Method(m.Name, m.Signature); om != nil {
			m.ID = om.ID
		} else {
			m.ID = MethodID(atomic.AddUint64(&ct.nextMethod, 1))
		}
		ct.indexMethod(m)
	}
	atomic.StoreInt32(&old.obsolete, 1)
	return old, nil
}

// Unload removes c from the table. It fails while something holds c
// alive.
func (ct *ClassTable) Unload(c *Class) error {
	if c.Held() {
		return fmt.Errorf("class %s is held alive", c.Name)
	}
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if ct.byName[c.Name] != c {
		return fmt.Errorf("%s: %w", c.Name, ErrClassNotFound)
	}
	delete(ct.byName, c.Name)
	delete(ct.byID, c.ID)
	for _, m := range c.Methods {
		delete(ct.methods, m.ID)
	}
	atomic.StoreInt32(&c.unloaded, 1)
	return nil
}

// ClassNameOf converts a field descriptor to a binary class name:
// "Lcom/example/Foo;" becomes "com.example.Foo", array descriptors keep
// their leading brackets.
func ClassNameOf(signature string) (string, bool) {
	switch {
	case strings.HasPrefix(signature, "L") && strings.HasSuffix(signature, ";"):
		return strings.Replace(signature[1:len(signature)-1], "/", ".", -1), true
	case strings.HasPrefix(signature, "["):
		return strings.Replace(signature, "/", ".", -1), true
	}
	return "", false
}

// IsAssignable implements Resolver.
func (ct *ClassTable) IsAssignable(signature string, k *Class) (bool, error) {
	name, ok := ClassNameOf(signature)
	if !ok {
		return false, fmt.Errorf("%q is not a reference type", signature)
	}
	if k.Name == name {
		return true, nil
	}
	target, err := ct.Resolve(name)
	if err != nil {
		return false, err
	}
	return k.IsSubclassOf(target), nil
}

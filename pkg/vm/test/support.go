package test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/vmagent/vmagent/pkg/vm"
)

// Fixture is a runtime image used by tests.
type Fixture struct {
	// Name is the short name of the fixture.
	Name string
	// Path is the absolute path to the image.
	Path string
}

var (
	fixtures   = make(map[string]Fixture)
	fixturesMu sync.Mutex
)

// FindFixturesDir returns the path of the _fixtures directory, searching
// upwards from the current directory.
func FindFixturesDir() string {
	parent := ".."
	fixturesDir := "_fixtures"
	for depth := 0; depth < 10; depth++ {
		if _, err := os.Stat(fixturesDir); err == nil {
			break
		}
		fixturesDir = filepath.Join(parent, fixturesDir)
	}
	return fixturesDir
}

// FindFixture returns the fixture called name, e.g. "testvm" for
// _fixtures/testvm.yml.
func FindFixture(name string) Fixture {
	fixturesMu.Lock()
	defer fixturesMu.Unlock()
	if f, ok := fixtures[name]; ok {
		return f
	}
	path, err := filepath.Abs(filepath.Join(FindFixturesDir(), name+".yml"))
	if err != nil {
		path = filepath.Join(FindFixturesDir(), name+".yml")
	}
	fixtures[name] = Fixture{Name: name, Path: path}
	return fixtures[name]
}

// LoadFixture builds a fresh runtime from the fixture called name. Every
// call returns an independent runtime.
func LoadFixture(t testing.TB, name string) *vm.Runtime {
	t.Helper()
	rt, err := vm.LoadImage(FindFixture(name).Path)
	if err != nil {
		t.Fatalf("could not load fixture %s: %v", name, err)
	}
	return rt
}

// MustMethod returns the method with the given qualified name.
func MustMethod(t testing.TB, rt *vm.Runtime, qualified string) *vm.Method {
	t.Helper()
	m := rt.Classes.MethodByName(qualified)
	if m == nil {
		t.Fatalf("method %s not found", qualified)
	}
	return m
}

// MustThread returns the platform thread with the given id.
func MustThread(t testing.TB, rt *vm.Runtime, id vm.ThreadID) *vm.Thread {
	t.Helper()
	th := rt.Thread(id)
	if th == nil {
		t.Fatalf("thread %d not found", id)
	}
	return th
}

package safepoint

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestExecuteNotRunning(t *testing.T) {
	vt := New()
	if err := vt.Execute(Func{"noop", func() {}}); err != ErrNotRunning {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	vt.Start()
	vt.Stop()
	vt.Stop()
	if err := vt.Execute(Func{"noop", func() {}}); err != ErrNotRunning {
		t.Fatalf("expected ErrNotRunning after stop, got %v", err)
	}
}

func TestExecuteOrder(t *testing.T) {
	vt := New()
	vt.Start()
	defer vt.Stop()

	var seen []int
	for i := 0; i < 5; i++ {
		i := i
		if err := vt.Execute(Func{"append", func() {
			if !vt.InPause() {
				t.Errorf("operation %d ran outside of a pause", i)
			}
			seen = append(seen, i)
		}}); err != nil {
			t.Fatal(err)
		}
	}
	if vt.InPause() {
		t.Fatalf("still in pause after Execute returned")
	}
	for i := range seen {
		if seen[i] != i {
			t.Fatalf("operations ran out of order: %v", seen)
		}
	}
	if vt.Pauses() != 5 {
		t.Fatalf("expected 5 pauses, got %d", vt.Pauses())
	}
}

type declined struct {
	ran bool
}

func (d *declined) Name() string   { return "declined" }
func (d *declined) Prologue() bool { return false }
func (d *declined) Doit()          { d.ran = true }

func TestPrologueDeclines(t *testing.T) {
	vt := New()
	vt.Start()
	defer vt.Stop()

	op := &declined{}
	if err := vt.Execute(op); err != nil {
		t.Fatal(err)
	}
	if op.ran {
		t.Fatalf("Doit called after Prologue returned false")
	}
	if vt.Pauses() != 0 {
		t.Fatalf("expected no pause, got %d", vt.Pauses())
	}
}

func TestPauseStopsMutators(t *testing.T) {
	vt := New()
	vt.Start()
	defer vt.Stop()

	var counter int64
	var stop int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vt.Enter()
			defer vt.Leave()
			for atomic.LoadInt32(&stop) == 0 {
				atomic.AddInt64(&counter, 1)
				vt.Poll()
			}
		}()
	}

	for i := 0; i < 10; i++ {
		var before, after int64
		err := vt.Execute(Func{"observe", func() {
			before = atomic.LoadInt64(&counter)
			time.Sleep(2 * time.Millisecond)
			after = atomic.LoadInt64(&counter)
		}})
		if err != nil {
			t.Fatal(err)
		}
		if before != after {
			t.Fatalf("mutators ran during the pause: %d != %d", before, after)
		}
	}
	atomic.StoreInt32(&stop, 1)
	wg.Wait()
}

func TestConcurrentExecute(t *testing.T) {
	vt := New()
	vt.Start()
	defer vt.Stop()

	var inside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vt.Execute(Func{"exclusive", func() {
				if atomic.AddInt32(&inside, 1) != 1 {
					t.Errorf("two operations ran at the same time")
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
			}})
		}()
	}
	wg.Wait()
	if vt.Pauses() != 8 {
		t.Fatalf("expected 8 pauses, got %d", vt.Pauses())
	}
}

package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestThreadSystem(t *testing.T) {
	tests := []struct {
		flags ThreadFlags
		want  bool
	}{
		{0, false},
		{ThreadSystem, true},
		{ThreadAttached, true},
		{ThreadSystem | ThreadAttached, true},
	}
	for _, tt := range tests {
		th := NewThread("t", "app/Worker", tt.flags)
		if got := th.System(); got != tt.want {
			t.Errorf("flags %b: System() = %v, want %v", tt.flags, got, tt.want)
		}
	}
}

func TestThreadAffinity(t *testing.T) {
	th := NewThread("t", "app/Worker", 0)
	if _, ok := th.Affinity(); ok {
		t.Fatal("new thread is bound")
	}
	th.SetAffinity(2)
	if n, ok := th.Affinity(); !ok || n != 2 {
		t.Fatalf("Affinity() = %d, %v, want 2, true", n, ok)
	}
	th.SetAffinity(-5)
	if _, ok := th.Affinity(); ok {
		t.Fatal("negative node must clear the binding")
	}
}

func TestExclusiveWaitsForSafepoint(t *testing.T) {
	var w World
	mutator := NewThread("mutator", "app/Worker", 0)
	gc := NewThread("gc", "vm/GC", ThreadSystem)

	w.AcquireVMAccess(mutator)

	var stopped atomic.Bool
	done := make(chan struct{})
	go func() {
		w.AcquireExclusiveVMAccess(gc)
		stopped.Store(true)
		w.ReleaseExclusiveVMAccess(gc)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	if stopped.Load() {
		t.Fatal("world stopped while a mutator held VM access")
	}
	w.ReleaseVMAccess(mutator)
	<-done
	if got := w.ExclusiveCount(); got != 1 {
		t.Fatalf("ExclusiveCount() = %d, want 1", got)
	}
}

func TestExclusiveDropsAndRestoresSharedAccess(t *testing.T) {
	var w World
	th := NewThread("mutator", "app/Worker", 0)
	w.AcquireVMAccess(th)
	w.AcquireExclusiveVMAccess(th)
	if th.HasVMAccess() {
		t.Fatal("shared access kept while exclusive")
	}
	w.AcquireExclusiveVMAccess(th) // recursive
	w.ReleaseExclusiveVMAccess(th)
	if !th.HasExclusiveVMAccess() {
		t.Fatal("recursive release dropped exclusive access")
	}
	w.ReleaseExclusiveVMAccess(th)
	if !th.HasVMAccess() {
		t.Fatal("shared access not restored")
	}
	w.ReleaseVMAccess(th)
	if got := w.ExclusiveCount(); got != 1 {
		t.Fatalf("ExclusiveCount() = %d, want 1", got)
	}
}

func TestSafepointUnderContention(t *testing.T) {
	var w World
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			th := NewThread("mutator", "app/Worker", 0)
			w.AcquireVMAccess(th)
			defer w.ReleaseVMAccess(th)
			for {
				select {
				case <-stop:
					return
				default:
					w.Safepoint(th)
				}
			}
		}()
	}
	gc := NewThread("gc", "vm/GC", ThreadSystem)
	for i := 0; i < 10; i++ {
		w.AcquireExclusiveVMAccess(gc)
		w.ReleaseExclusiveVMAccess(gc)
	}
	close(stop)
	wg.Wait()
	if got := w.ExclusiveCount(); got != 10 {
		t.Fatalf("ExclusiveCount() = %d, want 10", got)
	}
}

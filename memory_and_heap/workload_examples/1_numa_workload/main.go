package main

import (
	"flag"
	"os"
	"sync"

	"go.uber.org/zap"

	heap "github.com/pianoyeg94/balanced-heap/memory_and_heap"
	"github.com/pianoyeg94/balanced-heap/scheduler"
)

var (
	mutators = flag.Int("mutators", 8, "number of mutator threads")
	objects  = flag.Int("objects", 100000, "objects allocated by each mutator")
)

func main() {
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := heap.ConfigFromEnv()
	if err != nil {
		log.Fatal("bad heap configuration", zap.Error(err))
	}

	// Every third region survives a collection.
	var swept int
	collector := &heap.ScriptedCollector{
		Sweep: func(*heap.Region) bool {
			swept++
			return swept%3 == 0
		},
	}
	h, err := heap.NewHeap(heap.Options{Config: cfg, Collector: collector, Logger: log})
	if err != nil {
		log.Fatal("creating heap", zap.Error(err))
	}

	var wg sync.WaitGroup
	for i := 0; i < *mutators; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env := h.AttachThread(scheduler.NewThread("mutator", "app/Mutator", 0))
			env.AcquireVMAccess()
			defer env.Detach()

			for n := 0; n < *objects; n++ {
				size := uintptr(16 + (n%64)*16)
				if n%211 == 0 {
					size = 8 << 10
				}
				if _, err := env.MustAllocateObject(size); err != nil {
					log.Warn("mutator stopped", zap.Uint64("thread", env.Thread.ID()), zap.Error(err))
					return
				}
			}
		}()
	}
	wg.Wait()

	self := h.AttachThread(scheduler.NewThread("main", "app/Main", scheduler.ThreadSystem))
	h.Collect(self)
	if err := h.Verify(); err != nil {
		log.Fatal("heap corrupt", zap.Error(err))
	}
	log.Info("workload finished",
		zap.Uint64("collections", collector.GCCount()),
		zap.Uint64("heap-size", uint64(h.Size())))

	if err := h.WriteReport(os.Stdout); err != nil {
		log.Fatal("writing report", zap.Error(err))
	}
	h.Shutdown(self)
}

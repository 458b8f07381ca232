package daemon

import (
	"context"
	"log/slog"
	"sync"
)

// WorkerGroup tracks orchestrator-owned goroutines and provides a safe
// shutdown boundary so we never call WaitGroup.Add concurrently with Wait.
type WorkerGroup struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	stopping bool
	running  map[string]int
}

// Go starts a named worker if the group is not stopping.
func (g *WorkerGroup) Go(name string, fn func()) bool {
	if fn == nil {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopping {
		return false
	}
	if g.running == nil {
		g.running = make(map[string]int)
	}
	g.running[name]++

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer g.exited(name)
		fn()
	}()
	return true
}

func (g *WorkerGroup) exited(name string) {
	g.mu.Lock()
	g.running[name]--
	if g.running[name] <= 0 {
		delete(g.running, name)
	}
	g.mu.Unlock()
	slog.Debug("Worker exited", slog.String("worker", name))
}

// Running returns the names of workers that have not exited.
func (g *WorkerGroup) Running() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, 0, len(g.running))
	for name := range g.running {
		names = append(names, name)
	}
	return names
}

// StopAndWait prevents new workers from being started and waits for all current
// workers to exit, bounded by ctx.
func (g *WorkerGroup) StopAndWait(ctx context.Context) error {
	g.mu.Lock()
	g.stopping = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

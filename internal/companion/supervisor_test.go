//go:build unix

package companion

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/indexwatch/internal/daemon/events"
	"git.home.luguber.info/inful/indexwatch/internal/runner"
)

const helperEnv = "INDEXWATCH_HELPER_COMPANION"

// TestHelperCompanion is not a real test: it is re-executed by the tests
// below to play the companion server.
func TestHelperCompanion(t *testing.T) {
	if os.Getenv(helperEnv) == "" {
		return
	}
	addr := os.Getenv("HELPER_ADDR")
	interrupts := make(chan os.Signal, 1)

	switch os.Getenv(helperEnv) {
	case "serve":
		signal.Notify(interrupts, os.Interrupt)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			fmt.Fprintln(os.Stderr, "listen:", err)
			os.Exit(2)
		}
		fmt.Println("listening on", ln.Addr())
		go func() {
			for {
				conn, err := ln.Accept()
				if err != nil {
					return
				}
				_ = conn.Close()
			}
		}()
		<-interrupts
		_ = ln.Close()
		fmt.Println("bye")
		os.Exit(0)
	case "stubborn":
		signal.Ignore(os.Interrupt)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			os.Exit(2)
		}
		defer ln.Close()
		time.Sleep(time.Hour)
	case "crash":
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			os.Exit(2)
		}
		time.Sleep(300 * time.Millisecond)
		_ = ln.Close()
		fmt.Fprintln(os.Stderr, "fatal: flow failed")
		os.Exit(3)
	case "silent":
		signal.Notify(interrupts, os.Interrupt)
		<-interrupts
		os.Exit(0)
	}
	os.Exit(0)
}

func helperCommand(mode, addr string) runner.Command {
	return runner.Command{
		Name: os.Args[0],
		Args: []string{"-test.run=^TestHelperCompanion$"},
		Env:  []string{helperEnv + "=" + mode, "HELPER_ADDR=" + addr},
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func newSupervisor(mode, addr string) *Supervisor {
	return New(Options{
		Command:      helperCommand(mode, addr),
		Address:      addr,
		ReadyProbe:   true,
		ReadyTimeout: 10 * time.Second,
	})
}

func TestSupervisor_LifecycleFreesAddress(t *testing.T) {
	addr := freeAddr(t)
	bus := events.NewBus()
	defer bus.Close()
	states, unsubscribe := events.Subscribe[events.CompanionStateChanged](bus, 8)
	defer unsubscribe()

	s := New(Options{
		Command:      helperCommand("serve", addr),
		Address:      addr,
		ReadyProbe:   true,
		ReadyTimeout: 10 * time.Second,
		Bus:          bus,
	})
	require.Equal(t, StateNotStarted, s.State())

	require.NoError(t, s.Start(t.Context()))
	require.Equal(t, StateRunning, s.State())
	h := s.Handle()
	require.Positive(t, h.PID)
	require.NotEmpty(t, h.SessionID)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	_ = conn.Close()

	require.NoError(t, s.Terminate(5*time.Second))
	require.Equal(t, StateExited, s.State())
	require.NoError(t, s.Err())
	require.Equal(t, 0, s.Handle().ExitCode)

	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err, "bind address still in use after terminate")
	_ = ln.Close()

	var seen []string
	for range 4 {
		select {
		case evt := <-states:
			seen = append(seen, evt.To)
		case <-time.After(5 * time.Second):
			t.Fatalf("missing state events, got %v", seen)
		}
	}
	require.Equal(t, []string{"starting", "running", "terminating", "exited"}, seen)
	require.Contains(t, s.OutputTail(), "bye")
}

// A subscriber that stops reading must not eat into the grace period and
// turn a clean shutdown into a kill.
func TestSupervisor_StalledSubscriberDoesNotForceKill(t *testing.T) {
	addr := freeAddr(t)
	bus := events.NewBus()
	defer bus.Close()
	// Room for starting and running; terminating and exited block.
	_, unsubscribe := events.Subscribe[events.CompanionStateChanged](bus, 2)
	defer unsubscribe()

	s := New(Options{
		Command:      helperCommand("serve", addr),
		Address:      addr,
		ReadyProbe:   true,
		ReadyTimeout: 10 * time.Second,
		Bus:          bus,
	})
	require.NoError(t, s.Start(t.Context()))

	require.NoError(t, s.Terminate(time.Second))
	require.Equal(t, StateExited, s.State())
	require.NoError(t, s.Err())
	require.Equal(t, 0, s.Handle().ExitCode, "companion was killed instead of exiting on interrupt")
	require.Contains(t, s.OutputTail(), "bye")
}

func TestSupervisor_TerminateTwice(t *testing.T) {
	addr := freeAddr(t)
	s := newSupervisor("serve", addr)
	require.NoError(t, s.Start(t.Context()))

	require.NoError(t, s.Terminate(5*time.Second))
	start := time.Now()
	require.NoError(t, s.Terminate(time.Second))
	require.Less(t, time.Since(start), time.Second)
}

func TestSupervisor_ConcurrentTerminate(t *testing.T) {
	s := newSupervisor("serve", freeAddr(t))
	require.NoError(t, s.Start(t.Context()))

	errs := make(chan error, 2)
	go func() { errs <- s.Terminate(5 * time.Second) }()
	go func() { errs <- s.Terminate(5 * time.Second) }()
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
	require.Equal(t, StateExited, s.State())
}

func TestSupervisor_CrashIsReported(t *testing.T) {
	s := newSupervisor("crash", freeAddr(t))
	require.NoError(t, s.Start(t.Context()))

	select {
	case <-s.Exited():
	case <-time.After(10 * time.Second):
		t.Fatal("crash not observed")
	}
	require.ErrorIs(t, s.Err(), ErrCrashed)
	require.Equal(t, StateExited, s.State())
	require.Equal(t, 3, s.Handle().ExitCode)
	require.Contains(t, s.OutputTail(), "fatal: flow failed")

	start := time.Now()
	require.NoError(t, s.Terminate(5*time.Second))
	require.Less(t, time.Since(start), time.Second)
}

func TestSupervisor_EscalatesToKill(t *testing.T) {
	s := newSupervisor("stubborn", freeAddr(t))
	require.NoError(t, s.Start(t.Context()))

	start := time.Now()
	require.NoError(t, s.Terminate(200*time.Millisecond))
	require.Equal(t, StateExited, s.State())
	require.NoError(t, s.Err(), "requested termination is not a crash")
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestSupervisor_NotReady(t *testing.T) {
	addr := freeAddr(t)
	s := New(Options{
		Command:      helperCommand("silent", addr),
		Address:      addr,
		ReadyProbe:   true,
		ReadyTimeout: 300 * time.Millisecond,
	})

	err := s.Start(t.Context())
	require.ErrorIs(t, err, ErrNotReady)
	require.Equal(t, StateExited, s.State())
	require.NoError(t, s.Err())
}

func TestSupervisor_WithoutReadyProbe(t *testing.T) {
	addr := freeAddr(t)
	s := New(Options{Command: helperCommand("silent", addr), Address: addr})

	require.NoError(t, s.Start(t.Context()))
	require.Equal(t, StateRunning, s.State())
	require.NoError(t, s.Terminate(5*time.Second))
}

func TestSupervisor_SpawnFailure(t *testing.T) {
	s := New(Options{Command: runner.Command{Name: "/nonexistent/companion"}, Address: "127.0.0.1:1"})

	err := s.Start(t.Context())
	require.ErrorIs(t, err, ErrStartFailed)
	require.Equal(t, StateExited, s.State())
	require.NoError(t, s.Terminate(time.Second))
}

func TestSupervisor_TerminateBeforeStart(t *testing.T) {
	s := newSupervisor("serve", freeAddr(t))
	require.NoError(t, s.Terminate(time.Second))
	require.ErrorIs(t, s.Start(t.Context()), ErrAlreadyStarted)
	require.Equal(t, StateNotStarted, s.State())
}

func TestSupervisor_StartCanceled(t *testing.T) {
	addr := freeAddr(t)
	s := New(Options{
		Command:      helperCommand("silent", addr),
		Address:      addr,
		ReadyProbe:   true,
		ReadyTimeout: time.Minute,
	})
	ctx, cancel := context.WithCancel(t.Context())
	time.AfterFunc(100*time.Millisecond, cancel)

	require.ErrorIs(t, s.Start(ctx), context.Canceled)
	require.Equal(t, StateExited, s.State())
}

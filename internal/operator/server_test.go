package operator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/laylaymen/vivo-opscore/internal/bus"
)

type fakeHealth struct{ snap []bus.ModuleHealth }

func (f fakeHealth) HealthSnapshot() []bus.ModuleHealth { return f.snap }

type fakeLifecycle struct{ gotGraceMs int }

func (f *fakeLifecycle) ShutdownAll(ctx context.Context, graceMs int) { f.gotGraceMs = graceMs }

func startTestServer(t *testing.T, health HealthSource, lifecycle Shutdowner, reloaders map[string]func() error) (string, context.CancelFunc) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "control.sock")
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(sock, health, lifecycle, cancel, reloaders, nil)
	go srv.ListenAndServe(ctx)
	time.Sleep(20 * time.Millisecond) // let the listener bind
	t.Cleanup(cancel)
	return sock, cancel
}

func TestCmdStatus_ReturnsModuleHealth(t *testing.T) {
	health := fakeHealth{snap: []bus.ModuleHealth{{Name: "drawdown", Healthy: true}}}
	sock, _ := startTestServer(t, health, &fakeLifecycle{}, nil)

	resp, err := Call(sock, Request{Cmd: "status"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !resp.OK || len(resp.Modules) != 1 || resp.Modules[0].Name != "drawdown" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestCmdReload_UnknownSectionErrors(t *testing.T) {
	sock, _ := startTestServer(t, fakeHealth{}, &fakeLifecycle{}, map[string]func() error{})

	resp, err := Call(sock, Request{Cmd: "reload", Section: "routes"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.OK {
		t.Fatalf("expected failure for unregistered section")
	}
}

func TestCmdReload_InvokesRegisteredReloader(t *testing.T) {
	called := false
	reloaders := map[string]func() error{"routes": func() error { called = true; return nil }}
	sock, _ := startTestServer(t, fakeHealth{}, &fakeLifecycle{}, reloaders)

	resp, err := Call(sock, Request{Cmd: "reload", Section: "routes"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !resp.OK || !called {
		t.Fatalf("expected reload to be invoked, resp=%+v called=%v", resp, called)
	}
}

func TestCmdShutdown_DefaultsGraceMsAndInvokesLifecycle(t *testing.T) {
	lc := &fakeLifecycle{}
	sock, _ := startTestServer(t, fakeHealth{}, lc, nil)

	resp, err := Call(sock, Request{Cmd: "shutdown"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !resp.OK {
		t.Fatalf("expected ok response, got %+v", resp)
	}
	time.Sleep(20 * time.Millisecond) // shutdown runs in a goroutine
	if lc.gotGraceMs != 5000 {
		t.Fatalf("gotGraceMs = %d, want default 5000", lc.gotGraceMs)
	}
}

package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestStateString(t *testing.T) {
	cases := map[State]string{
		Disconnected: "Disconnected",
		Connecting:   "Connecting",
		Connected:    "Connected",
		Initializing: "Initializing",
		Ready:        "Ready",
		Error:        "Error",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

func TestInitialSnapshotIsDisconnected(t *testing.T) {
	sup := New(Config{Line: "/dev/null", Logger: zerolog.Nop()})
	snap := sup.Snapshot()
	if snap.State != Disconnected {
		t.Fatalf("initial state = %v, want Disconnected", snap.State)
	}
	if _, ok := sup.Transactor(); ok {
		t.Fatal("Transactor() ok before Ready, want false")
	}
}

func TestNotReadyRejectsTransactor(t *testing.T) {
	sup := New(Config{Line: "/dev/null", Logger: zerolog.Nop()})
	sup.setState(Connecting, "opening")
	if _, ok := sup.Transactor(); ok {
		t.Fatal("Transactor() ok while Connecting, want false")
	}
}

func TestReportTransactErrorDrivesReadyToDisconnected(t *testing.T) {
	sup := New(Config{Line: "/dev/null", Logger: zerolog.Nop(), PollInterval: time.Millisecond})
	sup.setReady("test-robot", nil)
	if snap := sup.Snapshot(); snap.State != Ready {
		t.Fatalf("state = %v, want Ready", snap.State)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-ctx.Done():
			return
		case err := <-sup.errCh:
			sup.setState(Error, err.Error())
			sup.toDisconnected(ctx)
		}
	}()

	sup.ReportTransactError(errCanceled{})
	<-done

	if snap := sup.Snapshot(); snap.State != Disconnected {
		t.Fatalf("state after reported error = %v, want Disconnected", snap.State)
	}
}

type errCanceled struct{}

func (errCanceled) Error() string { return "simulated io error" }

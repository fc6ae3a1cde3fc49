package transport

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alexspaceteam/hackpack-robots/pkg/crc"
	"github.com/alexspaceteam/hackpack-robots/pkg/slip"
)

// fakePort is an in-memory stand-in for go.bug.st/serial.Port. Each Write
// is matched against onWrite, which returns the bytes the simulated device
// replies with (already SLIP-framed); an empty reply behaves like the real
// port timing out (n == 0, nil error).
type fakePort struct {
	mu      sync.Mutex
	written [][]byte
	rx      []byte
	onWrite func(written []byte) []byte
	closed  bool
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte{}, p...)
	f.written = append(f.written, cp)
	if f.onWrite != nil {
		f.rx = append(f.rx, f.onWrite(cp)...)
	}
	return len(p), nil
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rx) == 0 {
		return 0, nil
	}
	n := copy(p, f.rx)
	f.rx = f.rx[n:]
	return n, nil
}

func (f *fakePort) Close() error {
	f.closed = true
	return nil
}

func deviceIDReply() []byte {
	payload := append([]byte("test-robot"), 0x00)
	return slip.Encode(append(payload, crc.Compute(payload)))
}

func TestDeviceIDHandshake(t *testing.T) {
	fp := &fakePort{onWrite: func([]byte) []byte { return deviceIDReply() }}
	tr := newTransport(fp)

	resp, err := tr.Transact(context.Background(), []byte{0x00})
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}
	if string(resp) != "test-robot\x00" {
		t.Fatalf("response = %q, want %q", resp, "test-robot\x00")
	}
}

func TestIntegerCallNoReturn(t *testing.T) {
	fp := &fakePort{onWrite: func(written []byte) []byte {
		return slip.Encode([]byte{crc.Compute(nil)})
	}}
	tr := newTransport(fp)

	cmd := []byte{0x01, 0x05, 0x00}
	resp, err := tr.Transact(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}
	if len(resp) != 0 {
		t.Fatalf("response = %v, want empty", resp)
	}

	if len(fp.written) != 1 {
		t.Fatalf("expected exactly one write, got %d", len(fp.written))
	}
	wantFrame := slip.Encode(append(append([]byte{}, cmd...), crc.Compute(cmd)))
	if !bytes.Equal(fp.written[0], wantFrame) {
		t.Fatalf("written = %v, want %v", fp.written[0], wantFrame)
	}
}

func TestReturnValue(t *testing.T) {
	fp := &fakePort{onWrite: func([]byte) []byte {
		payload := []byte{0x00, 0x00}
		return slip.Encode(append(payload, crc.Compute(payload)))
	}}
	tr := newTransport(fp)

	resp, err := tr.Transact(context.Background(), []byte{0x02})
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}
	if !bytes.Equal(resp, []byte{0x00, 0x00}) {
		t.Fatalf("response = %v, want [0 0]", resp)
	}
}

func TestCrcMismatch(t *testing.T) {
	fp := &fakePort{onWrite: func([]byte) []byte {
		payload := []byte{0x00, 0x00}
		framed := append(payload, crc.Compute(payload)^0xFF)
		return slip.Encode(framed)
	}}
	tr := newTransport(fp)

	_, err := tr.Transact(context.Background(), []byte{0x02})
	te, ok := err.(*TransactError)
	if !ok || te.Kind != KindCrcMismatch {
		t.Fatalf("err = %v, want KindCrcMismatch", err)
	}
}

func TestDeviceError(t *testing.T) {
	fp := &fakePort{onWrite: func([]byte) []byte {
		payload := []byte{0xFF, 0x02}
		return slip.Encode(append(payload, crc.Compute(payload)))
	}}
	tr := newTransport(fp)

	_, err := tr.Transact(context.Background(), []byte{0x07})
	te, ok := err.(*TransactError)
	if !ok || te.Kind != KindDeviceError || te.Code != 0x02 {
		t.Fatalf("err = %v, want KindDeviceError code 0x02", err)
	}
}

func TestTimeout(t *testing.T) {
	fp := &fakePort{} // never replies
	tr := newTransport(fp)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := tr.Transact(ctx, []byte{0x02})
	te, ok := err.(*TransactError)
	if !ok || te.Kind != KindTimeout {
		t.Fatalf("err = %v, want KindTimeout", err)
	}
}

func TestSerializesConcurrentTransactions(t *testing.T) {
	fp := &fakePort{onWrite: func([]byte) []byte {
		payload := []byte{0x00, 0x00}
		return slip.Encode(append(payload, crc.Compute(payload)))
	}}
	tr := newTransport(fp)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tr.Transact(context.Background(), []byte{0x02}); err != nil {
				t.Errorf("Transact: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(fp.written) != 8 {
		t.Fatalf("got %d writes, want 8 (one per transaction, none interleaved)", len(fp.written))
	}
}

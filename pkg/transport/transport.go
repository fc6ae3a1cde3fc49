// Package transport owns the serial file handle and exposes a single-slot
// request/response transaction primitive on top of pkg/slip and pkg/crc.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/alexspaceteam/hackpack-robots/pkg/crc"
	"github.com/alexspaceteam/hackpack-robots/pkg/slip"
)

// ReadTimeout is the per-read deadline the serial port is configured with.
const ReadTimeout = 1000 * time.Millisecond

// Kind enumerates the transaction-level error categories.
type Kind int

const (
	KindIoError Kind = iota
	KindTimeout
	KindCrcMismatch
	KindTruncatedResponse
	KindDeviceError
)

// TransactError is the error type returned by Transact. Code is only
// meaningful when Kind is KindDeviceError.
type TransactError struct {
	Kind Kind
	Code byte
	Err  error
}

func (e *TransactError) Error() string {
	switch e.Kind {
	case KindTimeout:
		return "transport: timeout"
	case KindCrcMismatch:
		return "transport: crc mismatch"
	case KindTruncatedResponse:
		return "transport: truncated response"
	case KindDeviceError:
		return fmt.Sprintf("transport: device error 0x%02x", e.Code)
	default:
		return fmt.Sprintf("transport: io error: %v", e.Err)
	}
}

func (e *TransactError) Unwrap() error { return e.Err }

// port is the subset of go.bug.st/serial's Port interface the transactor
// needs; tests substitute a fake implementation.
type port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Transport owns the serial port exclusively and serializes access to it
// through mu so that at most one transaction is in flight.
type Transport struct {
	mu      sync.Mutex
	port    port
	dec     *slip.Decoder
	frameCh chan []byte
}

// Open opens line at baud, 8N1, no flow control.
func Open(line string, baud int) (*Transport, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(line, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", line, err)
	}
	if err := p.SetReadTimeout(ReadTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("transport: set read timeout: %w", err)
	}

	return newTransport(p), nil
}

// newTransport wires the decoder and frame channel around an already-opened
// port. Shared by Open and by tests, which supply a fake port.
func newTransport(p port) *Transport {
	t := &Transport{port: p, frameCh: make(chan []byte, 1)}
	t.dec = slip.NewDecoder(func(f []byte) {
		select {
		case t.frameCh <- f:
		default:
			// A prior frame wasn't drained (should not happen under the
			// single-in-flight contract); keep it and drop the newer one
			// rather than block the read loop.
		}
	})
	return t
}

// Close releases the serial port.
func (t *Transport) Close() error {
	return t.port.Close()
}

// Transact sends commandPayload framed and CRC-protected, then returns the
// device's response payload (CRC and framing stripped) or a TransactError.
// Only one Transact runs at a time; callers block on mu.
func (t *Transport) Transact(ctx context.Context, commandPayload []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.dec.Reset()
	select {
	case <-t.frameCh:
	default:
	}

	framed := append(append([]byte{}, commandPayload...), crc.Compute(commandPayload))
	if err := t.writeFull(slip.Encode(framed)); err != nil {
		return nil, &TransactError{Kind: KindIoError, Err: err}
	}

	payload, err := t.readOneFrame(ctx)
	if err != nil {
		return nil, err
	}

	if len(payload) < 1 {
		return nil, &TransactError{Kind: KindTruncatedResponse, Err: errors.New("frame has no crc byte")}
	}
	body, trailer := payload[:len(payload)-1], payload[len(payload)-1]
	if crc.Compute(body) != trailer {
		return nil, &TransactError{Kind: KindCrcMismatch, Err: errors.New("trailing byte does not match crc8 of body")}
	}
	if len(body) == 2 && body[0] == 0xFF {
		return nil, &TransactError{Kind: KindDeviceError, Code: body[1]}
	}
	return body, nil
}

func (t *Transport) writeFull(data []byte) error {
	for len(data) > 0 {
		n, err := t.port.Write(data)
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.New("short write: 0 bytes accepted")
		}
		data = data[n:]
	}
	return nil
}

func (t *Transport) readOneFrame(ctx context.Context) ([]byte, error) {
	buf := make([]byte, 64)
	for {
		select {
		case f := <-t.frameCh:
			return f, nil
		case <-ctx.Done():
			return nil, &TransactError{Kind: KindTimeout, Err: ctx.Err()}
		default:
		}

		n, err := t.port.Read(buf)
		if err != nil {
			return nil, &TransactError{Kind: KindIoError, Err: err}
		}
		if n == 0 {
			// SetReadTimeout elapsed with nothing received.
			select {
			case f := <-t.frameCh:
				return f, nil
			case <-ctx.Done():
				return nil, &TransactError{Kind: KindTimeout, Err: ctx.Err()}
			default:
				return nil, &TransactError{Kind: KindTimeout, Err: errors.New("read timeout")}
			}
		}
		for _, b := range buf[:n] {
			t.dec.Feed(b)
		}
	}
}

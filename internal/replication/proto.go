package replication

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Wire format: 4-byte big-endian payload length, then a msgpack-encoded
// Request or Response. One request/reply exchange per frame pair; the
// connection stays open for further exchanges until either side closes it.

// Ops carried by a Request.
const (
	OpApply   = "apply"
	OpPing    = "ping"
	OpBalance = "balance"
)

// maxFrameSize bounds a single wire frame.
const maxFrameSize = 1 << 20

// Request is the replica-to-replica RPC envelope.
type Request struct {
	Op            string  `msgpack:"op"`
	Kind          string  `msgpack:"kind"`
	AccountID     string  `msgpack:"account_id"`
	Amount        float64 `msgpack:"amount"`
	TransactionID string  `msgpack:"transaction_id"`
}

// Response mirrors the remote engine's result. OK covers ping; Success,
// NewBalance and Message carry the engine record for apply; Balance answers
// balance reads.
type Response struct {
	OK            bool    `msgpack:"ok"`
	Success       bool    `msgpack:"success"`
	NewBalance    float64 `msgpack:"new_balance"`
	Balance       float64 `msgpack:"balance"`
	Message       string  `msgpack:"message"`
	TransactionID string  `msgpack:"transaction_id"`
}

func writeFrame(w io.Writer, v interface{}) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if len(payload) > maxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(payload))
	}

	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(payload)))
	copy(frame[4:], payload)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func readFrame(r io.Reader, v interface{}) error {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return err
	}

	size := binary.BigEndian.Uint32(header)
	if size == 0 || size > maxFrameSize {
		return fmt.Errorf("bad frame length %d", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return err
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}

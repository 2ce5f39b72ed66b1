package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"ftwallet/internal/models"
)

// frame layout: 4-byte big-endian payload length, 4-byte CRC32-C of the
// payload, then the msgpack payload itself.
const frameHeaderSize = 8

// maxRecordSize bounds a single ledger record; anything larger is corruption.
const maxRecordSize = 1 << 20

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

var (
	// ErrCorrupt means the ledger contains an unreadable record before the
	// final frame. The engine must refuse to start on it.
	ErrCorrupt = errors.New("ledger corrupt")
)

// Ledger is an append-only log of transaction records. Every Append is
// fsynced before it returns, so a record that Append acknowledged survives a
// crash. A crash mid-append leaves a short final frame, which Replay skips.
type Ledger struct {
	path string
	f    *os.File
}

// OpenLedger opens (or creates) the ledger file for appending.
func OpenLedger(path string) (*Ledger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	return &Ledger{path: path, f: f}, nil
}

// Append durably writes one record to the log.
func (l *Ledger) Append(rec *models.TransactionRecord) error {
	payload, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode ledger record: %w", err)
	}

	frame := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(frame[4:8], crc32.Checksum(payload, castagnoli))
	copy(frame[frameHeaderSize:], payload)

	if _, err := l.f.Write(frame); err != nil {
		return fmt.Errorf("append ledger record: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync ledger: %w", err)
	}
	return nil
}

func (l *Ledger) Close() error {
	return l.f.Close()
}

// Path returns the ledger file location, for Replay.
func (l *Ledger) Path() string {
	return l.path
}

// Replay reads every record in log order and passes it to fn.
//
// A truncated final frame is the expected artifact of a crash during Append
// and is silently ignored. A checksum mismatch, or a frame that claims an
// impossible length, is real corruption and returns ErrCorrupt. The file is
// never modified here.
func Replay(path string, fn func(*models.TransactionRecord) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open ledger %s: %w", path, err)
	}
	defer f.Close()

	header := make([]byte, frameHeaderSize)
	for {
		if _, err := io.ReadFull(f, header); err != nil {
			if err == io.EOF {
				return nil
			}
			if err == io.ErrUnexpectedEOF {
				// torn header from a crash mid-append
				return nil
			}
			return fmt.Errorf("read ledger frame: %w", err)
		}

		size := binary.BigEndian.Uint32(header[0:4])
		sum := binary.BigEndian.Uint32(header[4:8])
		if size == 0 || size > maxRecordSize {
			return fmt.Errorf("%w: frame length %d", ErrCorrupt, size)
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(f, payload); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				// torn payload from a crash mid-append
				return nil
			}
			return fmt.Errorf("read ledger payload: %w", err)
		}

		if crc32.Checksum(payload, castagnoli) != sum {
			return fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
		}

		var rec models.TransactionRecord
		if err := msgpack.Unmarshal(payload, &rec); err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if err := fn(&rec); err != nil {
			return err
		}
	}
}

package vectorstore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WAL operations. Validated against this whitelist on replay.
const (
	opInsert = "insert"
	opDelete = "delete"
)

var validOps = map[string]bool{
	opInsert: true,
	opDelete: true,
}

// Payload values travel inside an interface, so gob needs the concrete
// types registered. JSON-decoded payloads only ever contain these.
func init() {
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register(string(""))
	gob.Register(float64(0))
	gob.Register(int(0))
	gob.Register(int64(0))
	gob.Register(bool(false))
}

const (
	walFileName  = "records.wal"
	maxEntrySize = 16 * 1024 * 1024 // 16MB per entry
)

// WALEntry is a single durable log entry. Each entry is written as a
// length-prefixed, independently gob-encoded blob followed by a CRC32
// checksum of the blob.
type WALEntry struct {
	ID        string // uuid, for log correlation
	Op        string // "insert" or "delete"
	Record    Record // insert payload
	RecordID  uint64 // delete target
	Timestamp time.Time
}

// WAL is the append-only durability log for one collection's store.
//
// Appends are synced before they return; an insert that was acknowledged
// survives a crash. Replay verifies checksums and truncates a corrupt tail
// rather than refusing to start.
type WAL struct {
	mu     sync.Mutex
	f      *os.File
	path   string
	logger *zap.Logger
}

// OpenWAL opens (or creates) the log under dir.
func OpenWAL(dir string, logger *zap.Logger) (*WAL, error) {
	cleanDir := filepath.Clean(dir)
	if strings.Contains(cleanDir, "..") {
		return nil, fmt.Errorf("wal: path contains directory traversal: %s", dir)
	}
	if err := os.MkdirAll(cleanDir, 0700); err != nil {
		return nil, fmt.Errorf("wal: failed to create directory: %w", err)
	}

	path := filepath.Join(cleanDir, walFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("wal: failed to open %s: %w", path, err)
	}
	return &WAL{f: f, path: path, logger: logger}, nil
}

// AppendInsert logs an insert and syncs.
func (w *WAL) AppendInsert(rec Record) error {
	return w.append(WALEntry{
		ID:        uuid.NewString(),
		Op:        opInsert,
		Record:    rec,
		Timestamp: time.Now().UTC(),
	})
}

// AppendDelete logs a tombstone and syncs.
func (w *WAL) AppendDelete(id uint64) error {
	return w.append(WALEntry{
		ID:        uuid.NewString(),
		Op:        opDelete,
		RecordID:  id,
		Timestamp: time.Now().UTC(),
	})
}

func (w *WAL) append(e WALEntry) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return fmt.Errorf("wal: encode: %w", err)
	}
	blob := buf.Bytes()
	if len(blob) > maxEntrySize {
		return fmt.Errorf("wal: entry too large: %d bytes", len(blob))
	}

	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(blob)))
	binary.LittleEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(blob))

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return ErrClosed
	}
	if _, err := w.f.Write(header[:]); err != nil {
		return fmt.Errorf("wal: write header: %w", err)
	}
	if _, err := w.f.Write(blob); err != nil {
		return fmt.Errorf("wal: write entry: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("wal: sync: %w", err)
	}
	walBytesWritten.Add(float64(8 + len(blob)))
	return nil
}

// Replay reads all entries from the start of the log.
//
// A checksum mismatch or torn write at the tail truncates the file to the
// last valid entry and returns the valid prefix along with ErrCorruptLog.
func (w *WAL) Replay() ([]WALEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("wal: seek: %w", err)
	}

	var (
		entries []WALEntry
		offset  int64
	)
	for {
		var header [8]byte
		if _, err := io.ReadFull(w.f, header[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return entries, w.seekEnd()
			}
			// Torn header: truncate and recover.
			return entries, w.truncate(offset, fmt.Errorf("%w: torn header at offset %d", ErrCorruptLog, offset))
		}
		size := binary.LittleEndian.Uint32(header[0:4])
		sum := binary.LittleEndian.Uint32(header[4:8])
		if size == 0 || size > maxEntrySize {
			return entries, w.truncate(offset, fmt.Errorf("%w: invalid entry size %d at offset %d", ErrCorruptLog, size, offset))
		}

		blob := make([]byte, size)
		if _, err := io.ReadFull(w.f, blob); err != nil {
			return entries, w.truncate(offset, fmt.Errorf("%w: torn entry at offset %d", ErrCorruptLog, offset))
		}
		if crc32.ChecksumIEEE(blob) != sum {
			return entries, w.truncate(offset, fmt.Errorf("%w: checksum mismatch at offset %d", ErrCorruptLog, offset))
		}

		var e WALEntry
		if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&e); err != nil {
			return entries, w.truncate(offset, fmt.Errorf("%w: decode failed at offset %d: %v", ErrCorruptLog, offset, err))
		}
		if !validOps[e.Op] {
			return entries, w.truncate(offset, fmt.Errorf("%w: unknown operation %q at offset %d", ErrCorruptLog, e.Op, offset))
		}

		entries = append(entries, e)
		offset += int64(8 + size)
	}
}

// truncate cuts the log at offset, keeping the valid prefix.
func (w *WAL) truncate(offset int64, cause error) error {
	if w.logger != nil {
		w.logger.Error("truncating corrupt wal tail",
			zap.String("path", w.path),
			zap.Int64("offset", offset),
			zap.Error(cause))
	}
	if err := w.f.Truncate(offset); err != nil {
		return fmt.Errorf("wal: truncate: %w (after %v)", err, cause)
	}
	if _, err := w.f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("wal: seek end: %w (after %v)", err, cause)
	}
	return cause
}

func (w *WAL) seekEnd() error {
	_, err := w.f.Seek(0, io.SeekEnd)
	return err
}

// Close closes the underlying file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

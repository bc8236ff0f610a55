package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// FileBackend persists audit records as gzip-compressed JSON lines. Writes
// are buffered; Flush syncs to disk.
type FileBackend struct {
	mu   sync.Mutex
	file *os.File
	gz   *gzip.Writer
	buf  *bufio.Writer
	enc  *json.Encoder
}

// NewFileBackend opens (appending) the audit file.
func NewFileBackend(path string) (*FileBackend, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	buf := bufio.NewWriterSize(f, 1<<16)
	gz := gzip.NewWriter(buf)
	return &FileBackend{
		file: f,
		gz:   gz,
		buf:  buf,
		enc:  json.NewEncoder(gz),
	}, nil
}

// Persist implements Backend.
func (b *FileBackend) Persist(rec *Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enc.Encode(rec)
}

// Flush implements Backend.
func (b *FileBackend) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.gz.Flush(); err != nil {
		return err
	}
	if err := b.buf.Flush(); err != nil {
		return err
	}
	return b.file.Sync()
}

// Close flushes and closes the file.
func (b *FileBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.gz.Close(); err != nil {
		return err
	}
	if err := b.buf.Flush(); err != nil {
		return err
	}
	return b.file.Close()
}

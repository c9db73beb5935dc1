// Package utils provides size-based log file rotation for the host
// process's JSON log output.
package utils

import (
	"fmt"
	"os"
	"sync"
)

// RotationConfig configures size-based rotation for a log file.
type RotationConfig struct {
	Filename   string
	MaxSizeMB  int
	MaxBackups int
}

// LogRotator is an io.Writer that rotates its backing file once it
// exceeds MaxSizeMB, keeping at most MaxBackups rotated copies.
type LogRotator struct {
	mu   sync.Mutex
	cfg  *RotationConfig
	file *os.File
	size int64
}

func NewLogRotator(cfg *RotationConfig) (*LogRotator, error) {
	if cfg == nil || cfg.Filename == "" {
		return nil, fmt.Errorf("rotation config requires a filename")
	}

	f, err := os.OpenFile(cfg.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("statting log file: %w", err)
	}

	return &LogRotator{cfg: cfg, file: f, size: info.Size()}, nil
}

func (r *LogRotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	maxBytes := int64(r.cfg.MaxSizeMB) * 1024 * 1024
	if maxBytes > 0 && r.size+int64(len(p)) > maxBytes {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *LogRotator) rotate() error {
	if err := r.file.Close(); err != nil {
		return err
	}

	for i := r.cfg.MaxBackups; i > 1; i-- {
		src := r.backupName(i - 1)
		if _, err := os.Stat(src); err == nil {
			os.Rename(src, r.backupName(i))
		}
	}
	if r.cfg.MaxBackups > 0 {
		os.Rename(r.cfg.Filename, r.backupName(1))
	}

	f, err := os.OpenFile(r.cfg.Filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return err
	}
	r.file = f
	r.size = 0
	return nil
}

func (r *LogRotator) backupName(n int) string {
	if n <= 0 {
		return r.cfg.Filename
	}
	return fmt.Sprintf("%s.%d", r.cfg.Filename, n)
}

func (r *LogRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}

func (r *LogRotator) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Sync()
}

package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// backupTimeFormat sorts lexically in creation order
const backupTimeFormat = "20060102T150405.000"

// Rotation bounds a log file on disk. A zero MaxSizeMB never rotates.
type Rotation struct {
	MaxSizeMB  int
	MaxAgeDays int // 0 keeps backups forever
	MaxBackups int // 0 keeps every backup
	Compress   bool
}

// OpenFile opens path for appending, creating its directory. With a
// positive MaxSizeMB the returned writer rotates.
func OpenFile(path string, rot Rotation) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if rot.MaxSizeMB <= 0 {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		return file, nil
	}
	return NewRotatingFile(path, rot)
}

// RotatingFile is an append-only file that is moved aside to
// <name>-<timestamp><ext> once the next write would pass MaxSizeMB.
// It is safe for concurrent use.
type RotatingFile struct {
	path    string
	limit   int64
	rot     Rotation
	now     func() time.Time
	pending sync.WaitGroup // compressions in flight

	mu   sync.Mutex
	file *os.File
	size int64
}

// NewRotatingFile opens path and prunes backups left by earlier runs.
func NewRotatingFile(path string, rot Rotation) (*RotatingFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	rf := &RotatingFile{
		path:  path,
		limit: int64(rot.MaxSizeMB) << 20,
		rot:   rot,
		now:   time.Now,
	}
	if err := rf.open(); err != nil {
		return nil, err
	}
	rf.prune()
	return rf, nil
}

func (rf *RotatingFile) open() error {
	file, err := os.OpenFile(rf.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	rf.file = file
	rf.size = info.Size()
	return nil
}

// Write appends p, rotating first when p would not fit. A single record
// larger than the limit still lands whole in a fresh file.
func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file == nil {
		return 0, os.ErrClosed
	}
	if rf.size > 0 && rf.size+int64(len(p)) > rf.limit {
		if err := rf.rotate(); err != nil {
			return 0, fmt.Errorf("failed to rotate %s: %w", rf.path, err)
		}
	}

	n, err := rf.file.Write(p)
	rf.size += int64(n)
	return n, err
}

// Close closes the file and waits for background compression.
func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	var err error
	if rf.file != nil {
		err = rf.file.Close()
		rf.file = nil
	}
	rf.mu.Unlock()

	rf.pending.Wait()
	return err
}

func (rf *RotatingFile) backupName(t time.Time) string {
	ext := filepath.Ext(rf.path)
	return strings.TrimSuffix(rf.path, ext) + "-" + t.Format(backupTimeFormat) + ext
}

func (rf *RotatingFile) rotate() error {
	if err := rf.file.Close(); err != nil {
		return err
	}
	rf.file = nil

	backup := rf.backupName(rf.now())
	if err := os.Rename(rf.path, backup); err != nil {
		return err
	}
	if err := rf.open(); err != nil {
		return err
	}

	if rf.rot.Compress {
		rf.pending.Add(1)
		go func() {
			defer rf.pending.Done()
			if err := gzipFile(backup); err == nil {
				rf.prune()
			}
		}()
		return nil
	}
	rf.prune()
	return nil
}

// gzipFile replaces path with path.gz
func gzipFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		dst.Close()
		os.Remove(path + ".gz")
		return err
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

// backups lists rotated files of this log, oldest first.
func (rf *RotatingFile) backups() []string {
	ext := filepath.Ext(rf.path)
	pattern := strings.TrimSuffix(rf.path, ext) + "-*" + ext
	plain, _ := filepath.Glob(pattern)
	zipped, _ := filepath.Glob(pattern + ".gz")

	prefix := strings.TrimSuffix(rf.path, ext) + "-"
	var all []string
	for _, path := range append(plain, zipped...) {
		stamp := strings.TrimSuffix(strings.TrimSuffix(path, ".gz"), ext)
		if _, err := time.Parse(backupTimeFormat, strings.TrimPrefix(stamp, prefix)); err == nil {
			all = append(all, path)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return strings.TrimSuffix(all[i], ".gz") < strings.TrimSuffix(all[j], ".gz")
	})
	return all
}

// prune drops backups past MaxBackups and older than MaxAgeDays.
func (rf *RotatingFile) prune() {
	backups := rf.backups()

	if rf.rot.MaxBackups > 0 && len(backups) > rf.rot.MaxBackups {
		for _, path := range backups[:len(backups)-rf.rot.MaxBackups] {
			os.Remove(path)
		}
		backups = backups[len(backups)-rf.rot.MaxBackups:]
	}

	if rf.rot.MaxAgeDays <= 0 {
		return
	}
	cutoff := rf.now().AddDate(0, 0, -rf.rot.MaxAgeDays)
	for _, path := range backups {
		if info, err := os.Stat(path); err == nil && info.ModTime().Before(cutoff) {
			os.Remove(path)
		}
	}
}

package utilities

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RawLog appends raw ingest traffic to one file per prefix and day, e.g.
// logs/TCP_20250314.log. A nil *RawLog discards everything.
type RawLog struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

// NewRawLog returns nil when dir is empty, which disables raw logging.
func NewRawLog(dir string) *RawLog {
	if dir == "" {
		return nil
	}
	return &RawLog{dir: dir, now: time.Now}
}

func (l *RawLog) fileName(prefix string, t time.Time) string {
	return filepath.Join(l.dir, prefix+"_"+t.Format("20060102")+".log")
}

// CreateLog appends one timestamped line under prefix.
func (l *RawLog) CreateLog(prefix, message string) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	t := l.now()
	f, err := os.OpenFile(l.fileName(prefix, t), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open raw log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(t.Format("15:04:05") + " - " + message + "\n"); err != nil {
		return fmt.Errorf("write raw log: %w", err)
	}
	return nil
}

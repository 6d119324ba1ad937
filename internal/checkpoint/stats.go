package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// StatsLog appends one JSON object per completed task to
// log_YYYY_MM_DD_HH_MM_stats.txt. The file name is fixed when the log is
// created so every task of a run lands in the same file.
type StatsLog struct {
	mu   sync.Mutex
	path string
}

// NewStatsLog names the run's stats file under outputDir.
func NewStatsLog(outputDir string, started time.Time) *StatsLog {
	name := "log_" + started.Format("2006_01_02_15_04") + "_stats.txt"
	return &StatsLog{path: filepath.Join(outputDir, name)}
}

// Path is the stats file path.
func (l *StatsLog) Path() string { return l.path }

// Append writes {train_*, test_*, epoch} as a single line.
func (l *StatsLog) Append(train, test map[string]float64, epoch int) error {
	rec := make(map[string]interface{}, len(train)+len(test)+1)
	for k, v := range train {
		rec["train_"+k] = v
	}
	for k, v := range test {
		rec["test_"+k] = v
	}
	rec["epoch"] = epoch

	line, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "failed to encode stats")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return errors.Wrap(err, "failed to create output directory")
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrap(err, "failed to open stats log")
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return errors.Wrap(err, "failed to write stats log")
	}
	return nil
}

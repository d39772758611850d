package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wonny/aegis-rotator/pkg/logger"
)

// OutputRetentionJob removes run output directories older than MaxAge
type OutputRetentionJob struct {
	dir    string
	maxAge time.Duration
	now    func() time.Time
	logger *logger.Logger
}

// NewOutputRetentionJob creates a new retention job
func NewOutputRetentionJob(dir string, maxAge time.Duration, log *logger.Logger) *OutputRetentionJob {
	if log == nil {
		log = logger.Nop()
	}
	return &OutputRetentionJob{
		dir:    dir,
		maxAge: maxAge,
		now:    time.Now,
		logger: log,
	}
}

// Name returns the job name
func (j *OutputRetentionJob) Name() string {
	return "output_retention"
}

// Schedule returns the cron schedule (Sunday 03:00)
func (j *OutputRetentionJob) Schedule() string {
	return "0 0 3 * * 0"
}

// Run deletes expired run directories and stale staging directories
func (j *OutputRetentionJob) Run(ctx context.Context) error {
	entries, err := os.ReadDir(j.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read output dir: %w", err)
	}

	cutoff := j.now().Add(-j.maxAge)
	removed := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}

		// "." prefix = 중단된 staging 디렉터리
		stale := strings.HasPrefix(e.Name(), ".") && info.ModTime().Before(j.now().Add(-time.Hour))
		if !stale && !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(j.dir, e.Name())); err != nil {
			return fmt.Errorf("remove %s: %w", e.Name(), err)
		}
		removed++
	}

	if removed > 0 {
		j.logger.WithField("removed", removed).Info("Output retention completed")
	}
	return nil
}

// Package quota aggregates backend usage and decides whether new uploads
// may be admitted.
package quota

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/bagqueue/internal/common"
	"github.com/dmitrijs2005/bagqueue/internal/logging"
	"github.com/dmitrijs2005/bagqueue/internal/server/models"
	"github.com/dmitrijs2005/bagqueue/internal/server/storage"
)

type Accountant struct {
	backends  []storage.Backend
	threshold float64
	logger    logging.Logger
}

// NewAccountant reports on backends and refuses admission once the byte or
// inode ratio of any backend exceeds threshold. A threshold <= 0 disables
// the check.
func NewAccountant(backends []storage.Backend, threshold float64, logger logging.Logger) *Accountant {
	return &Accountant{
		backends:  backends,
		threshold: threshold,
		logger:    logger.With("module", "quota"),
	}
}

// Snapshot measures every backend. Each figure is clamped so that used never
// exceeds total; clamping is logged and flagged on the snapshot.
func (a *Accountant) Snapshot(ctx context.Context) (models.StorageReport, error) {
	report := models.StorageReport{Total: models.StorageSnapshot{Backend: "total"}}

	for _, b := range a.backends {
		u, err := b.Usage(ctx)
		if err != nil {
			return models.StorageReport{}, fmt.Errorf("%w: usage of %s: %w", common.ErrBackend, b.Name(), err)
		}

		s := models.StorageSnapshot{
			Backend:     b.Name(),
			UsedBytes:   u.UsedBytes,
			TotalBytes:  u.TotalBytes,
			UsedInodes:  u.UsedInodes,
			TotalInodes: u.TotalInodes,
		}
		if s.UsedBytes > s.TotalBytes {
			s.UsedBytes = s.TotalBytes
			s.Clamped = true
		}
		if s.UsedInodes > s.TotalInodes {
			s.UsedInodes = s.TotalInodes
			s.Clamped = true
		}
		if s.Clamped {
			a.logger.Warn(ctx, "inconsistent storage measurement clamped",
				"backend", b.Name(),
				"used_bytes", u.UsedBytes, "total_bytes", u.TotalBytes,
				"used_inodes", u.UsedInodes, "total_inodes", u.TotalInodes)
		}

		report.Backends = append(report.Backends, s)
		report.Total.UsedBytes += s.UsedBytes
		report.Total.TotalBytes += s.TotalBytes
		report.Total.UsedInodes += s.UsedInodes
		report.Total.TotalInodes += s.TotalInodes
		report.Total.Clamped = report.Total.Clamped || s.Clamped
	}
	return report, nil
}

// Admit returns common.ErrCapacityExceeded when any backend is above the
// threshold. Uploads land on the working tier, so a nearly full working
// backend refuses uploads however much room the durable tier has.
func (a *Accountant) Admit(ctx context.Context) error {
	if a.threshold <= 0 {
		return nil
	}
	report, err := a.Snapshot(ctx)
	if err != nil {
		return err
	}
	for _, s := range report.Backends {
		if s.ByteRatio() > a.threshold || s.InodeRatio() > a.threshold {
			return fmt.Errorf("%w: %s at bytes %d/%d, inodes %d/%d", common.ErrCapacityExceeded,
				s.Backend, s.UsedBytes, s.TotalBytes, s.UsedInodes, s.TotalInodes)
		}
	}
	return nil
}

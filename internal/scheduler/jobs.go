package scheduler

import (
	"context"
	"time"

	"zonemarket/internal/logger"
)

// Job names.
const (
	JobBanSweep = "ban_sweep"
	JobBackup   = "backup"
)

// BanReleaser reactivates temporary bans that expired before now.
type BanReleaser interface {
	Now() time.Time
	ReleaseExpiredBans(ctx context.Context, now time.Time) (int64, error)
}

// BanSweep returns the job that lifts expired temporary bans.
func BanSweep(cron string, store BanReleaser) Job {
	return Job{
		Name: JobBanSweep,
		Cron: cron,
		Run: func(ctx context.Context) error {
			n, err := store.ReleaseExpiredBans(ctx, store.Now())
			if err != nil {
				return err
			}
			if n > 0 {
				logger.Infof("[scheduler] ✅ Released %d expired bans", n)
			}
			return nil
		},
	}
}

// Snapshotter creates a database backup.
type Snapshotter interface {
	Create(ctx context.Context, name string) error
}

// SnapshotFunc adapts a function to Snapshotter.
type SnapshotFunc func(ctx context.Context, name string) error

func (f SnapshotFunc) Create(ctx context.Context, name string) error { return f(ctx, name) }

// Backup returns the job that writes a scheduled backup.
func Backup(cron string, s Snapshotter) Job {
	return Job{
		Name: JobBackup,
		Cron: cron,
		Run: func(ctx context.Context) error {
			return s.Create(ctx, "scheduled")
		},
	}
}

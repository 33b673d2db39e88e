package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
)

// Scheduler 周期性地检查提醒条件并输出通知意图，本身不修改任何审批数据
type Scheduler struct {
	conditions []Condition
	source     Source
	directory  Directory
	dedup      Deduper
	sink       Sink
	loc        *time.Location
	interval   time.Duration
}

func New(conditions []Condition, source Source, directory Directory, dedup Deduper, sink Sink, loc *time.Location, interval time.Duration) (*Scheduler, error) {
	for _, c := range conditions {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	if source == nil || directory == nil || dedup == nil || sink == nil {
		return nil, fmt.Errorf("提醒调度器缺少必要的依赖")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("提醒调度间隔必须为正数")
	}
	if loc == nil {
		loc = time.Local
	}

	return &Scheduler{
		conditions: conditions,
		source:     source,
		directory:  directory,
		dedup:      dedup,
		sink:       sink,
		loc:        loc,
		interval:   interval,
	}, nil
}

// Run 立即执行一轮检查，之后按固定间隔执行，直到 ctx 被取消
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("提醒调度器已启动", "interval", s.interval, "conditions", len(s.conditions))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			slog.Error("提醒检查失败", "error", err)
		}

		select {
		case <-ctx.Done():
			slog.Info("提醒调度器已停止")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce 基于同一个快照依次检查所有条件，在条件之间响应取消
func (s *Scheduler) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats

	snap, err := s.source.Snapshot(ctx)
	if err != nil {
		return stats, fmt.Errorf("无法读取快照: %w", err)
	}

	for _, c := range s.conditions {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		for _, subj := range s.match(c, snap) {
			stats.Matched++
			if err := s.fire(ctx, c, subj, snap.TakenAt, &stats); err != nil {
				slog.Error("无法发送提醒", "error", err, "condition", c.ID, "subject", subj.id)
			}
		}
	}

	slog.Info("提醒检查完成",
		"matched", stats.Matched,
		"fired", stats.Fired,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
	)

	return stats, nil
}

func (s *Scheduler) fire(ctx context.Context, c Condition, subj subject, takenAt time.Time, stats *Stats) error {
	recipients, err := s.directory.Recipients(ctx, subj.teamID, c.Recipients)
	if err != nil {
		stats.Failed++
		return fmt.Errorf("无法获取收件人: %w", err)
	}

	period, ttl := periodKey(c.Period, takenAt.In(s.loc))
	dedupKey := fmt.Sprintf("%s:%s:%s", c.ID, subj.id, period)

	for _, recipient := range recipients {
		if recipient.Email == "" {
			continue
		}

		claimKey := fmt.Sprintf("%s:%d", dedupKey, recipient.UserID)
		claimed, err := s.dedup.Claim(ctx, claimKey, ttl)
		if err != nil {
			stats.Failed++
			return fmt.Errorf("无法获取去重标记: %w", err)
		}
		if !claimed {
			stats.Skipped++
			continue
		}

		vars := make(map[string]any, len(subj.variables)+1)
		for k, v := range subj.variables {
			vars[k] = v
		}
		vars["recipientName"] = recipient.FullName

		intent := &domain.NotificationIntent{
			ID:          uuid.NewString(),
			Recipient:   recipient,
			ConditionID: c.ID,
			DedupKey:    dedupKey,
			Variables:   vars,
			FiredAt:     takenAt,
		}
		if err := s.sink.Emit(ctx, intent); err != nil {
			stats.Failed++
			// 释放标记以便下一轮重试
			if rerr := s.dedup.Release(ctx, claimKey); rerr != nil {
				slog.Error("无法释放去重标记", "error", rerr, "key", claimKey)
			}
			return fmt.Errorf("无法输出通知意图: %w", err)
		}
		stats.Fired++
	}

	return nil
}

package scheduler

import (
	"context"
	"time"

	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
)

// Snapshot 是一次检查所依据的一致性视图，同一轮内的所有条件都基于同一个快照
type Snapshot struct {
	TakenAt time.Time
	Teams   []*domain.Team
	// Months 只包含尚未审批通过的月度记录
	Months []*domain.MonthState
	// ApprovedMonths 是最近几个月内已审批通过的月份，只保留键
	ApprovedMonths map[domain.MonthKey]bool
	// LastRecords 记录每个班组最近一次班前会的日期，没有任何记录的班组不在其中
	LastRecords map[int64]time.Time
}

type Source interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

type Directory interface {
	Recipients(ctx context.Context, teamID int64, rule RecipientRule) ([]domain.Recipient, error)
}

// Deduper 保证同一条提醒在一个周期内只发送一次，ttl 为 0 表示永不过期
type Deduper interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type Sink interface {
	Emit(ctx context.Context, intent *domain.NotificationIntent) error
}

// Stats 汇总一轮检查的结果
type Stats struct {
	Matched int // 命中条件的对象数
	Fired   int
	Skipped int // 本周期内已经发送过
	Failed  int
}

// subject 是某个条件命中的对象
type subject struct {
	teamID    int64
	id        string
	variables map[string]any
}

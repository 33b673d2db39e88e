package scheduler

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type ConditionKind string

const (
	KindEscalationPending  ConditionKind = "escalation_pending"
	KindDailyRecordGap     ConditionKind = "daily_record_gap"
	KindMonthUnsubmitted   ConditionKind = "month_unsubmitted"
	KindEscalationRejected ConditionKind = "escalation_rejected"
)

type RecipientRule string

const (
	RecipientTeamApprovers RecipientRule = "team_approvers"
	RecipientTeamLeaders   RecipientRule = "team_leaders"
	RecipientTeamManagers  RecipientRule = "team_managers"
	RecipientAdmins        RecipientRule = "admins"
)

type DedupPeriod string

const (
	PeriodDaily  DedupPeriod = "daily"
	PeriodWeekly DedupPeriod = "weekly"
	PeriodOnce   DedupPeriod = "once"
)

type Condition struct {
	ID            string        `yaml:"id"`
	Kind          ConditionKind `yaml:"kind"`
	ThresholdDays int           `yaml:"threshold_days"`
	Recipients    RecipientRule `yaml:"recipients"`
	Period        DedupPeriod   `yaml:"period"`
	Disabled      bool          `yaml:"disabled"`
}

func (c Condition) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("提醒条件缺少 id")
	}
	switch c.Kind {
	case KindEscalationPending, KindDailyRecordGap, KindMonthUnsubmitted, KindEscalationRejected:
	default:
		return fmt.Errorf("提醒条件 %s 的类型 %q 无效", c.ID, c.Kind)
	}
	if c.ThresholdDays < 1 {
		return fmt.Errorf("提醒条件 %s 的阈值必须至少为 1 天", c.ID)
	}
	switch c.Recipients {
	case RecipientTeamApprovers, RecipientTeamLeaders, RecipientTeamManagers, RecipientAdmins:
	default:
		return fmt.Errorf("提醒条件 %s 的收件人规则 %q 无效", c.ID, c.Recipients)
	}
	switch c.Period {
	case PeriodDaily, PeriodWeekly, PeriodOnce:
	default:
		return fmt.Errorf("提醒条件 %s 的去重周期 %q 无效", c.ID, c.Period)
	}
	return nil
}

// DefaultConditions 是未提供配置文件时使用的提醒条件
func DefaultConditions() []Condition {
	return []Condition{
		{ID: string(KindEscalationPending), Kind: KindEscalationPending, ThresholdDays: 3, Recipients: RecipientTeamApprovers, Period: PeriodDaily},
		{ID: string(KindDailyRecordGap), Kind: KindDailyRecordGap, ThresholdDays: 2, Recipients: RecipientTeamLeaders, Period: PeriodDaily},
		{ID: string(KindMonthUnsubmitted), Kind: KindMonthUnsubmitted, ThresholdDays: 3, Recipients: RecipientTeamLeaders, Period: PeriodWeekly},
		{ID: string(KindEscalationRejected), Kind: KindEscalationRejected, ThresholdDays: 2, Recipients: RecipientTeamLeaders, Period: PeriodOnce},
	}
}

type conditionsFile struct {
	Conditions []Condition `yaml:"conditions"`
}

// ParseConditions 解析 YAML 格式的提醒条件，id 省略时使用类型名
func ParseConditions(data []byte) ([]Condition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("提醒条件配置为空")
	}

	var file conditionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("无法解析提醒条件配置: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Conditions))
	conditions := make([]Condition, 0, len(file.Conditions))
	for _, c := range file.Conditions {
		if c.ID == "" {
			c.ID = string(c.Kind)
		}
		if c.Period == "" {
			c.Period = PeriodDaily
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, ok := seen[c.ID]; ok {
			return nil, fmt.Errorf("提醒条件 %s 重复定义", c.ID)
		}
		seen[c.ID] = struct{}{}
		if c.Disabled {
			continue
		}
		conditions = append(conditions, c)
	}

	return conditions, nil
}

// LoadConditions 从文件加载提醒条件，path 为空时返回默认条件
func LoadConditions(path string) ([]Condition, error) {
	if path == "" {
		return DefaultConditions(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("无法读取提醒条件配置 %s: %w", path, err)
	}
	conditions, err := ParseConditions(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return conditions, nil
}

// periodKey 返回去重周期的标识以及对应的过期时间
func periodKey(period DedupPeriod, now time.Time) (string, time.Duration) {
	switch period {
	case PeriodWeekly:
		year, week := now.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week), 7 * 24 * time.Hour
	case PeriodOnce:
		return "once", 0
	default:
		return now.Format(time.DateOnly), 24 * time.Hour
	}
}

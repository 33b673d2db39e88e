package scheduler

import (
	"fmt"
	"time"

	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
)

// match 计算某个条件在快照上命中的对象
func (s *Scheduler) match(c Condition, snap *Snapshot) []subject {
	now := snap.TakenAt.In(s.loc)

	teamNames := make(map[int64]string, len(snap.Teams))
	for _, team := range snap.Teams {
		teamNames[team.ID] = team.Name
	}

	switch c.Kind {
	case KindEscalationPending:
		return matchPendingRequests(c, snap, now, teamNames)
	case KindEscalationRejected:
		return matchRejectedRequests(c, snap, now, teamNames)
	case KindDailyRecordGap:
		return matchRecordGaps(c, snap, now, s.loc)
	case KindMonthUnsubmitted:
		return matchUnsubmittedMonths(c, snap, now, s.loc)
	default:
		return nil
	}
}

func monthVariables(agg *domain.MonthlyAggregate, teamNames map[int64]string) map[string]any {
	return map[string]any{
		"teamID":   agg.TeamID,
		"teamName": teamNames[agg.TeamID],
		"year":     agg.Year,
		"month":    agg.Month,
	}
}

func matchPendingRequests(c Condition, snap *Snapshot, now time.Time, teamNames map[int64]string) []subject {
	subjects := make([]subject, 0)
	for _, state := range snap.Months {
		req := state.Request
		if req == nil || req.Status != domain.EscalationPending {
			continue
		}
		days := daysBetween(req.RequestedAt.In(now.Location()), now)
		if days < c.ThresholdDays {
			continue
		}

		vars := monthVariables(state.Aggregate, teamNames)
		vars["requestID"] = req.ID
		vars["pendingDays"] = days
		vars["phase"] = string(req.Phase)
		subjects = append(subjects, subject{
			teamID:    state.Aggregate.TeamID,
			id:        fmt.Sprintf("request-%d", req.ID),
			variables: vars,
		})
	}
	return subjects
}

func matchRejectedRequests(c Condition, snap *Snapshot, now time.Time, teamNames map[int64]string) []subject {
	subjects := make([]subject, 0)
	for _, state := range snap.Months {
		req := state.Request
		if req == nil || req.Status != domain.EscalationRejected || req.DecidedAt == nil {
			continue
		}
		days := daysBetween(req.DecidedAt.In(now.Location()), now)
		if days < c.ThresholdDays {
			continue
		}

		vars := monthVariables(state.Aggregate, teamNames)
		vars["requestID"] = req.ID
		vars["rejectedDays"] = days
		subjects = append(subjects, subject{
			teamID:    state.Aggregate.TeamID,
			id:        fmt.Sprintf("request-%d", req.ID),
			variables: vars,
		})
	}
	return subjects
}

// matchRecordGaps 统计截至昨天连续缺少班前会记录的天数，今天的记录可能还没有提交
func matchRecordGaps(c Condition, snap *Snapshot, now time.Time, loc *time.Location) []subject {
	yesterday := domain.DateOf(now).AddDate(0, 0, -1)

	subjects := make([]subject, 0)
	for _, team := range snap.Teams {
		var gap int
		vars := map[string]any{
			"teamID":   team.ID,
			"teamName": team.Name,
		}
		if last, ok := snap.LastRecords[team.ID]; ok {
			lastDay := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, loc)
			gap = daysBetween(lastDay, yesterday)
			vars["lastRecordDate"] = last.Format(time.DateOnly)
		} else {
			gap = daysBetween(team.CreatedAt.In(loc), yesterday) + 1
			vars["lastRecordDate"] = ""
		}
		if gap < c.ThresholdDays {
			continue
		}

		vars["gapDays"] = gap
		subjects = append(subjects, subject{
			teamID:    team.ID,
			id:        fmt.Sprintf("team-%d", team.ID),
			variables: vars,
		})
	}
	return subjects
}

// matchUnsubmittedMonths 检查上个月在月末之后若干天仍未提交的班组
func matchUnsubmittedMonths(c Condition, snap *Snapshot, now time.Time, loc *time.Location) []subject {
	year, month := previousMonth(now)

	// 只有月度记录不存在或仍为 OPEN 的班组需要提醒
	open := make(map[int64]bool, len(snap.Teams))
	for _, team := range snap.Teams {
		open[team.ID] = !snap.ApprovedMonths[domain.MonthKey{TeamID: team.ID, Year: year, Month: month}]
	}
	for _, state := range snap.Months {
		agg := state.Aggregate
		if agg.Year == year && agg.Month == month && agg.Status != domain.AggregateOpen {
			open[agg.TeamID] = false
		}
	}

	subjects := make([]subject, 0)
	for _, team := range snap.Teams {
		key := domain.MonthKey{TeamID: team.ID, Year: year, Month: month}
		end := key.End(loc)
		if domain.CivilDay(team.CreatedAt.In(loc)) > domain.CivilDay(end) {
			continue
		}
		if !open[team.ID] {
			continue
		}
		overdue := daysBetween(end, now)
		if overdue < c.ThresholdDays {
			continue
		}

		subjects = append(subjects, subject{
			teamID: team.ID,
			id:     fmt.Sprintf("month-%d-%04d-%02d", team.ID, year, month),
			variables: map[string]any{
				"teamID":      team.ID,
				"teamName":    team.Name,
				"year":        year,
				"month":       month,
				"overdueDays": overdue,
			},
		})
	}
	return subjects
}

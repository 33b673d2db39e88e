package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/memstore"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/scheduler"
)

type recordingSink struct {
	intents []*domain.NotificationIntent
	fail    bool
}

func (s *recordingSink) Emit(ctx context.Context, intent *domain.NotificationIntent) error {
	if s.fail {
		return errors.New("queue unavailable")
	}
	s.intents = append(s.intents, intent)
	return nil
}

func (s *recordingSink) byCondition(id string) []*domain.NotificationIntent {
	out := make([]*domain.NotificationIntent, 0)
	for _, intent := range s.intents {
		if intent.ConditionID == id {
			out = append(out, intent)
		}
	}
	return out
}

type world struct {
	store *memstore.Store
	now   time.Time
}

func (w *world) clock() time.Time { return w.now }

// newWorld 构造两个班组：7 号班组有一个提交了 4 天仍未审批的请求，8 号班组已经 3 天没有记录
func newWorld(t *testing.T) *world {
	t.Helper()

	w := &world{now: time.Date(2025, 12, 5, 9, 0, 0, 0, time.UTC)}
	store := memstore.New()
	store.SetClock(w.clock)
	w.store = store

	created := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	store.AddTeam(&domain.Team{ID: 7, Name: "七班", CreatedAt: created})
	store.AddTeam(&domain.Team{ID: 8, Name: "八班", CreatedAt: created})

	seven, eight := int64(7), int64(8)
	store.AddUser(&domain.User{ID: 101, FullName: "张伟", Email: "leader7@example.com", Role: domain.RoleLeader, TeamID: &seven, IsActive: true})
	store.AddUser(&domain.User{ID: 102, FullName: "刘洋", Email: "leader8@example.com", Role: domain.RoleLeader, TeamID: &eight, IsActive: true})
	store.AddUser(&domain.User{ID: 103, FullName: "停用", Email: "inactive@example.com", Role: domain.RoleLeader, TeamID: &eight, IsActive: false})
	store.AddUser(&domain.User{ID: 301, FullName: "王强", Email: "approver@example.com", Role: domain.RoleApprover, IsActive: true})

	for d := 1; d <= 4; d++ {
		store.AddDailyRecord(&domain.DailyRecord{TeamID: 7, Date: time.Date(2025, 12, d, 0, 0, 0, 0, time.UTC)})
	}
	store.AddDailyRecord(&domain.DailyRecord{TeamID: 8, Date: time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)})

	ctx := context.Background()
	november := domain.MonthKey{TeamID: 7, Year: 2025, Month: 11}
	if _, err := store.UpdateMonth(ctx, november, func(state *domain.MonthState) error {
		state.Request = domain.NewEscalationRequest(state.Aggregate.ID, 101, time.Date(2025, 12, 1, 8, 0, 0, 0, time.UTC))
		state.Aggregate.Status = domain.AggregateSubmitted
		return nil
	}); err != nil {
		t.Fatalf("seed pending month: %v", err)
	}

	return w
}

func newScheduler(t *testing.T, w *world, conditions []scheduler.Condition, sink scheduler.Sink) *scheduler.Scheduler {
	t.Helper()
	s, err := scheduler.New(conditions, w.store, w.store, w.store, sink, time.UTC, time.Hour)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s
}

func TestPendingEscalationNotifiesApprovers(t *testing.T) {
	w := newWorld(t)
	sink := &recordingSink{}
	s := newScheduler(t, w, scheduler.DefaultConditions(), sink)

	if _, err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	pending := sink.byCondition("escalation_pending")
	if len(pending) != 1 {
		t.Fatalf("expected one pending reminder, got %d", len(pending))
	}
	intent := pending[0]
	if intent.Recipient.Email != "approver@example.com" {
		t.Fatalf("expected approver recipient, got %s", intent.Recipient.Email)
	}
	if intent.Variables["pendingDays"] != 4 || intent.Variables["teamName"] != "七班" {
		t.Fatalf("unexpected template variables: %v", intent.Variables)
	}
	if intent.DedupKey != "escalation_pending:request-1:2025-12-05" {
		t.Fatalf("unexpected dedup key %s", intent.DedupKey)
	}
}

func TestRecordGapNotifiesActiveLeaders(t *testing.T) {
	w := newWorld(t)
	sink := &recordingSink{}
	s := newScheduler(t, w, scheduler.DefaultConditions(), sink)

	if _, err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	gaps := sink.byCondition("daily_record_gap")
	if len(gaps) != 1 {
		t.Fatalf("expected one gap reminder, got %d", len(gaps))
	}
	if gaps[0].Recipient.UserID != 102 || gaps[0].Variables["gapDays"] != 3 {
		t.Fatalf("expected team 8 leader with a 3 day gap, got %d / %v", gaps[0].Recipient.UserID, gaps[0].Variables["gapDays"])
	}
}

func TestUnsubmittedPreviousMonth(t *testing.T) {
	w := newWorld(t)
	sink := &recordingSink{}
	s := newScheduler(t, w, scheduler.DefaultConditions(), sink)

	if _, err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	// 7 号班组 11 月已提交，只有 8 号班组需要提醒
	unsubmitted := sink.byCondition("month_unsubmitted")
	if len(unsubmitted) != 1 || unsubmitted[0].Recipient.UserID != 102 {
		t.Fatalf("expected a reminder for team 8 only, got %d", len(unsubmitted))
	}
	if unsubmitted[0].Variables["overdueDays"] != 5 {
		t.Fatalf("expected 5 overdue days, got %v", unsubmitted[0].Variables["overdueDays"])
	}
}

// decideNovember 把 7 号班组 11 月的请求直接置为最终结果，月度记录同步更新
func decideNovember(t *testing.T, w *world, status domain.EscalationStatus, decidedAt time.Time) {
	t.Helper()
	november := domain.MonthKey{TeamID: 7, Year: 2025, Month: 11}
	if _, err := w.store.UpdateMonth(context.Background(), november, func(state *domain.MonthState) error {
		approver := int64(301)
		state.Request.Status = status
		state.Request.ApproverID = &approver
		state.Request.DecidedAt = &decidedAt
		state.Aggregate.Status = domain.AggregateRejected
		if status == domain.EscalationApproved {
			state.Request.ApprovedAt = &decidedAt
			state.Aggregate.Status = domain.AggregateApproved
			state.Aggregate.ApprovedAt = &decidedAt
			state.Aggregate.ApproverID = &approver
		}
		return nil
	}); err != nil {
		t.Fatalf("decide november: %v", err)
	}
}

func TestApprovedPreviousMonthIsNotUnsubmitted(t *testing.T) {
	w := newWorld(t)
	decideNovember(t, w, domain.EscalationApproved, time.Date(2025, 12, 3, 10, 0, 0, 0, time.UTC))
	w.now = time.Date(2025, 12, 10, 9, 0, 0, 0, time.UTC)

	sink := &recordingSink{}
	s := newScheduler(t, w, scheduler.DefaultConditions(), sink)
	if _, err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	unsubmitted := sink.byCondition("month_unsubmitted")
	if len(unsubmitted) != 1 || unsubmitted[0].Recipient.UserID != 102 {
		t.Fatalf("only team 8 may be reminded, got %d intents", len(unsubmitted))
	}
	for _, intent := range unsubmitted {
		if intent.Variables["teamID"] == int64(7) {
			t.Fatalf("approved month reminded as unsubmitted: %v", intent.Variables)
		}
	}
	if len(sink.byCondition("escalation_pending")) != 0 {
		t.Fatalf("approved request must not be reminded as pending")
	}
}

func TestRejectedEscalationRemindsLeadersOnce(t *testing.T) {
	w := newWorld(t)
	decideNovember(t, w, domain.EscalationRejected, time.Date(2025, 12, 2, 15, 0, 0, 0, time.UTC))

	conditions := []scheduler.Condition{scheduler.DefaultConditions()[3]}
	sink := &recordingSink{}
	s := newScheduler(t, w, conditions, sink)
	ctx := context.Background()

	// 12 月 3 日只驳回了 1 天，未达到阈值
	w.now = time.Date(2025, 12, 3, 9, 0, 0, 0, time.UTC)
	if _, err := s.RunOnce(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(sink.intents) != 0 {
		t.Fatalf("rejection below threshold must not fire, got %d", len(sink.intents))
	}

	w.now = time.Date(2025, 12, 5, 9, 0, 0, 0, time.UTC)
	if _, err := s.RunOnce(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	rejected := sink.byCondition("escalation_rejected")
	if len(rejected) != 1 {
		t.Fatalf("expected one rejected reminder, got %d", len(rejected))
	}
	if rejected[0].Recipient.UserID != 101 || rejected[0].Variables["rejectedDays"] != 3 {
		t.Fatalf("expected team 7 leader with 3 rejected days, got %d / %v", rejected[0].Recipient.UserID, rejected[0].Variables["rejectedDays"])
	}
	if rejected[0].DedupKey != "escalation_rejected:request-1:once" {
		t.Fatalf("unexpected dedup key %s", rejected[0].DedupKey)
	}

	// once 周期的提醒此后不再发送
	for _, later := range []time.Time{w.now.Add(24 * time.Hour), w.now.AddDate(0, 0, 30)} {
		w.now = later
		stats, err := s.RunOnce(ctx)
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if stats.Fired != 0 || stats.Skipped != 1 {
			t.Fatalf("rejected reminder must fire only once, got %+v", stats)
		}
	}
}

func TestDedupWithinPeriod(t *testing.T) {
	w := newWorld(t)
	sink := &recordingSink{}
	s := newScheduler(t, w, scheduler.DefaultConditions(), sink)
	ctx := context.Background()

	first, err := s.RunOnce(ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := s.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Fired != 0 || second.Skipped != first.Fired {
		t.Fatalf("second pass must be fully deduplicated, got %+v after %+v", second, first)
	}

	// 第二天每日提醒会再次发送，每周提醒不会
	w.now = w.now.Add(24 * time.Hour)
	third, err := s.RunOnce(ctx)
	if err != nil {
		t.Fatalf("third run: %v", err)
	}
	if len(sink.byCondition("escalation_pending")) != 2 {
		t.Fatalf("expected the daily pending reminder to fire again")
	}
	if len(sink.byCondition("month_unsubmitted")) != 1 {
		t.Fatalf("weekly reminder must not fire again within the week")
	}
	if third.Skipped == 0 {
		t.Fatalf("expected the weekly reminder to be skipped")
	}
}

func TestFailedEmitReleasesClaim(t *testing.T) {
	w := newWorld(t)
	sink := &recordingSink{fail: true}
	conditions := []scheduler.Condition{scheduler.DefaultConditions()[0]}
	s := newScheduler(t, w, conditions, sink)
	ctx := context.Background()

	stats, err := s.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Failed != 1 || stats.Fired != 0 {
		t.Fatalf("expected one failure, got %+v", stats)
	}

	sink.fail = false
	stats, err = s.RunOnce(ctx)
	if err != nil {
		t.Fatalf("retry run: %v", err)
	}
	if stats.Fired != 1 {
		t.Fatalf("released claim must allow the retry to fire, got %+v", stats)
	}
}

func TestRunOnceStopsWhenCancelled(t *testing.T) {
	w := newWorld(t)
	sink := &recordingSink{}
	s := newScheduler(t, w, scheduler.DefaultConditions(), sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.RunOnce(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(sink.intents) != 0 {
		t.Fatalf("cancelled pass must not emit")
	}
}

func TestParseConditions(t *testing.T) {
	data := []byte(`
conditions:
  - kind: escalation_pending
    threshold_days: 5
    recipients: admins
  - id: long_gap
    kind: daily_record_gap
    threshold_days: 7
    recipients: team_managers
    period: weekly
  - kind: escalation_rejected
    threshold_days: 1
    recipients: team_leaders
    disabled: true
`)
	conditions, err := scheduler.ParseConditions(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(conditions) != 2 {
		t.Fatalf("expected disabled condition to be dropped, got %d", len(conditions))
	}
	if conditions[0].ID != "escalation_pending" || conditions[0].Period != scheduler.PeriodDaily {
		t.Fatalf("expected id and period defaults, got %+v", conditions[0])
	}
	if conditions[1].ID != "long_gap" || conditions[1].Recipients != scheduler.RecipientTeamManagers {
		t.Fatalf("unexpected second condition %+v", conditions[1])
	}

	if _, err := scheduler.ParseConditions([]byte("conditions:\n  - kind: unknown\n    threshold_days: 1\n    recipients: admins\n")); err == nil {
		t.Fatalf("expected unknown kind to be rejected")
	}
	if _, err := scheduler.ParseConditions([]byte("  ")); err == nil {
		t.Fatalf("expected empty payload to be rejected")
	}
}

package approval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/memstore"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/reconcile"
)

const (
	leaderID   int64 = 101
	managerID  int64 = 201
	approverID int64 = 301
	memberID   int64 = 1
)

var (
	loc      = time.UTC
	november = domain.MonthKey{TeamID: 7, Year: 2025, Month: 11}
)

type fixture struct {
	store *memstore.Store
	svc   *Service
	rec   *reconcile.Service
	now   time.Time
}

func day(d int) time.Time {
	return time.Date(2025, 11, d, 0, 0, 0, 0, loc)
}

// newFixture 构造 7 号班组：一名有账号的班组长和一名仅在花名册中的成员，
// 11 月 6 日到 30 日每天都有两人签名的记录
func newFixture(t *testing.T) *fixture {
	t.Helper()

	now := time.Date(2025, 12, 5, 9, 0, 0, 0, loc)
	store := memstore.New()
	store.SetClock(func() time.Time { return now })

	store.AddTeam(&domain.Team{ID: 7, Name: "七班", CreatedAt: time.Date(2025, 10, 1, 0, 0, 0, 0, loc)})
	teamID := int64(7)
	store.AddUser(&domain.User{ID: leaderID, FullName: "张伟", Email: "leader@example.com", Role: domain.RoleLeader, TeamID: &teamID, IsActive: true})
	store.AddUser(&domain.User{ID: managerID, FullName: "李娜", Email: "manager@example.com", Role: domain.RoleManager, TeamID: &teamID, IsActive: true})
	store.AddUser(&domain.User{ID: approverID, FullName: "王强", Email: "approver@example.com", Role: domain.RoleApprover, IsActive: true})

	joined := time.Date(2025, 10, 1, 0, 0, 0, 0, loc)
	store.AddRosterEntry(&domain.RosterEntry{TeamID: 7, Attendee: domain.Registered(leaderID), FullName: "张伟", JoinedOn: joined})
	store.AddRosterEntry(&domain.RosterEntry{TeamID: 7, Attendee: domain.RosterOnly(memberID), FullName: "赵六", JoinedOn: joined})

	for d := 6; d <= 30; d++ {
		addSignedRecord(store, d, domain.Registered(leaderID), domain.RosterOnly(memberID))
	}

	svc := NewService(store, store, loc)
	svc.SetClock(func() time.Time { return now })

	rec := reconcile.NewService(store, nil)

	return &fixture{store: store, svc: svc, rec: rec, now: now}
}

func addSignedRecord(store *memstore.Store, d int, attendees ...domain.AttendeeRef) {
	record := &domain.DailyRecord{TeamID: 7, Date: day(d)}
	for _, a := range attendees {
		record.Signatures = append(record.Signatures, domain.AttendeeSignature{
			Attendee:       a,
			SignatureImage: "signatures/daily.png",
			SignedAt:       day(d).Add(8 * time.Hour),
		})
	}
	store.AddDailyRecord(record)
}

func (f *fixture) addAbsences(from, to int) {
	for d := from; d <= to; d++ {
		f.store.AddAbsence(&domain.AbsenceEntry{TeamID: 7, Date: day(d), Attendee: domain.Registered(leaderID), Reason: "停工"})
		f.store.AddAbsence(&domain.AbsenceEntry{TeamID: 7, Date: day(d), Attendee: domain.RosterOnly(memberID), Reason: "停工"})
	}
}

func (f *fixture) assertConsistent(t *testing.T) {
	t.Helper()
	report, err := f.rec.Verify(context.Background(), november)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !report.Consistent() {
		t.Fatalf("expected no drift, got %+v", report.Drift)
	}
}

func (f *fixture) submitted(t *testing.T) *domain.EscalationRequest {
	t.Helper()
	f.addAbsences(1, 5)
	view, err := f.svc.Submit(context.Background(), november, leaderID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return view.Request
}

func (f *fixture) signed(t *testing.T) *domain.EscalationRequest {
	t.Helper()
	req := f.submitted(t)
	ctx := context.Background()
	if _, err := f.svc.CaptureSignature(ctx, req.ID, domain.SignatureManager, managerID, "signatures/manager.png"); err != nil {
		t.Fatalf("manager signature: %v", err)
	}
	signedReq, err := f.svc.CaptureSignature(ctx, req.ID, domain.SignatureApprover, approverID, "signatures/approver.png")
	if err != nil {
		t.Fatalf("approver signature: %v", err)
	}
	return signedReq
}

func TestTeamSevenNovemberEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, november, leaderID)
	var incomplete *domain.IncompleteMonthError
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected IncompleteMonthError, got %v", err)
	}
	if len(incomplete.Missing) != 5 {
		t.Fatalf("expected 5 missing days, got %d", len(incomplete.Missing))
	}
	for i, missing := range incomplete.Missing {
		if missing.Date.Day() != i+1 {
			t.Fatalf("expected missing day %d, got %v", i+1, missing.Date)
		}
		if !missing.NoRecord || len(missing.Attendees) != 2 {
			t.Fatalf("expected both attendees missing with no record on day %d, got %+v", i+1, missing)
		}
	}
	if _, err := f.store.GetMonth(ctx, november); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("rejected submit must not create the aggregate, got %v", err)
	}

	f.addAbsences(1, 5)
	view, err := f.svc.Submit(ctx, november, leaderID)
	if err != nil {
		t.Fatalf("submit after absences: %v", err)
	}
	req := view.Request
	if req == nil || req.Status != domain.EscalationPending || req.Phase != domain.PhaseAwaitingManager {
		t.Fatalf("expected fresh pending request, got %+v", req)
	}
	if view.Aggregate.Status != domain.AggregateSubmitted || view.Aggregate.SubmittedAt == nil {
		t.Fatalf("expected submitted aggregate, got %+v", view.Aggregate)
	}
	if view.Aggregate.EscalationRequestID == nil || *view.Aggregate.EscalationRequestID != req.ID {
		t.Fatalf("aggregate must reference the new request")
	}
	f.assertConsistent(t)

	if _, err := f.svc.CaptureSignature(ctx, req.ID, domain.SignatureManager, managerID, "signatures/manager.png"); err != nil {
		t.Fatalf("manager signature: %v", err)
	}
	if _, err := f.svc.CaptureSignature(ctx, req.ID, domain.SignatureApprover, approverID, "signatures/approver.png"); err != nil {
		t.Fatalf("approver signature: %v", err)
	}

	view, err = f.svc.Decide(ctx, req.ID, domain.OutcomeApprove, approverID)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	agg := view.Aggregate
	if agg.Status != domain.AggregateApproved || !view.Approved {
		t.Fatalf("expected approved aggregate, got %s", agg.Status)
	}
	if agg.ApprovedAt == nil || !agg.ApprovedAt.Equal(*view.Request.ApprovedAt) {
		t.Fatalf("aggregate approvedAt must equal the request's")
	}
	if agg.ApproverID == nil || *agg.ApproverID != approverID || *view.Request.ApproverID != approverID {
		t.Fatalf("approver id must be mirrored onto the aggregate")
	}
	f.assertConsistent(t)

	got, err := f.svc.GetMonth(ctx, november)
	if err != nil {
		t.Fatalf("get month: %v", err)
	}
	if !got.Approved {
		t.Fatalf("query surface must report the month as approved")
	}
}

func TestApproverCannotSignFirst(t *testing.T) {
	f := newFixture(t)
	req := f.submitted(t)

	_, err := f.svc.CaptureSignature(context.Background(), req.ID, domain.SignatureApprover, approverID, "signatures/approver.png")
	if !errors.Is(err, domain.ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder, got %v", err)
	}
	f.assertConsistent(t)
}

func TestEmptySignatureRejected(t *testing.T) {
	f := newFixture(t)
	req := f.submitted(t)

	_, err := f.svc.CaptureSignature(context.Background(), req.ID, domain.SignatureManager, managerID, "")
	if !errors.Is(err, domain.ErrEmptySignature) {
		t.Fatalf("expected ErrEmptySignature, got %v", err)
	}
}

func TestRecaptureOverwritesOnlyItsPhase(t *testing.T) {
	f := newFixture(t)
	req := f.signed(t)

	updated, err := f.svc.CaptureSignature(context.Background(), req.ID, domain.SignatureManager, managerID, "signatures/manager-v2.png")
	if err != nil {
		t.Fatalf("recapture: %v", err)
	}
	if updated.ManagerSignature != "signatures/manager-v2.png" {
		t.Fatalf("manager signature not replaced: %s", updated.ManagerSignature)
	}
	if updated.ApproverSignature != "signatures/approver.png" {
		t.Fatalf("approver signature must be untouched, got %s", updated.ApproverSignature)
	}
	if updated.Phase != domain.PhaseSigned {
		t.Fatalf("phase cursor must not move backwards, got %s", updated.Phase)
	}
}

func TestApproveRequiresBothSignatures(t *testing.T) {
	f := newFixture(t)
	req := f.submitted(t)
	ctx := context.Background()

	if _, err := f.svc.Decide(ctx, req.ID, domain.OutcomeApprove, approverID); !errors.Is(err, domain.ErrSignaturesIncomplete) {
		t.Fatalf("expected ErrSignaturesIncomplete, got %v", err)
	}

	if _, err := f.svc.CaptureSignature(ctx, req.ID, domain.SignatureManager, managerID, "signatures/manager.png"); err != nil {
		t.Fatalf("manager signature: %v", err)
	}
	if _, err := f.svc.Decide(ctx, req.ID, domain.OutcomeApprove, approverID); !errors.Is(err, domain.ErrSignaturesIncomplete) {
		t.Fatalf("expected ErrSignaturesIncomplete with only the manager signature, got %v", err)
	}

	view, err := f.svc.GetMonth(ctx, november)
	if err != nil {
		t.Fatalf("get month: %v", err)
	}
	if view.Aggregate.Status != domain.AggregateSubmitted || view.Request.Status != domain.EscalationPending {
		t.Fatalf("failed decide must not change anything, got %s / %s", view.Aggregate.Status, view.Request.Status)
	}
}

func TestDecideIsIdempotentOnRetry(t *testing.T) {
	f := newFixture(t)
	req := f.signed(t)
	ctx := context.Background()

	first, err := f.svc.Decide(ctx, req.ID, domain.OutcomeApprove, approverID)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	second, err := f.svc.Decide(ctx, req.ID, domain.OutcomeApprove, approverID)
	if err != nil {
		t.Fatalf("retried decide: %v", err)
	}
	if !second.Aggregate.ApprovedAt.Equal(*first.Aggregate.ApprovedAt) {
		t.Fatalf("retry must not produce a new approval time")
	}

	if _, err := f.svc.Decide(ctx, req.ID, domain.OutcomeReject, approverID); !errors.Is(err, domain.ErrNotPending) {
		t.Fatalf("expected ErrNotPending for a conflicting decision, got %v", err)
	}
	if _, err := f.svc.Decide(ctx, req.ID, domain.OutcomeApprove, managerID); !errors.Is(err, domain.ErrNotPending) {
		t.Fatalf("expected ErrNotPending for a different approver, got %v", err)
	}
	if _, err := f.svc.CaptureSignature(ctx, req.ID, domain.SignatureManager, managerID, "signatures/late.png"); !errors.Is(err, domain.ErrNotPending) {
		t.Fatalf("signatures must be immutable after the decision, got %v", err)
	}
	f.assertConsistent(t)
}

func TestFailedDecisionRollsBackBothRecords(t *testing.T) {
	f := newFixture(t)
	req := f.signed(t)
	ctx := context.Background()

	// 在同一个工作单元里同时写请求和月度记录，随后失败
	errCommit := errors.New("commit failed")
	_, err := f.store.UpdateMonth(ctx, november, func(state *domain.MonthState) error {
		approvedAt := f.now
		approver := approverID
		state.Request.Status = domain.EscalationApproved
		state.Request.ApprovedAt = &approvedAt
		state.Request.ApproverID = &approver
		reconcile.Apply(state)
		if state.Aggregate.Status != domain.AggregateApproved {
			t.Fatalf("aggregate must be mirrored inside the unit of work, got %s", state.Aggregate.Status)
		}
		return errCommit
	})
	if !errors.Is(err, errCommit) {
		t.Fatalf("expected the unit of work error, got %v", err)
	}

	view, err := f.svc.GetMonth(ctx, november)
	if err != nil {
		t.Fatalf("get month: %v", err)
	}
	if view.Request.ID != req.ID || view.Request.Status != domain.EscalationPending {
		t.Fatalf("request must stay PENDING, got %s", view.Request.Status)
	}
	if view.Aggregate.Status != domain.AggregateSubmitted || view.Aggregate.ApprovedAt != nil || view.Aggregate.ApproverID != nil {
		t.Fatalf("aggregate must stay SUBMITTED, got %+v", view.Aggregate)
	}
	if view.Approved {
		t.Fatalf("month must not be reported as approved")
	}
	f.assertConsistent(t)

	// 回滚后仍然可以正常审批
	if _, err := f.svc.Decide(ctx, req.ID, domain.OutcomeApprove, approverID); err != nil {
		t.Fatalf("decide after rollback: %v", err)
	}
	f.assertConsistent(t)
}

func TestSubmitTwiceFails(t *testing.T) {
	f := newFixture(t)
	f.submitted(t)

	if _, err := f.svc.Submit(context.Background(), november, leaderID); !errors.Is(err, domain.ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}
}

func TestRejectThenResubmit(t *testing.T) {
	f := newFixture(t)
	req := f.submitted(t)
	ctx := context.Background()

	view, err := f.svc.Decide(ctx, req.ID, domain.OutcomeReject, approverID)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if view.Aggregate.Status != domain.AggregateRejected || view.Aggregate.ApprovedAt != nil {
		t.Fatalf("expected rejected aggregate without approval time, got %+v", view.Aggregate)
	}
	f.assertConsistent(t)

	view, err = f.svc.Submit(ctx, november, leaderID)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if view.Request.ID == req.ID || view.Request.Status != domain.EscalationPending {
		t.Fatalf("expected a fresh pending request, got %+v", view.Request)
	}
	if view.Aggregate.Status != domain.AggregateSubmitted || view.Aggregate.ApproverID != nil {
		t.Fatalf("resubmission must clear the previous decision, got %+v", view.Aggregate)
	}
	if _, err := f.svc.GetRequest(ctx, req.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("rejected request must be gone, got %v", err)
	}
}

func TestReopenAfterApproval(t *testing.T) {
	f := newFixture(t)
	req := f.signed(t)
	ctx := context.Background()

	if _, err := f.svc.Decide(ctx, req.ID, domain.OutcomeApprove, approverID); err != nil {
		t.Fatalf("decide: %v", err)
	}

	view, err := f.svc.Reopen(ctx, november)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if view.Request != nil || view.Aggregate.Status != domain.AggregateSubmitted {
		t.Fatalf("reopen must delete the request and reset to SUBMITTED, got %+v", view)
	}
	if view.Aggregate.ApprovedAt != nil || view.Aggregate.ApproverID != nil || view.Approved {
		t.Fatalf("reopen must clear approval fields")
	}
	f.assertConsistent(t)

	again, err := f.svc.Reopen(ctx, november)
	if err != nil {
		t.Fatalf("second reopen: %v", err)
	}
	if again.Aggregate.Status != domain.AggregateSubmitted || again.Request != nil {
		t.Fatalf("second reopen must be a no-op")
	}

	if _, err := f.svc.Submit(ctx, november, leaderID); err != nil {
		t.Fatalf("submit after reopen: %v", err)
	}
}

func TestReopenUnknownMonth(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.Reopen(context.Background(), november); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetMonthDefaultsToOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, err := f.svc.GetMonth(ctx, november)
	if err != nil {
		t.Fatalf("get month: %v", err)
	}
	if view.Aggregate.Status != domain.AggregateOpen || view.Approved || view.Request != nil {
		t.Fatalf("untouched month must be OPEN, got %+v", view)
	}

	if _, err := f.svc.GetMonth(ctx, domain.MonthKey{TeamID: 99, Year: 2025, Month: 11}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown team, got %v", err)
	}

	views, err := f.svc.ListMonths(ctx, 2025, 11)
	if err != nil {
		t.Fatalf("list months: %v", err)
	}
	if len(views) != 1 || views[0].Aggregate.TeamID != 7 {
		t.Fatalf("expected one view for team 7, got %d", len(views))
	}
}

func TestGateWindowStartsAtTeamCreationAndEndsToday(t *testing.T) {
	store := memstore.New()
	now := time.Date(2025, 11, 25, 18, 0, 0, 0, loc)
	store.SetClock(func() time.Time { return now })
	store.AddTeam(&domain.Team{ID: 8, Name: "八班", CreatedAt: time.Date(2025, 11, 20, 10, 0, 0, 0, loc)})
	store.AddRosterEntry(&domain.RosterEntry{TeamID: 8, Attendee: domain.RosterOnly(5), JoinedOn: time.Date(2025, 11, 20, 0, 0, 0, 0, loc)})
	// 23 日才加入，之前的日期不要求他签名
	store.AddRosterEntry(&domain.RosterEntry{TeamID: 8, Attendee: domain.RosterOnly(6), JoinedOn: time.Date(2025, 11, 23, 0, 0, 0, 0, loc)})

	for d := 20; d <= 25; d++ {
		record := &domain.DailyRecord{TeamID: 8, Date: day(d), Signatures: []domain.AttendeeSignature{
			{Attendee: domain.RosterOnly(5), SignatureImage: "s"},
		}}
		if d >= 23 && d != 24 {
			record.Signatures = append(record.Signatures, domain.AttendeeSignature{Attendee: domain.RosterOnly(6), SignatureImage: "s"})
		}
		store.AddDailyRecord(record)
	}

	svc := NewService(store, store, loc)
	svc.SetClock(func() time.Time { return now })

	key := domain.MonthKey{TeamID: 8, Year: 2025, Month: 11}
	err := svc.CheckCompleteness(context.Background(), key)
	var incomplete *domain.IncompleteMonthError
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected IncompleteMonthError, got %v", err)
	}
	if len(incomplete.Missing) != 1 || incomplete.Missing[0].Date.Day() != 24 {
		t.Fatalf("expected only day 24 to be missing, got %+v", incomplete.Missing)
	}
	if incomplete.Missing[0].NoRecord || incomplete.Missing[0].Attendees[0] != domain.RosterOnly(6) {
		t.Fatalf("expected member 6 missing on an existing record, got %+v", incomplete.Missing[0])
	}

	store.AddAbsence(&domain.AbsenceEntry{TeamID: 8, Date: day(24), Attendee: domain.RosterOnly(6)})
	if err := svc.CheckCompleteness(context.Background(), key); err != nil {
		t.Fatalf("expected complete month, got %v", err)
	}
}

func TestConcurrentSubmitsSerialize(t *testing.T) {
	f := newFixture(t)
	f.addAbsences(1, 5)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, rejected := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Submit(context.Background(), november, leaderID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrAlreadySubmitted):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 || rejected != 7 {
		t.Fatalf("expected exactly one successful submit, got %d ok / %d rejected", succeeded, rejected)
	}
}

func TestWorkspaceFollowsCallerScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	teamID := int64(7)
	leader := &domain.User{ID: leaderID, Role: domain.RoleLeader, TeamID: &teamID}
	approver := &domain.User{ID: approverID, Role: domain.RoleApprover}

	ws, err := f.svc.Workspace(ctx, leader)
	if err != nil {
		t.Fatalf("leader workspace: %v", err)
	}
	if ws.Team == nil || ws.Team.ID != 7 || ws.Year != 2025 || ws.Month != 11 {
		t.Fatalf("unexpected leader workspace %+v", ws)
	}
	if len(ws.Todo) != 1 || ws.Todo[0].Aggregate.Status != domain.AggregateOpen {
		t.Fatalf("leader must see the open November month, got %+v", ws.Todo)
	}

	ws, err = f.svc.Workspace(ctx, approver)
	if err != nil {
		t.Fatalf("approver workspace: %v", err)
	}
	if ws.Team != nil || len(ws.Todo) != 0 {
		t.Fatalf("nothing is submitted yet, got %+v", ws)
	}

	req := f.submitted(t)
	ws, err = f.svc.Workspace(ctx, approver)
	if err != nil {
		t.Fatalf("approver workspace: %v", err)
	}
	if len(ws.Todo) != 1 || ws.Todo[0].Request == nil || ws.Todo[0].Request.ID != req.ID {
		t.Fatalf("approver must see the submitted month, got %+v", ws.Todo)
	}

	orphan := int64(99)
	if _, err := f.svc.Workspace(ctx, &domain.User{ID: 5, Role: domain.RoleLeader, TeamID: &orphan}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown team, got %v", err)
	}
}

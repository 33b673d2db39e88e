package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/approval"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
)

func (e *testEnv) myInfo(t *testing.T, user *domain.User) (testResponse, *approval.Workspace) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/my-info", nil)
	req = req.WithContext(context.WithValue(req.Context(), MyInfoCtx, user))
	rec := httptest.NewRecorder()
	e.h.GetMyInfo(rec, req)

	var resp testResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	ws := &approval.Workspace{}
	if err := json.Unmarshal(resp.Data, ws); err != nil {
		t.Fatalf("decode workspace: %v", err)
	}
	return resp, ws
}

func TestMyInfoCarriesTeamScope(t *testing.T) {
	env := newTestEnv(t)
	env.coverFirstDays()

	resp, ws := env.myInfo(t, env.leader)
	if !resp.Success {
		t.Fatalf("my info: %s", resp.Message)
	}
	if ws.User == nil || ws.User.TeamID == nil || *ws.User.TeamID != 7 {
		t.Fatalf("expected caller on team 7, got %+v", ws.User)
	}
	if ws.Team == nil || ws.Team.Name != "七班" {
		t.Fatalf("expected team 七班, got %+v", ws.Team)
	}
	if ws.Year != 2025 || ws.Month != 11 || len(ws.Todo) != 1 || ws.Todo[0].Aggregate.TeamID != 7 {
		t.Fatalf("expected November of team 7 as todo, got %d-%d %+v", ws.Year, ws.Month, ws.Todo)
	}

	_, ws = env.myInfo(t, env.otherLeader)
	if ws.Team == nil || ws.Team.ID != 8 || len(ws.Todo) != 1 || ws.Todo[0].Aggregate.TeamID != 8 {
		t.Fatalf("leader of team 8 must only see team 8, got %+v", ws)
	}

	submitted := env.do(t, http.MethodPost, "/teams/7/months/2025/11/submit", env.leader, "")
	if !submitted.Success {
		t.Fatalf("submit: %s", submitted.Message)
	}

	_, ws = env.myInfo(t, env.approver)
	if ws.Team != nil {
		t.Fatalf("approver belongs to no team, got %+v", ws.Team)
	}
	if len(ws.Todo) != 1 || ws.Todo[0].Aggregate.TeamID != 7 || ws.Todo[0].Aggregate.Status != domain.AggregateSubmitted {
		t.Fatalf("approver must see the submitted month of team 7, got %+v", ws.Todo)
	}

	orphan := int64(99)
	resp, ws = env.myInfo(t, &domain.User{ID: 150, Role: domain.RoleLeader, TeamID: &orphan})
	if !resp.Success || ws.User == nil || ws.Team != nil {
		t.Fatalf("caller of a missing team still gets personal info, got %+v %+v", resp, ws)
	}
}

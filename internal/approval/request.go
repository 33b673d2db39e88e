package approval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/reconcile"
)

// updateRequest 锁住请求所属的月份后执行 fn，执行时请求必须仍然存在
func (s *Service) updateRequest(ctx context.Context, requestID int64, fn func(*domain.MonthState) error) (*domain.MonthState, error) {
	current, err := s.store.GetMonthByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	return s.store.UpdateMonth(ctx, current.Aggregate.Key(), func(state *domain.MonthState) error {
		// 获取锁之前请求可能已经被撤回或重新提交
		if state.Request == nil || state.Request.ID != requestID {
			return domain.ErrNotFound
		}
		return fn(state)
	})
}

func (s *Service) GetRequest(ctx context.Context, requestID int64) (*domain.MonthView, error) {
	state, err := s.store.GetMonthByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return view(withRequestRef(state)), nil
}

// CaptureSignature 按 MANAGER -> APPROVER 的顺序保存签名图片句柄
//
// 在作出决定之前可以重新签名，重新签名只覆盖本阶段的图片，签名游标只会前进。
func (s *Service) CaptureSignature(ctx context.Context, requestID int64, role domain.SignatureRole, signerID int64, handle string) (*domain.EscalationRequest, error) {
	if handle == "" {
		return nil, domain.ErrEmptySignature
	}
	if role != domain.SignatureManager && role != domain.SignatureApprover {
		return nil, fmt.Errorf("未知的签名角色: %s", role)
	}

	state, err := s.updateRequest(ctx, requestID, func(state *domain.MonthState) error {
		req := state.Request
		if req.Status != domain.EscalationPending {
			return domain.ErrNotPending
		}

		now := s.now()
		switch role {
		case domain.SignatureManager:
			req.ManagerSignature = handle
			req.ManagerID = int64Ptr(signerID)
			req.ManagerSignedAt = timePtr(now)
			if req.Phase == domain.PhaseAwaitingManager {
				req.Phase = domain.PhaseAwaitingApprover
			}
		case domain.SignatureApprover:
			if req.Phase == domain.PhaseAwaitingManager {
				return domain.ErrOutOfOrder
			}
			req.ApproverSignature = handle
			req.ApproverSignedBy = int64Ptr(signerID)
			req.ApproverSignedAt = timePtr(now)
			req.Phase = domain.PhaseSigned
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("保存 %s 签名失败: %w", role, err)
	}

	slog.Info("已保存签名", "request_id", requestID, "role", role, "signer_id", signerID)

	return state.Request, nil
}

// Decide 在同一个事务内写入审批结果并同步到月度记录
//
// 相同审批人以相同结果重复调用时直接返回当前状态，不会产生新的写入。
func (s *Service) Decide(ctx context.Context, requestID int64, outcome domain.Outcome, approverID int64) (*domain.MonthView, error) {
	if outcome != domain.OutcomeApprove && outcome != domain.OutcomeReject {
		return nil, fmt.Errorf("未知的审批结果: %s", outcome)
	}

	replayed := false
	state, err := s.updateRequest(ctx, requestID, func(state *domain.MonthState) error {
		req := state.Request
		if req.Status != domain.EscalationPending {
			if req.Status == outcome.Status() && req.ApproverID != nil && *req.ApproverID == approverID {
				replayed = true
				return nil
			}
			return domain.ErrNotPending
		}
		if outcome == domain.OutcomeApprove && !req.FullySigned() {
			return domain.ErrSignaturesIncomplete
		}

		now := s.now()
		req.Status = outcome.Status()
		req.ApproverID = int64Ptr(approverID)
		req.DecidedAt = timePtr(now)
		if outcome == domain.OutcomeApprove {
			req.ApprovedAt = timePtr(now)
		}

		reconcile.Apply(state)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("审批请求 %d 失败: %w", requestID, err)
	}

	if !replayed {
		key := state.Aggregate.Key()
		slog.Info("审批请求已处理",
			"request_id", requestID,
			"outcome", outcome,
			"approver_id", approverID,
			"team_id", key.TeamID,
			"year", key.Year,
			"month", key.Month,
		)
	}

	return view(withRequestRef(state)), nil
}

package handler

import (
	"net/http"

	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
)

// VerifyConsistency 只读检查，发现不一致时告警但不会修复
func (h *Handler) VerifyConsistency(w http.ResponseWriter, r *http.Request) {
	key := r.Context().Value(MonthKeyCtx).(domain.MonthKey)

	report, err := h.reconcile.Verify(r.Context(), key)
	if err != nil {
		h.domainError(w, r, err)
		return
	}

	h.successResponse(w, r, "状态一致", report)
}

func (h *Handler) ResyncMonth(w http.ResponseWriter, r *http.Request) {
	key := r.Context().Value(MonthKeyCtx).(domain.MonthKey)

	report, err := h.reconcile.Resync(r.Context(), key)
	if err != nil {
		h.domainError(w, r, err)
		return
	}

	if report.Consistent() {
		h.successResponse(w, r, "状态一致，无需修复", report)
		return
	}
	h.successResponse(w, r, "已按审批请求修复月度记录", report)
}

func (h *Handler) ForceResetMonth(w http.ResponseWriter, r *http.Request) {
	key := r.Context().Value(MonthKeyCtx).(domain.MonthKey)

	state, err := h.reconcile.ForceReset(r.Context(), key)
	if err != nil {
		h.domainError(w, r, err)
		return
	}

	h.successResponse(w, r, "已强制重置", &domain.MonthView{
		Aggregate: state.Aggregate,
		Request:   state.Request,
		Approved:  state.Aggregate.IsApproved(),
	})
}

func (h *Handler) SweepConsistency(w http.ResponseWriter, r *http.Request) {
	drifted, err := h.reconcile.Sweep(r.Context())
	if err != nil {
		h.domainError(w, r, err)
		return
	}

	h.successResponse(w, r, "检查完成", drifted)
}

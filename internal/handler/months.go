package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
)

func (h *Handler) ListMonths(w http.ResponseWriter, r *http.Request) {
	year, yearErr := strconv.Atoi(chi.URLParam(r, "year"))
	month, monthErr := strconv.Atoi(chi.URLParam(r, "month"))
	if yearErr != nil || monthErr != nil {
		h.errorResponse(w, r, "年份或月份无效")
		return
	}
	// 借用 MonthKey 的校验规则，班组 ID 在这里没有意义
	if err := (domain.MonthKey{TeamID: 1, Year: year, Month: month}).Validate(); err != nil {
		h.badRequest(w, r, err)
		return
	}

	views, err := h.approval.ListMonths(r.Context(), year, month)
	if err != nil {
		h.domainError(w, r, err)
		return
	}

	visible := make([]*domain.MonthView, 0, len(views))
	for _, v := range views {
		if canAccessTeam(r, v.Aggregate.TeamID) {
			visible = append(visible, v)
		}
	}

	h.successResponse(w, r, "获取月度记录列表成功", visible)
}

func (h *Handler) GetMonth(w http.ResponseWriter, r *http.Request) {
	key := r.Context().Value(MonthKeyCtx).(domain.MonthKey)

	view, err := h.approval.GetMonth(r.Context(), key)
	if err != nil {
		h.domainError(w, r, err)
		return
	}

	h.successResponse(w, r, "获取月度记录成功", view)
}

func (h *Handler) CheckCompleteness(w http.ResponseWriter, r *http.Request) {
	key := r.Context().Value(MonthKeyCtx).(domain.MonthKey)

	err := h.approval.CheckCompleteness(r.Context(), key)
	var incomplete *domain.IncompleteMonthError
	switch {
	case err == nil:
		h.successResponse(w, r, "该月份记录完整", &domain.IncompleteMonthError{Key: key, Missing: []domain.MissingDay{}})
	case errors.As(err, &incomplete):
		// 试运行不是失败，缺失明细放在 data 中返回
		h.successResponse(w, r, "该月份记录不完整", incomplete)
	default:
		h.domainError(w, r, err)
	}
}

func (h *Handler) SubmitMonth(w http.ResponseWriter, r *http.Request) {
	key := r.Context().Value(MonthKeyCtx).(domain.MonthKey)

	requestedBy, err := callerID(r)
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	view, err := h.approval.Submit(r.Context(), key, requestedBy)
	if err != nil {
		h.domainError(w, r, err)
		return
	}

	h.successResponse(w, r, "提交成功", view)
}

func (h *Handler) ReopenMonth(w http.ResponseWriter, r *http.Request) {
	key := r.Context().Value(MonthKeyCtx).(domain.MonthKey)

	view, err := h.approval.Reopen(r.Context(), key)
	if err != nil {
		h.domainError(w, r, err)
		return
	}

	h.successResponse(w, r, "已撤回，可以重新提交", view)
}

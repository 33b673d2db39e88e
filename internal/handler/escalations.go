package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/signature"
)

type escalationResponse struct {
	*domain.MonthView
	Signatures *domain.SignatureURLs `json:"signatures"`
}

func (h *Handler) GetEscalation(w http.ResponseWriter, r *http.Request) {
	view := r.Context().Value(EscalationCtx).(*domain.MonthView)

	resp := escalationResponse{MonthView: view}
	if h.images != nil {
		urls := &domain.SignatureURLs{}
		if handle := view.Request.ManagerSignature; handle != "" {
			url, err := h.images.URL(r.Context(), handle)
			if err != nil {
				h.internalServerError(w, r, err)
				return
			}
			urls.Manager = url
		}
		if handle := view.Request.ApproverSignature; handle != "" {
			url, err := h.images.URL(r.Context(), handle)
			if err != nil {
				h.internalServerError(w, r, err)
				return
			}
			urls.Approver = url
		}
		resp.Signatures = urls
	}

	h.successResponse(w, r, "获取审批请求成功", resp)
}

// 每个签名阶段只允许对应角色的用户签名
var signatureRoles = map[string]struct {
	role     domain.SignatureRole
	required domain.Role
}{
	"manager":  {domain.SignatureManager, domain.RoleManager},
	"approver": {domain.SignatureApprover, domain.RoleApprover},
}

// uploadError 表示请求本身有问题，可以由用户修正
type uploadError struct {
	msg string
}

func (e *uploadError) Error() string {
	return e.msg
}

// readSignatureHandle 从 multipart 上传的图片或 JSON 中的已有句柄得到签名图片句柄
func (h *Handler) readSignatureHandle(w http.ResponseWriter, r *http.Request) (string, error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		var req struct {
			Handle string `json:"handle"`
		}
		if err := h.readJSON(r, &req); err != nil {
			return "", &uploadError{msg: err.Error()}
		}
		return strings.TrimSpace(req.Handle), nil
	}

	if h.images == nil {
		return "", &uploadError{msg: "未配置签名图片存储，只能提交已有的图片句柄"}
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.Server.MaxUploadSize)
	if err := r.ParseMultipartForm(h.config.Server.MaxUploadSize); err != nil {
		return "", &uploadError{msg: "签名图片过大或格式错误"}
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		return "", &uploadError{msg: "缺少签名图片"}
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", fmt.Errorf("无法读取签名图片: %w", err)
	}

	// 校验失败返回领域错误，交给 domainError 处理
	img, err := signature.Validate(data)
	if err != nil {
		return "", err
	}

	// 上传在事务之外完成，存储服务变慢不会占用月份的行锁
	handle, err := h.images.Put(r.Context(), img.Data, img.ContentType, img.Ext)
	if err != nil {
		return "", fmt.Errorf("无法保存签名图片: %w", err)
	}
	return handle, nil
}

func (h *Handler) CaptureSignature(w http.ResponseWriter, r *http.Request) {
	view := r.Context().Value(EscalationCtx).(*domain.MonthView)

	phase, ok := signatureRoles[chi.URLParam(r, "role")]
	if !ok {
		h.errorResponse(w, r, "无效的签名角色")
		return
	}
	if callerRole(r) != phase.required {
		h.errorResponse(w, r, "权限不足")
		return
	}

	signerID, err := callerID(r)
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	handle, err := h.readSignatureHandle(w, r)
	if err != nil {
		var uerr *uploadError
		if errors.As(err, &uerr) {
			h.badRequest(w, r, uerr)
			return
		}
		h.domainError(w, r, err)
		return
	}

	req, err := h.approval.CaptureSignature(r.Context(), view.Request.ID, phase.role, signerID, handle)
	if err != nil {
		h.domainError(w, r, err)
		return
	}

	h.successResponse(w, r, "签名成功", req)
}

func (h *Handler) DecideEscalation(w http.ResponseWriter, r *http.Request) {
	view := r.Context().Value(EscalationCtx).(*domain.MonthView)

	var req struct {
		Outcome string `json:"outcome" validate:"required,oneof=APPROVE REJECT"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	approverID, err := callerID(r)
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	decided, err := h.approval.Decide(r.Context(), view.Request.ID, domain.Outcome(req.Outcome), approverID)
	if err != nil {
		h.domainError(w, r, err)
		return
	}

	h.successResponse(w, r, "审批完成", decided)
}

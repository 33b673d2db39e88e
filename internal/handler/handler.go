package handler

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	zh_translations "github.com/go-playground/validator/v10/translations/zh"
	"github.com/redis/go-redis/v9"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/approval"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/config"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/notify"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/reconcile"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/repository"
)

// ImageStore 是签名图片的句柄服务，由 storage.ImageStore 实现
type ImageStore interface {
	Put(ctx context.Context, data []byte, contentType, ext string) (string, error)
	URL(ctx context.Context, handle string) (string, error)
}

type Handler struct {
	validate    *validator.Validate
	config      *config.Config
	repository  *repository.Repository
	translator  ut.Translator
	approval    *approval.Service
	reconcile   *reconcile.Service
	publisher   *notify.Publisher
	images      ImageStore // 未配置存储桶时为 nil，此时只接受已有的图片句柄
	redisClient *redis.Client

	Mux *chi.Mux
}

type Services struct {
	Approval  *approval.Service
	Reconcile *reconcile.Service
	Publisher *notify.Publisher
	Images    ImageStore
}

func NewHandler(cfg *config.Config, repo *repository.Repository, services Services, rdb *redis.Client) (*Handler, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	zh := zh.New()
	uni := ut.New(zh, zh)
	trans, _ := uni.GetTranslator("zh")
	if err := zh_translations.RegisterDefaultTranslations(validate, trans); err != nil {
		return nil, err
	}

	return &Handler{
		validate:    validate,
		config:      cfg,
		repository:  repo,
		translator:  trans,
		approval:    services.Approval,
		reconcile:   services.Reconcile,
		publisher:   services.Publisher,
		images:      services.Images,
		redisClient: rdb,

		Mux: chi.NewRouter(),
	}, nil
}

func (h *Handler) RegisterRoutes() {
	h.Mux.Use(h.logger)
	h.Mux.Use(h.recoverer)

	// 认证相关
	h.Mux.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.Route("/reset-password", func(r chi.Router) {
			r.Post("/require", h.RequireResetPassword)
			r.Post("/confirm", h.ConfirmResetPassword)
		})
	})

	admin := h.RequiredRole([]domain.Role{domain.RoleAdmin})

	// 以下 API 必须要在登录后才允许调用
	h.Mux.Group(func(r chi.Router) {
		r.Use(h.auth)
		r.Route("/my-info", func(r chi.Router) {
			r.Use(h.myInfo)
			r.Get("/", h.GetMyInfo)
			r.Patch("/password", h.UpdateMyPassword)
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(admin)
			r.Post("/", h.CreateUser)
			r.Get("/", h.GetAllUserInfo)
			r.Route("/{id}", func(r chi.Router) {
				r.Use(h.userInfo)
				r.Get("/", h.GetUserInfo)
				r.With(h.preventOperateInitialAdmin).Patch("/", h.UpdateUser)
				r.With(h.preventOperateInitialAdmin).Delete("/", h.DeleteUser)
				r.Patch("/password", h.UpdateUserPassword)
			})
		})

		r.Get("/months/{year}/{month}", h.ListMonths)

		r.Route("/teams/{teamID}/months/{year}/{month}", func(r chi.Router) {
			r.Use(h.monthKey)
			r.Use(h.teamScope)
			r.Get("/", h.GetMonth)
			r.Get("/completeness", h.CheckCompleteness)
			r.With(h.RequiredRole([]domain.Role{domain.RoleLeader, domain.RoleAdmin})).Post("/submit", h.SubmitMonth)
			r.With(h.RequiredRole([]domain.Role{domain.RoleApprover, domain.RoleAdmin})).Post("/reopen", h.ReopenMonth)
		})

		r.Route("/escalations/{id}", func(r chi.Router) {
			r.Use(h.escalation)
			r.Get("/", h.GetEscalation)
			r.Post("/signatures/{role}", h.CaptureSignature)
			r.With(h.RequiredRole([]domain.Role{domain.RoleApprover})).Post("/decision", h.DecideEscalation)
		})

		// 运维使用的一致性检查与修复
		r.Route("/admin/consistency", func(r chi.Router) {
			r.Use(admin)
			r.Post("/sweep", h.SweepConsistency)
			r.Route("/teams/{teamID}/months/{year}/{month}", func(r chi.Router) {
				r.Use(h.monthKey)
				r.Get("/", h.VerifyConsistency)
				r.Post("/resync", h.ResyncMonth)
				r.Post("/force-reset", h.ForceResetMonth)
			})
		})
	})
}

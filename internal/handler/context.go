package handler

type ContextKey string

var (
	RoleCtxKey    ContextKey = "role"
	SubCtxKey     ContextKey = "sub"
	TeamCtxKey    ContextKey = "team"
	MyInfoCtx     ContextKey = "myInfo"
	UserInfoCtx   ContextKey = "userInfo"
	MonthKeyCtx   ContextKey = "monthKey"
	EscalationCtx ContextKey = "escalation"
)

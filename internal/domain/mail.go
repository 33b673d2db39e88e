package domain

import "time"

type MailMessage struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	To   string `json:"to"`
	Data any    `json:"data"`
}

const (
	MailTypeCreateUser           = "create_user"
	MailTypeResetPassword        = "reset_password"
	MailTypeConsistencyViolation = "consistency_violation"
)

type CreateUserMailData struct {
	FullName string `json:"fullName"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type ResetPasswordMailData struct {
	FullName   string `json:"fullName"`
	OTP        string `json:"otp"`
	Expiration int    `json:"expiration"` // 单位为分钟
}

type Recipient struct {
	UserID   int64  `json:"userID"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

// NotificationIntent 是提醒调度器唯一的对外输出，实际投递由邮件 worker 完成
type NotificationIntent struct {
	ID          string         `json:"id"`
	Recipient   Recipient      `json:"recipient"`
	ConditionID string         `json:"conditionID"`
	DedupKey    string         `json:"dedupKey"`
	Variables   map[string]any `json:"variables"`
	FiredAt     time.Time      `json:"firedAt"`
}

type ConsistencyAlertMailData struct {
	Team          string       `json:"team"`
	CorrelationID string       `json:"correlationID"`
	Drift         []FieldDrift `json:"drift"`
	CheckedAt     string       `json:"checkedAt"`
}

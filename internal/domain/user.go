package domain

import (
	"time"
)

type Role string

const (
	RoleLeader   Role = "leader"   // 班组长，负责提交月度记录
	RoleManager  Role = "manager"  // 负责第一阶段签名
	RoleApprover Role = "approver" // 负责第二阶段签名及最终审批
	RoleAdmin    Role = "admin"
)

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"fullName"`
	Email        string    `json:"email"`
	Role         Role      `json:"role"`
	TeamID       *int64    `json:"teamID"` // 审批人和管理员可以不隶属于任何班组
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	Version      int32     `json:"-"`
}

package main

import (
	"fmt"
	"html/template"
	"path/filepath"

	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
	"github.com/wneessen/go-mail"
)

const subjectPrefix = "班前会审批系统 - "

type mailTemplate struct {
	file    string
	subject string
}

var mailTemplates = map[string]mailTemplate{
	domain.MailTypeCreateUser:           {"new_account_email.html", "账户信息"},
	domain.MailTypeResetPassword:        {"reset_password_otp_email.html", "重置密码"},
	domain.MailTypeConsistencyViolation: {"consistency_violation.html", "状态不一致告警"},
	"escalation_pending":                {"escalation_pending.html", "审批请求待处理"},
	"escalation_rejected":               {"escalation_rejected.html", "审批请求被驳回"},
	"daily_record_gap":                  {"daily_record_gap.html", "班前会记录缺失"},
	"month_unsubmitted":                 {"month_unsubmitted.html", "月度记录未提交"},
}

// 配置文件中自定义的提醒条件没有专用模板，使用通用模板列出所有变量
var reminderTemplate = mailTemplate{"reminder.html", "提醒"}

func templateFor(mailType string) mailTemplate {
	if t, ok := mailTemplates[mailType]; ok {
		return t
	}
	return reminderTemplate
}

func loadTemplate(dir, mailType string) (*template.Template, string, error) {
	t := templateFor(mailType)
	tmpl, err := template.ParseFiles(filepath.Join(dir, t.file))
	if err != nil {
		return nil, "", fmt.Errorf("无法解析邮件模板 %s: %w", t.file, err)
	}
	return tmpl, subjectPrefix + t.subject, nil
}

// buildMessage 按邮件类型渲染正文，邮件的 Message-ID 沿用队列消息的 ID，便于收件端去重
func buildMessage(from, templatesDir string, m *domain.MailMessage) (*mail.Msg, error) {
	tmpl, subject, err := loadTemplate(templatesDir, m.Type)
	if err != nil {
		return nil, err
	}

	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("无法设置邮件发件人: %w", err)
	}
	if err := msg.To(m.To); err != nil {
		return nil, fmt.Errorf("无法设置邮件收件人: %w", err)
	}
	if err := msg.SetBodyHTMLTemplate(tmpl, m.Data); err != nil {
		return nil, fmt.Errorf("无法设置邮件正文: %w", err)
	}
	msg.Subject(subject)
	if m.ID != "" {
		msg.SetMessageIDWithValue(m.ID)
	}

	return msg, nil
}

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"os"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/config"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/notify"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/reconcile"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/repository"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// 运维工具：检查或修复月度记录与审批请求之间的状态漂移
func main() {
	var op string
	var teamID int64
	var year, month int

	flag.StringVar(&op, "op", "", "要执行的操作 (verify, resync, force-reset, sweep)")
	flag.Int64Var(&teamID, "team", 0, "班组 ID")
	flag.IntVar(&year, "year", 0, "年份")
	flag.IntVar(&month, "month", 0, "月份")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(op, domain.MonthKey{TeamID: teamID, Year: year, Month: month}); err != nil {
		logger.Error("执行失败", "op", op, "error", err)
		os.Exit(1)
	}
}

func run(op string, key domain.MonthKey) error {
	if op != "sweep" {
		if err := key.Validate(); err != nil {
			return err
		}
	}

	// 读取配置文件
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	// 创建数据库连接池
	dbpool, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer dbpool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Database.ConnectTimeout)*time.Second)
	defer cancel()
	if err := dbpool.PingContext(ctx); err != nil {
		return err
	}

	repo := repository.NewRepository(cfg, dbpool)

	// 告警通过邮件队列发送给运维，RabbitMQ 不可用时只记录日志
	var alerts reconcile.AlertSink
	conn, err := amqp.Dial(cfg.RabbitMQ.DSN)
	if err != nil {
		slog.Warn("无法连接到 rabbitmq，告警只记录在日志中", "error", err)
	} else {
		defer conn.Close()
		ch, err := conn.Channel()
		if err != nil {
			return err
		}
		defer ch.Close()
		alerts = notify.NewPublisher(ch, cfg.RabbitMQ.Queue, time.Duration(cfg.RabbitMQ.PublishTimeout)*time.Second, cfg.Operator.Email)
	}

	svc := reconcile.NewService(repo, alerts)
	bg := context.Background()

	switch op {
	case "verify":
		report, err := svc.Verify(bg, key)
		if err != nil && !errors.Is(err, domain.ErrConsistencyViolation) {
			return err
		}
		return printJSON(report)
	case "resync":
		report, err := svc.Resync(bg, key)
		if err != nil {
			return err
		}
		if report.Consistent() {
			slog.Info("状态一致，无需修复", "key", key.String())
		}
		return printJSON(report)
	case "force-reset":
		state, err := svc.ForceReset(bg, key)
		if err != nil {
			return err
		}
		return printJSON(&domain.MonthView{
			Aggregate: state.Aggregate,
			Request:   state.Request,
			Approved:  state.Aggregate.IsApproved(),
		})
	case "sweep":
		reports, err := svc.Sweep(bg)
		if err != nil {
			return err
		}
		return printJSON(reports)
	case "":
		return errors.New("未指定操作")
	default:
		return errors.New("指定的操作非法")
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/config"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/repository"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/seed"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	var op int
	var n int
	var teamID int64
	var reason string

	flag.IntVar(&op, "op", 0, "要执行的操作 (1: 插入随机用户, 2: 插入七班 2025 年 11 月的场景数据, 3: 为七班插入 11 月 1 日到 5 日的缺勤记录)")
	flag.IntVar(&n, "n", 5, "要插入的记录数量")
	flag.Int64Var(&teamID, "team", 0, "随机用户所属的班组 ID，为 0 时插入不隶属于班组的审批人")
	flag.StringVar(&reason, "reason", "设备检修停工", "缺勤原因")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 读取配置文件
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("无法读取配置文件", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 创建数据库连接池
	dbpool, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		logger.Error("无法创建数据库连接池", "error", err)
		return
	}
	defer dbpool.Close()

	dbpool.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	dbpool.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	dbpool.SetConnMaxIdleTime(time.Duration(cfg.Database.MaxIdleTime) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Database.ConnectTimeout)*time.Second)
	defer cancel()

	// sql.Open 只是创建数据库连接池对象，并不会立即连接到数据库，因此需要显式地 ping 一下
	if err := dbpool.PingContext(ctx); err != nil {
		logger.Error("无法连接到数据库", "error", err)
		return
	}

	// 创建 repository
	repo := repository.NewRepository(cfg, dbpool)
	bg := context.Background()

	// 执行操作
	switch op {
	case 0:
		slog.Error("未指定操作")
	case 1:
		if n <= 0 {
			slog.Error("请输入合法的用户数量")
			return
		}

		var team *int64
		if teamID > 0 {
			if _, err := repo.GetTeam(bg, teamID); err != nil {
				slog.Error("无法获取班组", slog.Int64("team_id", teamID), slog.String("error", err.Error()))
				return
			}
			team = &teamID
		}

		cnt := n
		for i := 0; i < n; i++ {
			user, err := utils.GenerateRandomUser(cfg.Seed.User.Password, cfg.Email.UserDomain, team)
			if err != nil {
				slog.Error("无法生成随机用户", slog.String("error", err.Error()))
				continue
			}

			if err := repo.CreateUser(bg, user); err != nil {
				slog.Error("无法插入用户", slog.String("error", err.Error()))
				continue
			}

			cnt--
		}

		slog.Info("插入用户成功", slog.Int("count", n-cnt))
	case 2:
		id, err := seed.SeedTeamSeven(bg, repo, cfg.Seed.User.Password, cfg.Email.UserDomain)
		if err != nil {
			slog.Error("无法插入场景数据", slog.String("error", err.Error()))
			return
		}
		slog.Info("插入场景数据成功", slog.Int64("team_id", id))
	case 3:
		// 七班按名称唯一，重复创建会返回已有班组
		team, err := teamByName(bg, repo, seed.TeamSevenName)
		if err != nil {
			slog.Error("无法获取七班，请先执行操作 2", slog.String("error", err.Error()))
			return
		}

		cnt, err := seed.SeedAbsences(bg, repo, team, reason)
		if err != nil {
			slog.Error("无法插入缺勤记录", slog.Int("inserted", cnt), slog.String("error", err.Error()))
			return
		}
		slog.Info("插入缺勤记录成功", slog.Int("count", cnt))
	default:
		slog.Error("指定的操作非法")
	}
}

func teamByName(ctx context.Context, repo *repository.Repository, name string) (int64, error) {
	teams, err := repo.GetAllTeams(ctx)
	if err != nil {
		return 0, err
	}
	for _, team := range teams {
		if team.Name == name {
			return team.ID, nil
		}
	}
	return 0, domain.ErrNotFound
}

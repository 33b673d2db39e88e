package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/approval"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/config"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/handler"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/notify"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/reconcile"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/repository"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/scheduler"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/storage"
	"golang.org/x/crypto/bcrypt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	/**********************************************
	 * 创建 logger
	 **********************************************/
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	/**********************************************
	 * 加载配置
	 **********************************************/
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("无法加载配置文件", "error", err)
		return
	}

	loc, err := time.LoadLocation(cfg.Reminder.Timezone)
	if err != nil {
		logger.Error("无法加载时区", "timezone", cfg.Reminder.Timezone, "error", err)
		return
	}

	/**********************************************
	 * 连接数据库
	 **********************************************/
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

	/**********************************************
	 * 创建 repository
	 **********************************************/
	repo := repository.NewRepository(cfg, dbpool)

	/**********************************************
	 * 确保数据库中存在初始管理员
	 **********************************************/
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(cfg.InitialAdmin.Password), bcrypt.DefaultCost)
	if err != nil {
		logger.Error("无法生成初始管理员密码哈希", "error", err)
		return
	}
	initialAdmin := &domain.User{
		Username:     cfg.InitialAdmin.Username,
		PasswordHash: string(passwordHash),
		FullName:     cfg.InitialAdmin.FullName,
		Email:        cfg.InitialAdmin.Email,
		Role:         domain.RoleAdmin,
	}
	if err := repo.CreateUser(context.Background(), initialAdmin); err != nil {
		var pgErr *pgconn.PgError
		switch {
		case errors.As(err, &pgErr) && pgErr.ConstraintName == "users_username_key":
			// 如果返回这个错误，说明数据库中已经存在初始管理员，不处理
		default:
			logger.Error("无法创建初始管理员", "error", err)
			return
		}
	}

	/**********************************************
	 * 连接 rabbitmq
	 **********************************************/
	conn, err := amqp.Dial(cfg.RabbitMQ.DSN)
	if err != nil {
		logger.Error("无法连接到 rabbitmq", "error", err)
		return
	}
	defer conn.Close()

	// 建立通道
	ch, err := conn.Channel()
	if err != nil {
		logger.Error("无法建立通道", "error", err)
		return
	}
	defer ch.Close()

	// 声明队列
	_, err = ch.QueueDeclare(
		cfg.RabbitMQ.Queue,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		logger.Error("无法声明队列", "error", err)
		return
	}

	publisher := notify.NewPublisher(ch, cfg.RabbitMQ.Queue, time.Duration(cfg.RabbitMQ.PublishTimeout)*time.Second, cfg.Operator.Email)

	/**********************************************
	 * 连接 redis
	 **********************************************/
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       0,
	})
	defer rdb.Close()

	ctx, cancel = context.WithTimeout(context.Background(), time.Duration(cfg.Redis.ConnectTimeout)*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("无法连接到 redis", "error", err)
		return
	}

	/**********************************************
	 * 签名图片存储，未配置存储桶时只接受已有的图片句柄
	 **********************************************/
	var images *storage.ImageStore
	if cfg.Storage.Bucket != "" {
		images, err = storage.NewImageStore(context.Background(), cfg)
		if err != nil {
			logger.Error("无法创建签名图片存储", "error", err)
			return
		}
	} else {
		logger.Warn("未配置签名图片存储桶，图片上传接口不可用")
	}

	/**********************************************
	 * 创建业务服务
	 **********************************************/
	approvalService := approval.NewService(repo, repo, loc)
	reconcileService := reconcile.NewService(repo, publisher)

	/**********************************************
	 * 启动提醒调度器
	 **********************************************/
	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()

	var wg sync.WaitGroup
	if cfg.Reminder.Enabled {
		conditions, err := scheduler.LoadConditions(cfg.Reminder.ConditionsFile)
		if err != nil {
			logger.Error("无法加载提醒条件", "error", err)
			return
		}

		dedup := scheduler.NewRedisDeduper(rdb, time.Duration(cfg.Redis.OperationExpiration)*time.Second)
		reminder, err := scheduler.New(conditions, repo, repo, dedup, publisher, loc, time.Duration(cfg.Reminder.Interval)*time.Second)
		if err != nil {
			logger.Error("无法创建提醒调度器", "error", err)
			return
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			reminder.Run(schedulerCtx)
		}()
	}

	/**********************************************
	 * 创建 handler
	 **********************************************/
	services := handler.Services{
		Approval:  approvalService,
		Reconcile: reconcileService,
		Publisher: publisher,
	}
	// 避免把 nil 指针包装成非 nil 的接口
	if images != nil {
		services.Images = images
	}
	handler, err := handler.NewHandler(cfg, repo, services, rdb)
	if err != nil {
		logger.Error("无法创建 handler", "error", err)
		return
	}
	handler.RegisterRoutes()

	/**********************************************
	 * 启动 HTTP 服务器
	 **********************************************/
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      handler.Mux,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("正在启动服务器...", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("无法启动服务器", slog.String("error", err.Error()))
			return
		}
	}()

	<-quit
	logger.Info("正在关闭服务器...")

	// 调度器只在两个条件之间检查取消，这里等待当前条件处理完毕
	stopScheduler()
	wg.Wait()

	ctx, cancel = context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("关闭服务器失败", slog.String("error", err.Error()))
	}
	logger.Info("服务器已成功关闭")
}

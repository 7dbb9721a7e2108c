package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-playground/validator/v10"
	goredis "github.com/go-redis/redis/v8"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/redis"
	"github.com/wb-go/wbf/zlog"

	apihandler "github.com/statsor/notify/internal/api/handlers/notification"
	"github.com/statsor/notify/internal/api/router"
	"github.com/statsor/notify/internal/api/server"
	"github.com/statsor/notify/internal/channel"
	"github.com/statsor/notify/internal/config"
	"github.com/statsor/notify/internal/dispatch"
	"github.com/statsor/notify/internal/model"
	msghandler "github.com/statsor/notify/internal/rabbitmq/handlers/notification"
	"github.com/statsor/notify/internal/rabbitmq/queue"
	notifrepo "github.com/statsor/notify/internal/repository/notification"
	"github.com/statsor/notify/internal/retrier"
	"github.com/statsor/notify/internal/scheduler"
	notifsvc "github.com/statsor/notify/internal/service/notification"
	"github.com/statsor/notify/internal/worker"
	"github.com/statsor/notify/pkg/email"
	"github.com/statsor/notify/pkg/inapp"
	"github.com/statsor/notify/pkg/push"
	"github.com/statsor/notify/pkg/sms"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Init()
	cfg := config.Must()
	val := validator.New()

	conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL(), cfg.RabbitMQ.Retries, cfg.RabbitMQ.Pause)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to rabbitmq")
	}

	ch, err := conn.Channel()
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to open channel")
	}

	q, err := queue.NewNotificationQueue(ch, cfg)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to create notification queue")
	}

	opts := &dbpg.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	slaveDSNs := make([]string, 0, len(cfg.Database.Slaves))
	for _, s := range cfg.Database.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}

	db, err := dbpg.New(cfg.Database.Master.DSN(), slaveDSNs, opts)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	repo := notifrepo.NewRepository(db)

	dbNum, err := strconv.Atoi(cfg.Redis.Database)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to parse redis database")
	}

	rdb := redis.New(cfg.Redis.Address, cfg.Redis.Password, dbNum)
	if err = rdb.Ping(ctx).Err(); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to redis")
	}

	// Separate client for the in-app feed: it needs list and pub/sub
	// commands, not the cache wrapper.
	feedRDB := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       dbNum,
	})

	smtpPort, err := strconv.Atoi(cfg.Email.SMTPPort)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to parse email smtp port")
	}

	registry := channel.NewRegistry(map[model.Channel]channel.Sender{
		model.ChannelEmail: email.NewClient(
			cfg.Email.SMTPHost,
			smtpPort,
			cfg.Email.Username,
			cfg.Email.Password,
			cfg.Email.From,
		),
		model.ChannelPush:  push.NewClient(cfg.Push.URL, cfg.Push.Token),
		model.ChannelSMS:   sms.NewClient(cfg.SMS.URL, cfg.SMS.Token, cfg.SMS.From),
		model.ChannelInApp: inapp.NewClient(feedRDB),
	})

	dispatcher := dispatch.New(registry,
		dispatch.WithTimeout(cfg.Dispatch.Timeout),
		dispatch.WithRequireAll(cfg.Dispatch.RequireAll),
	)

	service := notifsvc.NewService(repo, q, dispatcher, channel.TypeResolver{}, rdb, cfg.Retry)

	coordinator := retrier.New(repo, service.Retry,
		retrier.WithBackoff(cfg.Retrier.Backoff),
		retrier.WithLimit(cfg.Retrier.Limit),
	)

	notifier := worker.NewNotifier(q, msghandler.NewHandler(service), repo)
	go notifier.Run(ctx, cfg.Retry, cfg.Workers.Count)

	sched := scheduler.New(service, coordinator, cfg.Scheduler)
	go sched.Run(ctx)

	r := router.New(apihandler.NewHandler(service, val))
	s := server.New(cfg.Server.HTTPPort, r)

	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	zlog.Logger.Info().Msg("shutdown signal received")

	server.Shutdown(s)

	if err := db.Master.Close(); err != nil {
		zlog.Logger.Printf("failed to close master DB: %v", err)
	}
	for i, slave := range db.Slaves {
		if err := slave.Close(); err != nil {
			zlog.Logger.Printf("failed to close slave DB %d: %v", i, err)
		}
	}

	if err := feedRDB.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close redis client")
	}

	if err := ch.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close RabbitMQ channel")
	}
	if err := conn.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close RabbitMQ connection")
	}
}

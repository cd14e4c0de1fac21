package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	internaldb "callcore/internal/database"
	callhandler "callcore/internal/handler/http/call"
	"callcore/internal/handler/ws"
	"callcore/internal/middleware"
	"callcore/internal/repository/cassandra"
	"callcore/internal/repository/cockroach"
	redisrepo "callcore/internal/repository/redis"
	callservice "callcore/internal/service/call"
	"callcore/pkg/constants"
	"callcore/pkg/database"
	"callcore/pkg/env"
	"callcore/pkg/jwt"
	"callcore/pkg/logger"
	"callcore/pkg/metrics"
	"callcore/pkg/push"
)

func main() {
	logger.InitDefault()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cockroachDB := mustConnectCockroach(ctx)
	defer cockroachDB.Close()

	cassandraDB := mustConnectCassandra()
	defer cassandraDB.Close()

	redisDB, err := internaldb.NewRedisDB(&internaldb.RedisConfig{
		Host:     env.GetString("REDIS_HOST", "localhost"),
		Port:     env.GetInt("REDIS_PORT", 6379),
		Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
		DB:       env.GetInt("REDIS_DB", 0),
		PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
		Timeout:  env.GetDuration("REDIS_TIMEOUT", 5*time.Second),
	})
	if err != nil {
		logger.Fatal("failed to create redis client", zap.Error(err))
	}
	defer redisDB.Close()
	redisDB.StartHealthCheck(ctx, 10*time.Second)

	m := metrics.NewMetrics("call-service")

	callRepo := cockroach.NewCallRepository(cockroachDB.Pool)
	eventRepo := cassandra.NewCallEventRepository(cassandraDB.Session)
	presenceRepo := redisrepo.NewPresenceRepository(redisDB)

	hub := ws.NewSignalingHub(redisDB, presenceRepo, m)

	service := callservice.NewService(callservice.Options{
		Repo:          callRepo,
		Events:        eventRepo,
		Presence:      presenceRepo,
		Notifier:      hub,
		Push:          &push.MockProvider{},
		Metrics:       m,
		RingingWindow: env.GetDuration("RINGING_WINDOW", constants.RingingWindow),
	})
	service.StartRingingJanitor(ctx, env.GetDuration("RINGING_SWEEP_INTERVAL", 5*time.Second))

	jwtManager := jwt.NewManager(
		env.GetStringFromFile("JWT_SECRET", ""),
		env.GetDuration("JWT_TOKEN_DURATION", 24*time.Hour),
	)

	router := buildRouter(service, hub, jwtManager, m)

	srv := &http.Server{
		Addr:         ":" + env.GetString("PORT", "8080"),
		Handler:      router,
		ReadTimeout:  constants.DefaultTimeout,
		WriteTimeout: constants.DefaultTimeout,
	}

	go func() {
		logger.Info("call service listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}

func buildRouter(service *callservice.Service, hub *ws.SignalingHub, jwtManager *jwt.Manager, m *metrics.Metrics) *gin.Engine {
	if env.GetString("GIN_MODE", "release") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		middleware.Recovery(),
		middleware.RequestLogger(),
		middleware.CORS(),
		middleware.Prometheus(m),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	api.Use(middleware.Auth(jwtManager))
	callhandler.NewHandler(service).RegisterRoutes(api)
	api.GET("/signaling", hub.ServeWS)

	return router
}

// mustConnectCockroach dials the SQL store, retrying with doubling delays.
// The service is useless without it, so startup blocks until it answers.
func mustConnectCockroach(ctx context.Context) *database.CockroachDB {
	cfg := &database.CockroachConfig{
		Host:     env.GetString("COCKROACH_HOST", "localhost"),
		Port:     env.GetInt("COCKROACH_PORT", 26257),
		User:     env.GetString("COCKROACH_USER", "root"),
		Password: env.GetStringFromFile("COCKROACH_PASSWORD", ""),
		Database: env.GetString("COCKROACH_DATABASE", "callcore"),
		SSLMode:  env.GetString("COCKROACH_SSLMODE", "disable"),
	}

	delay := constants.ReconnectBaseDelay
	for {
		db, err := database.NewCockroachDB(ctx, cfg)
		if err == nil {
			return db
		}
		logger.Warn("cockroachdb unavailable, retrying",
			zap.Duration("delay", delay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			logger.Fatal("startup cancelled waiting for cockroachdb")
		case <-time.After(delay):
		}
		if delay < constants.ReconnectMaxDelay {
			delay *= 2
		}
	}
}

func mustConnectCassandra() *database.CassandraDB {
	cfg := &database.CassandraConfig{
		Hosts:    []string{env.GetString("CASSANDRA_HOST", "localhost")},
		Keyspace: env.GetString("CASSANDRA_KEYSPACE", "callcore"),
		Username: env.GetString("CASSANDRA_USER", ""),
		Password: env.GetStringFromFile("CASSANDRA_PASSWORD", ""),
		Timeout:  env.GetDuration("CASSANDRA_TIMEOUT", 10*time.Second),
	}

	db, err := database.NewCassandraDB(cfg)
	if err != nil {
		logger.Fatal("failed to connect to cassandra", zap.Error(err))
	}
	return db
}

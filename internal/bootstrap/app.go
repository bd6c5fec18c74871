package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	httpHandler "hostel-chat/internal/handler/http"
	wsHandler "hostel-chat/internal/handler/websocket"
	"hostel-chat/internal/hub"
	gormpersistence "hostel-chat/internal/infra/persistence/gorm"
	"hostel-chat/internal/infra/setup"
	redisstate "hostel-chat/internal/infra/state/redis"
	fsstorage "hostel-chat/internal/infra/storage/fs"
	"hostel-chat/internal/middleware"
	"hostel-chat/internal/service"
	"hostel-chat/internal/tasks"
	"hostel-chat/internal/worker"
)

// Config 结构体用于存储从环境变量或文件加载的配置
type Config struct {
	DBUser          string
	DBPassword      string
	DBHost          string
	DBPort          string
	DBName          string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	JWTSecret       string
	ServerPort      string
	LogLevel        string
	RateLimitMax    int
	RateLimitWindow time.Duration
	AppEnv          string
	KeyPrefix       string
	CORSOrigins     []string

	AttachmentDir        string
	AttachmentURLPrefix  string
	BackupDir            string
	HistoryLimit         int
	RetentionInterval    time.Duration
	PurgeOnBackupFailure bool
	MaxUploadBytes       int64
}

// LoadConfig 从环境变量加载配置
func LoadConfig() (*Config, error) {
	// 优先加载 .env 文件 (如果存在)
	_ = godotenv.Load()

	cfg := &Config{
		DBUser:              os.Getenv("DB_USER"),
		DBPassword:          os.Getenv("DB_PASSWORD"),
		DBHost:              os.Getenv("DB_HOST"),
		DBPort:              os.Getenv("DB_PORT"),
		DBName:              os.Getenv("DB_NAME"),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		ServerPort:          envOr("SERVER_PORT", "8080"),
		LogLevel:            envOr("LOG_LEVEL", "info"),
		AppEnv:              envOr("APP_ENV", "development"),
		KeyPrefix:           envOr("REDIS_KEY_PREFIX", "chat:"),
		AttachmentDir:       envOr("CHAT_ATTACHMENT_DIR", "./uploads/chat"),
		AttachmentURLPrefix: envOr("CHAT_ATTACHMENT_URL_PREFIX", "/uploads/chat/"),
		BackupDir:           envOr("CHAT_BACKUP_DIR", "./backups/chat"),
		RateLimitMax:        envInt("RATE_LIMIT_MAX", 100),
		RateLimitWindow:     time.Second,
		HistoryLimit:        envInt("CHAT_HISTORY_LIMIT", service.DefaultHistoryLimit),
		MaxUploadBytes:      int64(envInt("CHAT_MAX_UPLOAD_MB", 10)) << 20,
	}
	cfg.RedisDB, _ = strconv.Atoi(os.Getenv("REDIS_DB")) // 忽略错误，默认为 0
	cfg.PurgeOnBackupFailure, _ = strconv.ParseBool(os.Getenv("CHAT_PURGE_ON_BACKUP_FAILURE"))

	for _, o := range strings.Split(os.Getenv("CORS_ALLOWED_ORIGIN"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}

	cfg.RetentionInterval = 24 * time.Hour
	if raw := os.Getenv("CHAT_RETENTION_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < time.Minute {
			return nil, fmt.Errorf("CHAT_RETENTION_INTERVAL must be a duration of at least 1m, got %q", raw)
		}
		cfg.RetentionInterval = d
	}

	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("environment variable REDIS_ADDR must be set")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("environment variable JWT_SECRET must be set")
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = service.DefaultHistoryLimit
	}

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// App 结构体包含应用的所有组件和配置
type App struct {
	Config      *Config
	Log         *logrus.Logger
	DB          *gorm.DB
	RedisClient *redis.Client
	AsynqClient *asynq.Client
	AsynqServer *worker.WorkerServer
	Scheduler   *asynq.Scheduler
	Hub         *hub.Hub
	HttpServer  *http.Server

	redisClientOpt asynq.RedisClientOpt
	hubCancel      context.CancelFunc
}

// NewLogger 按配置创建 logger: 生产环境使用 JSON
func NewLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	level, _ := logrus.ParseLevel(cfg.LogLevel)
	log.SetLevel(level)
	log.SetOutput(os.Stdout)

	// 组件通过包级 logrus 记录日志，保持同样的格式和级别
	logrus.SetFormatter(log.Formatter)
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stdout)
	return log
}

// NewApp 创建并初始化应用的所有组件
func NewApp() (*App, error) {
	// 1. 加载配置
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	// 2. 初始化 Logger
	log := NewLogger(cfg)
	log.Infof("Logger initialized (Level: %s, Env: %s)", cfg.LogLevel, cfg.AppEnv)

	// 3. 初始化基础设施
	log.Info("Initializing infrastructure...")
	db, err := setup.InitDB(setup.DBConfig{
		User: cfg.DBUser, Password: cfg.DBPassword, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init DB: %w", err)
	}
	if err := setup.MigrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate DB: %w", err)
	}

	redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}

	redisClientOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	asynqClient := asynq.NewClient(redisClientOpt)

	attachmentStore, err := fsstorage.NewLocalAttachmentStore(cfg.AttachmentDir, cfg.AttachmentURLPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to init attachment store: %w", err)
	}
	backupStore, err := fsstorage.NewLocalBackupStore(cfg.BackupDir)
	if err != nil {
		return nil, fmt.Errorf("failed to init backup store: %w", err)
	}
	log.Info("Infrastructure initialized successfully")

	// 4. 初始化 Repositories
	messageRepo := gormpersistence.NewGormMessageRepository(db)
	settingsRepo := gormpersistence.NewGormSettingsRepository(db)
	reactionRepo := redisstate.NewRedisReactionRepository(redisClient, cfg.KeyPrefix)
	presenceRepo := redisstate.NewRedisPresenceRepository(redisClient, cfg.KeyPrefix)

	// 5. 初始化 Hub 和 Services
	hubInstance := hub.NewHub(presenceRepo)
	chatService := service.NewChatService(messageRepo, reactionRepo, attachmentStore, cfg.HistoryLimit)
	retentionService := service.NewRetentionService(messageRepo, settingsRepo, reactionRepo, attachmentStore, backupStore,
		hubInstance, service.RetentionOptions{PurgeOnBackupFailure: cfg.PurgeOnBackupFailure})
	log.Info("Services initialized")

	// 6. 初始化 Handlers
	adminHandler := httpHandler.NewAdminHandler(retentionService, hubInstance, presenceRepo)
	attachmentHandler := httpHandler.NewAttachmentHandler(attachmentStore, cfg.MaxUploadBytes)
	websocketHandler := wsHandler.NewWebSocketHandler(hubInstance, chatService, cfg.CORSOrigins, hub.DefaultRateLimit)

	// 7. 初始化 Worker Server
	workerServer := worker.NewWorkerServer(redisClientOpt, retentionService, log)

	// 8. 初始化 Gin Engine 和路由
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(CORSMiddleware(cfg.CORSOrigins))

	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	router.Static(strings.TrimSuffix(cfg.AttachmentURLPrefix, "/"), cfg.AttachmentDir)

	auth := middleware.Auth(cfg.JWTSecret)
	router.GET("/ws/chat", auth, websocketHandler.HandleConnection)

	api := router.Group("/api")
	api.Use(middleware.RateLimit(redisClient, cfg.KeyPrefix, cfg.RateLimitMax, cfg.RateLimitWindow))
	api.POST("/chat/attachments", auth, attachmentHandler.Upload)
	adminHandler.Register(api.Group("/admin/chat", auth, middleware.RequireRole(middleware.RoleAdmin)))
	log.Info("Router setup complete")

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		Config:         cfg,
		Log:            log,
		DB:             db,
		RedisClient:    redisClient,
		AsynqClient:    asynqClient,
		AsynqServer:    workerServer,
		Hub:            hubInstance,
		HttpServer:     httpServer,
		redisClientOpt: redisClientOpt,
	}, nil
}

// Start 启动应用的所有后台 Goroutine 和 HTTP 服务器
func (a *App) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.hubCancel = cancel
	go a.Hub.Run(ctx)

	go a.AsynqServer.Start()
	a.Log.Info("Asynq worker server routine started")

	a.enqueueStartupRun()
	a.registerPeriodicTasks()

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

// enqueueStartupRun 启动时立即执行一次保留任务
func (a *App) enqueueStartupRun() {
	task, err := tasks.NewRetentionRunTask(tasks.TriggerStartup)
	if err != nil {
		a.Log.Errorf("Failed to create startup retention task: %v", err)
		return
	}
	info, err := a.AsynqClient.Enqueue(task)
	if err != nil {
		a.Log.WithError(err).Error("Failed to enqueue startup retention run")
		return
	}
	a.Log.WithField("task_id", info.ID).Info("Startup retention run enqueued")
}

func (a *App) registerPeriodicTasks() {
	scheduler := asynq.NewScheduler(a.redisClientOpt, &asynq.SchedulerOpts{Location: time.UTC})

	task, err := tasks.NewRetentionRunTask(tasks.TriggerScheduled)
	if err != nil {
		a.Log.Errorf("Failed to create retention task: %v", err)
		return
	}
	schedule := "@every " + a.Config.RetentionInterval.String()
	entryID, err := scheduler.Register(schedule, task, asynq.Queue("default"))
	if err != nil {
		a.Log.Errorf("Could not register periodic retention task: %v", err)
		return
	}
	a.Log.Infof("Periodic retention task registered with schedule '%s' (EntryID: %s)", schedule, entryID)

	if err := scheduler.Start(); err != nil {
		a.Log.Errorf("Asynq scheduler failed to start: %v", err)
		return
	}
	a.Scheduler = scheduler
}

// Shutdown 优雅地关闭应用
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	// 1. 先停止接收新请求
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	// 2. 关闭所有 WebSocket 连接并停止在线名单镜像
	if a.Hub != nil {
		a.Hub.CloseAll()
	}
	if a.hubCancel != nil {
		a.hubCancel()
	}

	// 3. 停止定时器和 Worker
	if a.Scheduler != nil {
		a.Scheduler.Shutdown()
	}
	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}
	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		}
	}

	// 4. 关闭 Redis 和数据库连接
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				a.Log.Errorf("Error closing database connection: %v", err)
			}
		}
	}

	a.Log.Info("Application shutdown complete.")
}

// CORSMiddleware 只为配置的来源返回 CORS 头。未配置时放行 localhost 开发前端。
func CORSMiddleware(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			if _, ok := allowed[origin]; ok {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Access-Control-Allow-Credentials", "true")
				c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
				c.Header("Vary", "Origin")
			}
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// LoggerMiddleware 创建一个 Gin 中间件用于记录请求日志
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		path := c.Request.URL.Path

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        path,
		})

		if errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String(); errorMessage != "" {
			entry.Error(errorMessage)
			return
		}
		switch {
		case statusCode >= 500:
			entry.Error("Server error")
		case statusCode >= 400:
			entry.Warn("Client error")
		default:
			entry.Info("Request handled")
		}
	}
}

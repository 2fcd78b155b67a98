package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatfront/internal/config"
	"chatfront/internal/handler"
	"chatfront/internal/middleware"
	"chatfront/internal/repository"
	"chatfront/internal/service"
	"chatfront/pkg/database"
	"chatfront/pkg/kafka"
	"chatfront/pkg/llm"
	"chatfront/pkg/log"
	"chatfront/pkg/preferences"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(*configPath)
		},
	}
}

func serve(configPath string) error {
	// 1. 初始化配置
	config.Init(configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库并建表
	database.InitDB(cfg.Database)
	if err := repository.AutoMigrate(database.DB); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	// 4. 偏好存储和事件发布器
	prefs := newPreferenceStore(cfg)
	publisher := kafka.NewPublisher(cfg.Kafka)

	// 5. 初始化 Repository 和 Service (依赖注入)
	conversationRepo := repository.NewConversationRepository(database.DB)
	conversationService := service.NewConversationService(conversationRepo, publisher)
	generateService := service.NewGenerateService(cfg.Proxy)
	llmClient := llm.NewClient(cfg.Client)
	session := service.NewChatSession(conversationService, llmClient, prefs)
	if err := session.Mount(context.Background()); err != nil {
		log.Warnf("恢复会话状态失败: %v", err)
	}

	// 6. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())
	tmpl, err := handler.LoadTemplates()
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}
	r.SetHTMLTemplate(tmpl)

	// 7. 注册路由
	registerRoutes(r, cfg, generateService, conversationService, session)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP 服务器关闭失败: %w", err)
	}

	// 进行中的发送会在各自的超时内结束
	session.Wait()
	if err := publisher.Close(); err != nil {
		log.Warnf("关闭 Kafka 生产者失败: %v", err)
	}
	log.Info("服务已优雅关闭")
	return nil
}

func registerRoutes(
	r *gin.Engine,
	cfg config.Config,
	generateService service.GenerateService,
	conversationService service.ConversationService,
	session *service.ChatSession,
) {
	ui := handler.NewUIHandler(session, cfg.Proxy.DefaultEndpoint)
	conversations := handler.NewConversationHandler(conversationService, session)

	r.GET("/", ui.Index)
	uiGroup := r.Group("/ui")
	{
		uiGroup.POST("/new", ui.NewChat)
		uiGroup.POST("/select/:id", ui.SelectConversation)
		uiGroup.POST("/send", ui.Send)
		uiGroup.POST("/settings", ui.SaveSettings)
		uiGroup.POST("/conversations/:id/delete", ui.DeleteConversation)
		uiGroup.POST("/conversations/:id/rename", ui.RenameConversation)
	}

	api := r.Group("/api")
	if len(cfg.Server.CORSOrigins) > 0 {
		api.Use(cors.New(cors.Config{
			AllowOrigins: cfg.Server.CORSOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
			AllowHeaders: []string{"Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	{
		api.POST("/generate", handler.NewGenerateHandler(generateService).Generate)
		api.GET("/session", ui.Session)

		conv := api.Group("/conversations")
		conv.GET("", conversations.ListConversations)
		conv.POST("", conversations.CreateConversation)
		conv.GET("/:id/messages", conversations.ListMessages)
		conv.POST("/:id/messages", conversations.AppendMessage)
		conv.PATCH("/:id", conversations.RenameConversation)
		conv.DELETE("/:id", conversations.DeleteConversation)
	}
}

// newPreferenceStore 按配置选择端点偏好的存储后端。
func newPreferenceStore(cfg config.Config) preferences.EndpointStore {
	if cfg.Preferences.Backend == "redis" {
		database.InitRedis(cfg.Redis)
		return preferences.NewRedisStore(database.RDB, cfg.Preferences.Key)
	}
	return preferences.NewMemoryStore()
}

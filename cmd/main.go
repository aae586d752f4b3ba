package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/internal/config"
	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/internal/handler"
	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/internal/middleware"
	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/internal/model"
	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/internal/service"
	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/pkg/logger"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置，凭证缺失在这里直接失败
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	// 初始化模型客户端
	chatModel, err := model.NewChatModel(context.Background(), cfg)
	if err != nil {
		logger.Fatalf("Failed to init chat model: %v", err)
	}

	// 初始化服务和处理器
	chatService := service.NewChatService(cfg, chatModel)
	chatHandler := handler.NewChatHandler(chatService)

	// 创建路由
	router := setupRouter(cfg, chatHandler)

	// 创建HTTP服务器，WriteTimeout必须为0，否则长的流式回复会被掐断
	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	// 启动服务器
	go func() {
		logger.Infof("服务器启动在端口 %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("服务器启动失败: %v", err)
		}
	}()

	// 等待信号优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("服务器正在关闭...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("服务器关闭失败: %v", err)
	}
	logger.Info("服务器已关闭")
}

func setupRouter(cfg *config.Config, chatHandler *handler.ChatHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// 中间件
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// CORS配置
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           time.Duration(cfg.CORS.MaxAge) * time.Second,
	}
	router.Use(cors.New(corsConfig))

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
		})
	})

	// API路由
	api := router.Group("/api")
	api.Use(middleware.RateLimit(cfg.RateLimit))
	{
		chat := api.Group("/chat")
		{
			chat.POST("/stream", chatHandler.StreamChat)
			chat.GET("/ws", chatHandler.ServeWS)

			chat.POST("/session", chatHandler.CreateSession)
			chat.POST("/session/list", chatHandler.GetSessionList)
			chat.POST("/session/select", chatHandler.SelectSession)
			chat.GET("/session/del/:session_id", chatHandler.DeleteSession)
			chat.POST("/session/clear", chatHandler.ClearAllSessions)
			chat.GET("/session/:session_id", chatHandler.GetSession)
			chat.GET("/messages/:session_id", chatHandler.GetMessages)
			chat.PUT("/session/:session_id", chatHandler.UpdateSessionTitle)

			chat.POST("/attachment", chatHandler.UploadAttachment)
			chat.GET("/attachment", chatHandler.GetAttachment)
			chat.DELETE("/attachment", chatHandler.ClearAttachment)

			chat.POST("/render", chatHandler.RenderMarkdown)
			chat.GET("/status", chatHandler.GetStatus)
		}
	}

	return router
}

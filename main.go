package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"course-chat-service/internal/auth"
	"course-chat-service/internal/config"
	"course-chat-service/internal/db"
	"course-chat-service/internal/delivery"
	"course-chat-service/internal/handlers"
	"course-chat-service/internal/middleware"
	"course-chat-service/internal/notify"
	"course-chat-service/internal/observability"
	"course-chat-service/internal/rabbitmq"
	"course-chat-service/internal/repositories"
	"course-chat-service/internal/telemetry"
	"course-chat-service/internal/uploads"
	"course-chat-service/internal/ws"
)

func main() {
	cfg := config.Load()

	ctx := context.Background()
	shutdownTracer, err := telemetry.InitTracer(ctx, "course-chat-service", cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(ctx); err != nil {
			log.Printf("tracer shutdown: %v", err)
		}
	}()

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()

	if cfg.AMQPURL != "" {
		eventPublisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Printf("observability events disabled: %v", err)
		} else {
			observability.SetPublisher(eventPublisher)
			defer eventPublisher.Close()
		}
	}

	audit := telemetry.NewAuditEmitter(publisher, "audit.chat", "course-chat-service", cfg.Environment)

	verifier := auth.NewVerifier(cfg.JWTSecret)

	chatRepo := repositories.NewChatRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	notificationRepo := repositories.NewNotificationRepo(database)
	userRepo := repositories.NewUserRepo(database)

	hub := ws.NewHub()
	typing := ws.NewTypingCoordinator(hub, ws.DefaultTypingTTL)

	fanout := notify.NewFanout(notificationRepo, hub)
	pipeline := delivery.NewPipeline(chatRepo, messageRepo, userRepo, hub, fanout)

	uploadStore, err := uploads.NewStore(cfg.UploadDir, cfg.UploadBase)
	if err != nil {
		log.Fatalf("failed to init upload store: %v", err)
	}

	chatHandler := handlers.NewChatHandler(chatRepo, messageRepo, userRepo, pipeline, audit)
	notificationHandler := handlers.NewNotificationHandler(notificationRepo)
	uploadHandler := handlers.NewUploadHandler(uploadStore, audit)

	wsHandler := ws.NewHandler(hub, verifier, chatRepo, userRepo, pipeline, typing)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("course-chat-service"))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(verifier, userRepo)

	router.GET("/chats", authMiddleware, chatHandler.ListChats)
	router.POST("/chats/start", authMiddleware, chatHandler.StartChat)
	router.POST("/chats/course", authMiddleware, chatHandler.EnsureCourseChat)
	router.POST("/chats/course/:course_id/participants", authMiddleware, chatHandler.AddCourseParticipant)
	router.GET("/chats/:chat_id/messages", authMiddleware, chatHandler.GetChatMessages)
	router.POST("/chats/:chat_id/messages", authMiddleware, chatHandler.PostChatMessage)
	router.POST("/chats/:chat_id/messages/:message_id/read", authMiddleware, chatHandler.MarkMessageRead)
	router.POST("/chats/:chat_id/read", authMiddleware, chatHandler.MarkChatRead)
	router.GET("/chats/unread-count", authMiddleware, chatHandler.UnreadCount)

	router.GET("/notifications", authMiddleware, notificationHandler.List)
	router.GET("/notifications/unread-count", authMiddleware, notificationHandler.UnreadCount)
	router.POST("/notifications/read", authMiddleware, notificationHandler.MarkAllRead)

	router.POST("/uploads", authMiddleware, uploadHandler.Upload)
	router.Static(cfg.UploadBase, cfg.UploadDir)

	router.GET("/ws", wsHandler.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.RegisterDebugRoutes(router, audit, cfg.DebugRoutes)

	log.Printf("listening on :%s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

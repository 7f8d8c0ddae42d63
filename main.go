package main

import (
	"context"
	"log"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	grpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	authpb "messenger-service/pb/auth"
	userpb "messenger-service/pb/user"

	"messenger-service/internal/db"
	grpcclient "messenger-service/internal/grpc"
	"messenger-service/internal/handlers"
	"messenger-service/internal/middleware"
	"messenger-service/internal/observability"
	"messenger-service/internal/rabbitmq"
	"messenger-service/internal/repositories"
	"messenger-service/internal/telemetry"
	"messenger-service/internal/ws"
)

const serviceName = "messenger-service"

func main() {
	ctx := context.Background()
	environment := getEnv("ENVIRONMENT", "development")

	shutdownTracing, err := observability.InitTracing(ctx, serviceName, environment, getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""))
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Printf("tracing shutdown failed: %v", err)
		}
	}()

	database, err := db.Connect()
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	amqpURL := getEnv("AMQP_URL", "")
	eventExchange := getEnv("AMQP_EVENT_EXCHANGE", "messenger.events")
	if eventPublisher, err := observability.NewAMQPPublisher(amqpURL, eventExchange); err != nil {
		log.Printf("event mirror disabled: %v", err)
	} else {
		observability.SetPublisher(eventPublisher)
		defer eventPublisher.Close()
	}

	auditPublisher := rabbitmq.NewPublisher(amqpURL, getEnv("AMQP_AUDIT_EXCHANGE", "messenger.audit"))
	defer auditPublisher.Close()
	if reason := rabbitmq.PublisherNoopReason(auditPublisher); reason != "" {
		log.Printf("audit publisher mode=%s reason=%s", rabbitmq.PublisherMode(auditPublisher), reason)
	} else {
		log.Printf("audit publisher mode=%s", rabbitmq.PublisherMode(auditPublisher))
	}
	auditEmitter := telemetry.NewAuditEmitter(auditPublisher, "audit.messenger", serviceName, environment)

	authAddr := getEnv("AUTH_GRPC_ADDR", "localhost:8084")
	userAddr := getEnv("USER_GRPC_ADDR", "localhost:8085")

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithUnaryInterceptor(observability.GRPCClientMetricsUnaryInterceptor()),
	}

	authConn, err := grpc.Dial(authAddr, dialOpts...)
	if err != nil {
		log.Fatalf("failed to connect to auth grpc: %v", err)
	}
	defer authConn.Close()

	userConn, err := grpc.Dial(userAddr, dialOpts...)
	if err != nil {
		log.Fatalf("failed to connect to user grpc: %v", err)
	}
	defer userConn.Close()

	authClient := grpcclient.NewAuthClient(authpb.NewAuthServiceClient(authConn))
	userClient := grpcclient.NewUserClient(userpb.NewUserInternalClient(userConn))

	conversationRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	hub := ws.NewHub()

	conversationHandler := handlers.NewConversationHandler(conversationRepo, messageRepo, userClient, hub, auditEmitter)
	messageHandler := handlers.NewMessageHandler(conversationRepo, messageRepo, userClient, hub, auditEmitter)
	wsHandler := ws.NewHandler(hub, conversationRepo, authClient)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.Auth(authClient)

	router.GET("/conversations", authMiddleware, conversationHandler.ListConversations)
	router.GET("/conversations/:conversation_id", authMiddleware, conversationHandler.GetConversation)
	router.POST("/conversations/direct", authMiddleware, conversationHandler.StartDirect)
	router.POST("/conversations/group", authMiddleware, conversationHandler.CreateGroup)
	router.GET("/conversations/:conversation_id/theme", authMiddleware, conversationHandler.GetTheme)
	router.PUT("/conversations/:conversation_id/theme", authMiddleware, conversationHandler.SetTheme)

	router.GET("/conversations/:conversation_id/messages", authMiddleware, messageHandler.GetMessages)
	router.POST("/conversations/:conversation_id/messages", authMiddleware, messageHandler.PostMessage)
	router.POST("/conversations/:conversation_id/read", authMiddleware, messageHandler.MarkRead)

	router.GET("/ws", wsHandler.Handle)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	debugEnabled, _ := strconv.ParseBool(getEnv("DEBUG_ROUTES", "false"))
	handlers.RegisterDebugRoutes(router, auditEmitter, debugEnabled)

	port := getEnv("PORT", "8083")
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

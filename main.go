package main

import (
	"log"

	"focusroom/config"
	"focusroom/handlers"
	"focusroom/middleware"
	"focusroom/models"
	"focusroom/routes"
	"focusroom/services"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Auto-migrate database models
	err = db.AutoMigrate(
		&models.User{},
		&models.Room{},
		&models.RoomMember{},
		&models.Competition{},
		&models.CompetitionParticipant{},
		&models.FocusSession{},
		&models.Challenge{},
		&models.ChallengeProgress{},
	)
	if err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Initialize Redis
	redisClient := config.InitRedis(cfg)

	// Broadcast outbox: services enqueue, the worker delivers
	outbox := services.NewOutbox(256)

	// Initialize services
	authService := services.NewAuthService(db, cfg.JWTSecret)
	roomService := services.NewRoomService(db)
	sessionService := services.NewSessionService(db, redisClient, outbox, cfg.LiveStateTTL)
	challengeService := services.NewChallengeService(db, outbox)
	competitionService := services.NewCompetitionService(
		db, redisClient, roomService, sessionService, challengeService, outbox,
		cfg.OnlineThreshold, cfg.LiveStateTTL,
	)

	// Initialize WebSocket hub and start delivery
	hub := services.NewHub(sessionService, competitionService)
	go hub.Run()
	go outbox.Run(hub)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	roomHandler := handlers.NewRoomHandler(roomService)
	competitionHandler := handlers.NewCompetitionHandler(competitionService)
	sessionHandler := handlers.NewSessionHandler(sessionService, roomService)
	challengeHandler := handlers.NewChallengeHandler(challengeService)

	// Setup Gin router
	router := gin.Default()

	// Add CORS middleware
	router.Use(middleware.CORS())

	// Setup routes
	routes.SetupRoutes(router, authHandler, roomHandler, competitionHandler,
		sessionHandler, challengeHandler, hub, roomService, authService)

	// Start server
	log.Printf("Server starting on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

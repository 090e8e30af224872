package routes

import (
	"log"
	"net/http"
	"strconv"

	"focusroom/handlers"
	"focusroom/middleware"
	"focusroom/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

func SetupRoutes(
	router *gin.Engine,
	authHandler *handlers.AuthHandler,
	roomHandler *handlers.RoomHandler,
	competitionHandler *handlers.CompetitionHandler,
	sessionHandler *handlers.SessionHandler,
	challengeHandler *handlers.ChallengeHandler,
	hub *services.Hub,
	roomService *services.RoomService,
	authService *services.AuthService,
) {
	// API routes
	api := router.Group("/api")
	{
		// Auth routes (public)
		auth := api.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
		}

		// Protected routes
		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware(authService))
		{
			// User profile
			protected.GET("/auth/profile", authHandler.GetProfile)

			// Room routes
			rooms := protected.Group("/rooms")
			{
				rooms.POST("", roomHandler.CreateRoom)
				rooms.GET("/:code", roomHandler.GetRoomByCode)
				rooms.POST("/:code/join", roomHandler.JoinRoom)
				rooms.POST("/:code/leave", roomHandler.LeaveRoom)
				rooms.POST("/:code/presence", roomHandler.Heartbeat)

				// Competition lifecycle
				rooms.POST("/:code/competition", competitionHandler.Start)
				rooms.POST("/:code/competition/end", competitionHandler.End)
				rooms.GET("/:code/competition", competitionHandler.GetActive)
			}

			// Focus session routes
			sessions := protected.Group("/sessions")
			{
				sessions.POST("", sessionHandler.StartSession)
				sessions.GET("/:id", sessionHandler.GetSession)
			}

			// Challenge routes
			challenges := protected.Group("/challenges")
			{
				challenges.POST("", challengeHandler.CreateChallenge)
				challenges.GET("", challengeHandler.ListChallenges)
				challenges.POST("/:id/progress", challengeHandler.Contribute)
			}
		}

		// Scoring ingest (called by the scoring pipeline, not end users)
		api.POST("/sessions/:id/score", sessionHandler.RecordScore)
	}

	// WebSocket endpoint for realtime room events
	router.GET("/ws/:roomCode/:userID", func(c *gin.Context) {
		roomCode := c.Param("roomCode")
		userIDStr := c.Param("userID")

		userID, err := strconv.ParseUint(userIDStr, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
			return
		}

		room, err := roomService.GetRoomByCode(roomCode)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}

		if !isRoomMember(room.ID, uint(userID), roomService) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Not a member of this room"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("WebSocket upgrade failed for room %s, user %d: %v", roomCode, userID, err)
			return
		}

		// Older clients pass legacy=1 and listen on the compatibility
		// channel instead of the room channel.
		channels := []string{services.RoomChannel(room.ID)}
		if c.Query("legacy") == "1" {
			channels = []string{services.LegacyCompetitionChannel(room.ID)}
		}

		log.Printf("WebSocket connection established for room %s, user %d", roomCode, userID)
		hub.RegisterClient(conn, room.ID, uint(userID), channels)
	})

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

func isRoomMember(roomID, userID uint, roomService *services.RoomService) bool {
	members, err := roomService.Members(roomID)
	if err != nil {
		return false
	}
	for _, member := range members {
		if member.UserID == userID && member.DepartedAt == nil {
			return true
		}
	}
	return false
}

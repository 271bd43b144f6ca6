package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/youruser/chainoftrust/internal/config"
	"github.com/youruser/chainoftrust/internal/log"
	"github.com/youruser/chainoftrust/internal/registration"
	"github.com/youruser/chainoftrust/internal/users"
)

// Server holds what the handlers need.
type Server struct {
	svc   *registration.Service
	store *users.Store
	cfg   config.Config
}

func NewServer(svc *registration.Service, store *users.Store, cfg config.Config) *Server {
	return &Server{svc: svc, store: store, cfg: cfg}
}

// NewRouter builds the engine with middleware and every route registered.
func NewRouter(s *Server) *gin.Engine {
	r := gin.New()
	r.Use(requestID(), requestLogger(), gin.RecoveryWithWriter(log.LevelWriter(log.LevelError, log.CatHTTP)))
	r.Use(cors.New(corsConfig(s.cfg.Server.CORSOrigins)))
	r.MaxMultipartMemory = s.cfg.Server.MaxUploadBytes
	RegisterRoutes(r, s)
	return r
}

// corsConfig allows any origin when none are configured.
func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

func RegisterRoutes(r *gin.Engine, s *Server) {
	r.GET("/health", s.health)
	r.POST("/create_user", s.createUser)
	r.POST("/send-email", s.sendEmail)

	api := r.Group("/api")
	{
		api.GET("/health", s.health)
		api.GET("/users/:id/badge", s.badge)
		api.POST("/render", s.renderPreview)
	}

	r.Static("/static", s.cfg.Storage.StaticDir)
	r.Static("/cards", s.cfg.Storage.CardsDir)
	r.NoRoute(s.spaFallback)
}

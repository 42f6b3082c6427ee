package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/multichat/internal/common"
	"github.com/suPer8Hu/multichat/internal/config"
	"github.com/suPer8Hu/multichat/internal/httpapi/handlers"
	"github.com/suPer8Hu/multichat/internal/httpapi/middleware"
)

func NewRouter(cfg config.Config, h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	r.GET("/ping", h.Ping)

	// users
	r.POST("/users", h.CreateUser)
	r.POST("/login", h.Login)

	// billing catalogue and provider callbacks are public
	r.GET("/billing/plans", h.ListPlans)
	r.POST("/billing/webhook", h.StripeWebhook)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/me", h.Me)
	authGroup.GET("/users/:id", h.GetUserByID)
	authGroup.GET("/credits", h.Credits)

	// Chat (JWT required)
	authGroup.POST("/chat/chatWithGPT", h.ChatWithGPT)
	authGroup.POST("/chat/saveMessage", h.SaveMessage)
	authGroup.POST("/chat/saveChat", h.SaveChat)
	authGroup.GET("/chat/chats", h.ListChats)
	authGroup.GET("/chat/chats/:chat_id/messages", h.ListChatMessages)
	authGroup.DELETE("/chat/chats/:chat_id", h.DeleteChat)

	// Billing (JWT required)
	authGroup.GET("/billing/subscription", h.GetSubscription)
	authGroup.POST("/billing/subscribe", h.Subscribe)
	authGroup.POST("/billing/downgrade", h.Downgrade)
	authGroup.POST("/billing/restore", h.RestoreSubscription)
	authGroup.POST("/billing/cancel", h.CancelSubscription)
	return r
}

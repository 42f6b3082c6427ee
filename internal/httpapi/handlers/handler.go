package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/multichat/internal/billing"
	"github.com/suPer8Hu/multichat/internal/chat"
	"github.com/suPer8Hu/multichat/internal/common"
	"github.com/suPer8Hu/multichat/internal/config"
	"github.com/suPer8Hu/multichat/internal/credits"
	"github.com/suPer8Hu/multichat/internal/httpapi/middleware"
	"github.com/suPer8Hu/multichat/internal/store/redisstore"
	"gorm.io/gorm"
)

type Handler struct {
	DB         *gorm.DB
	Cfg        config.Config
	Redis      *redisstore.Store
	ChatSvc    *chat.Service
	BillingSvc *billing.Service
	Ledger     *credits.Ledger
}

// NewHandler wires the already constructed services. r may be nil.
func NewHandler(db *gorm.DB, cfg config.Config, r *redisstore.Store, chatSvc *chat.Service, billingSvc *billing.Service, ledger *credits.Ledger) *Handler {
	return &Handler{
		DB:         db,
		Cfg:        cfg,
		Redis:      r,
		ChatSvc:    chatSvc,
		BillingSvc: billingSvc,
		Ledger:     ledger,
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/zillopoly/zillopoly/internal/domain"
	"github.com/zillopoly/zillopoly/internal/ledger"
	"github.com/zillopoly/zillopoly/internal/listing"
	"github.com/zillopoly/zillopoly/internal/observer"
	"github.com/zillopoly/zillopoly/pkg/logger"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleRandomListing 随机房源代理：
// 转发上游搜索结果并附带游戏开局所需的 contractData。
// 展示价是真实挂牌价加随机扰动后的结果；上游失败时返回类型化错误，
// 绝不编造房源数据
func (s *Server) handleRandomListing(c *gin.Context) {
	city := c.DefaultQuery("city", s.cfg.DefaultCity)
	homeType := c.Query("home_type")

	reqID := uuid.NewString()
	log := logger.WithField("req_id", reqID)

	l, err := s.listings.RandomListing(c.Request.Context(), city, listing.SearchOptions{
		ForSaleOnly: true,
		HomeType:    homeType,
	})
	if err != nil {
		log.Warnf("[server] random-listing %s: %v", city, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	displayed := listing.AdjustPrice(l.Price)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"city":    city,
		"listing": l,
		"contractData": gin.H{
			"listingId":      l.ZPID,
			"displayedPrice": displayed,
		},
	})
}

func (s *Server) handleGameGet(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("gameID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid game id"})
		return
	}
	g, err := s.ledger.Get(id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "game not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "game": g})
}

func (s *Server) handlePlayerGames(c *gin.Context) {
	addr := c.Param("addr")
	games := s.ledger.ListByOwner(addr)

	byStage := map[string]int{}
	for _, g := range games {
		byStage[g.Stage.String()]++
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"player":  addr,
		"total":   len(games),
		"byStage": byStage,
		"games":   games,
	})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"totalGames": s.ledger.Count(),
		"byStage": gin.H{
			domain.StageNotStarted.String():     s.ledger.CountByStage("", domain.StageNotStarted),
			domain.StageInitialized.String():    s.ledger.CountByStage("", domain.StageInitialized),
			domain.StageGuessSubmitted.String(): s.ledger.CountByStage("", domain.StageGuessSubmitted),
			domain.StageSettled.String():        s.ledger.CountByStage("", domain.StageSettled),
		},
	})
}

func (s *Server) handleRecentEvents(c *gin.Context) {
	if s.index == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "events": []any{}})
		return
	}
	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	recs, err := s.index.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	if recs == nil {
		recs = []observer.SettlementRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "events": recs})
}

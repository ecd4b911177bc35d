package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zillopoly/zillopoly/internal/events"
	"github.com/zillopoly/zillopoly/internal/ledger"
	"github.com/zillopoly/zillopoly/internal/listing"
	"github.com/zillopoly/zillopoly/internal/observer"
)

// Config HTTP 服务配置
type Config struct {
	DefaultCity string // /api/random-listing 未指定 city 时使用
}

// Server 对外 HTTP 面：房源代理 + 账本只读查询 + 事件流
// 所有写操作都走账本本身（CLI / worker），HTTP 面不做状态变更
type Server struct {
	cfg      Config
	ledger   *ledger.Ledger
	listings *listing.Client
	hub      *events.Hub
	index    *observer.EventIndex
}

func New(cfg Config, l *ledger.Ledger, lc *listing.Client, hub *events.Hub, idx *observer.EventIndex) *Server {
	if cfg.DefaultCity == "" {
		cfg.DefaultCity = "houston"
	}
	return &Server{
		cfg:      cfg,
		ledger:   l,
		listings: lc,
		hub:      hub,
		index:    idx,
	}
}

// Router 构建路由
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)

	api := r.Group("/api")
	api.GET("/random-listing", s.handleRandomListing)
	api.GET("/stats", s.handleStats)
	api.GET("/events", s.handleRecentEvents)

	games := api.Group("/games")
	games.GET("/:gameID", s.handleGameGet)

	players := api.Group("/players")
	players.GET("/:addr/games", s.handlePlayerGames)

	r.GET("/ws/events", s.handleEventStream)

	return r
}

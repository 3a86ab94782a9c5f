// Package api exposes the game engines over REST plus a websocket event
// stream. Handlers validate transport concerns only; game legality lives in
// the engines, and handler errors map to HTTP statuses through the domain
// error codes.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "github.com/greenfelt/croupier/internal/platform/errors"
	"github.com/greenfelt/croupier/internal/services/game/domain/roulette"
	"github.com/greenfelt/croupier/internal/services/game/engine"
	"github.com/greenfelt/croupier/internal/services/game/eventlog"
	rouletteengine "github.com/greenfelt/croupier/internal/services/game/roulette"
)

// Server routes REST and websocket traffic to the engines.
type Server struct {
	tables *engine.Engine
	wheels *rouletteengine.Engine
	log    *eventlog.Log
	auth   *Auth
}

// New builds a Server over the blackjack engine, the roulette engine, and the
// shared event log.
func New(tables *engine.Engine, wheels *rouletteengine.Engine, log *eventlog.Log, auth *Auth) *Server {
	return &Server{tables: tables, wheels: wheels, log: log, auth: auth}
}

// Router returns the configured gin engine.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1")

	tables := v1.Group("/tables")
	tables.GET("/:table", s.getTable)
	tables.GET("/:table/events", s.getTableEvents)
	tables.GET("/:table/stream", s.streamTable)

	actions := tables.Group("/", s.auth.Middleware())
	actions.POST("/:table/join", s.joinTable)
	actions.POST("/:table/bet", s.placeBet)
	actions.POST("/:table/hit", s.hit)
	actions.POST("/:table/stand", s.stand)
	actions.POST("/:table/split", s.split)

	wheels := v1.Group("/wheels")
	wheels.GET("/:wheel", s.getWheel)
	wheels.POST("/:wheel/bets", s.auth.Middleware(), s.placeWheelBet)

	return router
}

func (s *Server) joinTable(c *gin.Context) {
	result, err := s.tables.Join(c.Request.Context(), c.Param("table"), playerID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"table":   result.Table,
		"seat":    result.Seat,
		"created": result.Created,
	})
}

type betRequest struct {
	Amount int64 `json:"amount"`
}

func (s *Server) placeBet(c *gin.Context) {
	var req betRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.Wrap(apperrors.CodeBetInvalid, "invalid bet body", err))
		return
	}
	if err := s.tables.PlaceBet(c.Request.Context(), c.Param("table"), playerID(c), req.Amount); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) hit(c *gin.Context) {
	s.turnAction(c, s.tables.Hit)
}

func (s *Server) stand(c *gin.Context) {
	s.turnAction(c, s.tables.Stand)
}

func (s *Server) split(c *gin.Context) {
	s.turnAction(c, s.tables.Split)
}

func (s *Server) turnAction(c *gin.Context, action func(ctx context.Context, tableID, playerID string) error) {
	if err := action(c.Request.Context(), c.Param("table"), playerID(c)); err != nil {
		writeError(c, err)
		return
	}
	state, err := s.tables.Snapshot(c.Request.Context(), c.Param("table"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"table": state})
}

func (s *Server) getTable(c *gin.Context) {
	state, err := s.tables.Snapshot(c.Request.Context(), c.Param("table"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"table": state})
}

func (s *Server) getTableEvents(c *gin.Context) {
	pageSize, err := intQuery(c, "page_size", 0)
	if err != nil {
		writeError(c, apperrors.Wrap(apperrors.CodeFilterInvalid, "invalid page_size", err))
		return
	}
	cursor, err := intQuery(c, "cursor", 0)
	if err != nil {
		writeError(c, apperrors.Wrap(apperrors.CodeFilterInvalid, "invalid cursor", err))
		return
	}

	page, err := s.log.History(c.Request.Context(), eventlog.HistoryRequest{
		TableID:    c.Param("table"),
		Filter:     c.Query("filter"),
		PageSize:   pageSize,
		CursorSeq:  uint64(cursor),
		Descending: c.Query("order") == "desc",
	})
	if err != nil {
		writeError(c, err)
		return
	}

	events := make([]gin.H, 0, len(page.Events))
	for _, evt := range page.Events {
		events = append(events, gin.H{
			"seq":        evt.Seq,
			"generation": evt.Generation,
			"type":       evt.Type,
			"actor_type": evt.ActorType,
			"actor_id":   evt.ActorID,
			"timestamp":  evt.Timestamp,
			"payload":    json.RawMessage(evt.PayloadJSON),
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "next_cursor": page.NextCursor})
}

type wheelBetRequest struct {
	Kind   string `json:"kind"`
	Pick   int    `json:"pick"`
	Amount int64  `json:"amount"`
}

func (s *Server) placeWheelBet(c *gin.Context) {
	var req wheelBetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.Wrap(apperrors.CodeBetInvalid, "invalid bet body", err))
		return
	}
	round, err := s.wheels.PlaceBet(c.Request.Context(), rouletteengine.BetRequest{
		WheelID:  c.Param("wheel"),
		PlayerID: playerID(c),
		Kind:     roulette.BetKind(req.Kind),
		Pick:     req.Pick,
		Amount:   req.Amount,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"round": round})
}

func (s *Server) getWheel(c *gin.Context) {
	round, err := s.wheels.Snapshot(c.Request.Context(), c.Param("wheel"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"round": round})
}

func intQuery(c *gin.Context, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

// writeError maps a domain error to its HTTP status with a structured body.
func writeError(c *gin.Context, err error) {
	code := apperrors.CodeOf(err)
	c.JSON(code.HTTPStatus(), gin.H{
		"error": gin.H{"code": code, "message": err.Error()},
	})
}

// abortError is writeError plus middleware chain abort.
func abortError(c *gin.Context, err error) {
	writeError(c, err)
	c.Abort()
}

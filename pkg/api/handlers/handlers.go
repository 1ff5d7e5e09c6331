package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cbodonnell/flywheel-stats/pkg/api/middleware"
	"github.com/cbodonnell/flywheel-stats/pkg/log"
	"github.com/cbodonnell/flywheel-stats/pkg/stats"
	"github.com/gorilla/mux"
)

const (
	ServiceName       = "flywheel-stats"
	healthPingTimeout = 2 * time.Second
)

// StatsService is the read side consumed by the handlers
type StatsService interface {
	GetView(ctx context.Context, identifier string) (*stats.EntityView, bool, error)
	ListOnline(ctx context.Context) ([]stats.OnlineEntity, error)
	AggregateCounts(ctx context.Context) (stats.Aggregate, error)
	Leaderboard(ctx context.Context, kind stats.CounterKind, limit int) ([]stats.LeaderboardEntry, error)
	Ping(ctx context.Context) error
}

// HandleHealth reports the service as degraded with a 503 while the store does not answer.
func HandleHealth(version string, svc StatsService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:  "ok",
			Service: ServiceName,
			Version: version,
			Store:   "ok",
		}
		status := http.StatusOK
		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		defer cancel()
		if err := svc.Ping(ctx); err != nil {
			log.Warn("Health check failed (request_id=%s): %v", middleware.RequestIDFromContext(r.Context()), err)
			resp.Status = "degraded"
			resp.Store = "unavailable"
			status = http.StatusServiceUnavailable
		}
		resp.Timestamp = time.Now().UnixMilli()
		middleware.WriteJSON(w, status, resp)
	}
}

func HandleServerStats(svc StatsService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agg, err := svc.AggregateCounts(r.Context())
		if err != nil {
			internalError(w, r, "failed to aggregate counts", err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, ServerStatsResponse{
			Success: true,
			Data: ServerStats{
				TotalEntities: agg.TotalEntities,
				OnlineCount:   agg.OnlineCount,
				Timestamp:     time.Now().UnixMilli(),
			},
		})
	}
}

func HandlePlayerStats(svc StatsService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identifier := mux.Vars(r)["identifier"]
		view, found, err := svc.GetView(r.Context(), identifier)
		if err != nil {
			internalError(w, r, "failed to get player view", err)
			return
		}
		if !found {
			middleware.WriteJSON(w, http.StatusOK, PlayerStatsResponse{
				Success: true,
				Found:   false,
				Message: "Player not found",
			})
			return
		}
		data := NewPlayerData(view)
		middleware.WriteJSON(w, http.StatusOK, PlayerStatsResponse{
			Success: true,
			Found:   true,
			Data:    &data,
		})
	}
}

func HandleOnline(svc StatsService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		online, err := svc.ListOnline(r.Context())
		if err != nil {
			internalError(w, r, "failed to list online players", err)
			return
		}
		if online == nil {
			online = []stats.OnlineEntity{}
		}
		middleware.WriteJSON(w, http.StatusOK, OnlineResponse{
			Success: true,
			Data:    online,
		})
	}
}

func HandleLeaderboard(svc StatsService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, err := stats.ParseCounterKind(mux.Vars(r)["counter"])
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err = strconv.Atoi(raw)
			if err != nil || limit < 1 {
				middleware.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
		}

		entries, err := svc.Leaderboard(r.Context(), kind, limit)
		if err != nil {
			if errors.Is(err, stats.ErrInvalidCounter) {
				middleware.WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			internalError(w, r, "failed to get leaderboard", err)
			return
		}
		if entries == nil {
			entries = []stats.LeaderboardEntry{}
		}
		middleware.WriteJSON(w, http.StatusOK, LeaderboardResponse{
			Success: true,
			Counter: kind.String(),
			Data:    entries,
		})
	}
}

// HandleNotFound answers unmatched routes with a JSON body
func HandleNotFound() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	}
}

func HandleMethodNotAllowed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	log.Error("%s (request_id=%s): %v", msg, middleware.RequestIDFromContext(r.Context()), err)
	middleware.WriteError(w, http.StatusInternalServerError, "Internal server error")
}

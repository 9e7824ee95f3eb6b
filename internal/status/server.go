// Package status exposes the engine's read-only operational surface: a
// readiness check, recent run summaries and prometheus metrics. It serves
// no AR data and accepts no writes.
package status

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/brightsmile-dental/ar-engine/internal/engine"
	"github.com/brightsmile-dental/ar-engine/internal/platform/db"
	"github.com/brightsmile-dental/ar-engine/internal/platform/middleware"
	"github.com/brightsmile-dental/ar-engine/pkg/pagination"
)

type Server struct {
	e *echo.Echo
}

func NewServer(pool *pgxpool.Pool, runs engine.RunRepository, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.Logger(logger))

	e.GET("/healthz", db.HealthHandler(pool))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/runs", listRunsHandler(runs))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

type runResponse struct {
	RunID                 string         `json:"run_id"`
	AsOf                  string         `json:"as_of"`
	StartedAt             time.Time      `json:"started_at"`
	FinishedAt            time.Time      `json:"finished_at"`
	Status                string         `json:"status"`
	PatientsProcessed     int            `json:"patients_processed"`
	TransactionsProcessed int            `json:"transactions_processed"`
	BalancesWritten       int            `json:"balances_written"`
	SnapshotsWritten      int            `json:"snapshots_written"`
	HistoryEntriesWritten int            `json:"history_entries_written"`
	DuplicateClaimsSeen   int            `json:"duplicate_claims_seen"`
	RejectsByReason       map[string]int `json:"rejects_by_reason"`
	Error                 string         `json:"error,omitempty"`
}

func listRunsHandler(runs engine.RunRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		p := pagination.FromContext(c)

		summaries, total, err := runs.ListRecent(c.Request().Context(), p.Limit, p.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to list runs")
		}

		out := make([]runResponse, 0, len(summaries))
		for _, rs := range summaries {
			rejects := make(map[string]int, len(rs.RejectsByReason))
			for reason, n := range rs.RejectsByReason {
				rejects[string(reason)] = n
			}
			out = append(out, runResponse{
				RunID:                 rs.RunID.String(),
				AsOf:                  rs.AsOf.Format("2006-01-02"),
				StartedAt:             rs.StartedAt,
				FinishedAt:            rs.FinishedAt,
				Status:                string(rs.Status),
				PatientsProcessed:     rs.PatientsProcessed,
				TransactionsProcessed: rs.TransactionsProcessed,
				BalancesWritten:       rs.BalancesWritten,
				SnapshotsWritten:      rs.SnapshotsWritten,
				HistoryEntriesWritten: rs.HistoryEntriesWritten,
				DuplicateClaimsSeen:   rs.DuplicateClaimsSeen,
				RejectsByReason:       rejects,
				Error:                 rs.Error,
			})
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(out, total, p.Limit, p.Offset))
	}
}

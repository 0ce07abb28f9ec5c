// Package server exposes the scan engine over HTTP: account registration,
// scan start/status, server-sent progress streaming, results, and export
// download. It is thin glue; all scan behavior lives in internal/engine.
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/spotsave/spotsave/internal/engine"
	"github.com/spotsave/spotsave/internal/export"
	"github.com/spotsave/spotsave/internal/models"
	"github.com/spotsave/spotsave/internal/store"
	"github.com/spotsave/spotsave/internal/version"
)

// Server wires the engine and store into an echo HTTP application.
type Server struct {
	engine engine.Engine
	store  store.Store
	log    *zap.Logger
	echo   *echo.Echo
}

func New(eng engine.Engine, st store.Store, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{engine: eng, store: st, log: log}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	e.GET("/health", s.health)
	e.POST("/api/accounts", s.createAccount)
	e.GET("/api/accounts", s.listAccounts)
	e.POST("/api/scan", s.startScan)
	e.GET("/api/scan/:id", s.scanStatus)
	e.GET("/api/scan/:id/stream", s.streamProgress)
	e.GET("/api/scan/:id/result", s.scanResult)
	e.GET("/api/scan/:id/export", s.exportScan)

	s.echo = e
	return s
}

// Start blocks serving HTTP on addr until the listener fails or Shutdown
// is called.
func (s *Server) Start(addr string) error {
	s.log.Info("http server listening", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Handler exposes the routing tree for tests.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

type createAccountRequest struct {
	Name       string `json:"account_name"`
	RoleARN    string `json:"role_arn"`
	ExternalID string `json:"external_id"`
}

func (s *Server) createAccount(c echo.Context) error {
	var req createAccountRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if !models.ValidRoleARN(req.RoleARN) {
		return badRequest(c, fmt.Sprintf("malformed role ARN %q", req.RoleARN))
	}
	if req.ExternalID == "" {
		return badRequest(c, "external_id is required")
	}

	account := models.Account{
		ID:         models.ExtractAccountID(req.RoleARN),
		Name:       req.Name,
		RoleARN:    req.RoleARN,
		ExternalID: req.ExternalID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.PutAccount(c.Request().Context(), account); err != nil {
		return internalError(c, err)
	}
	return c.JSON(http.StatusCreated, account)
}

func (s *Server) listAccounts(c echo.Context) error {
	accounts, err := s.store.ListAccounts(c.Request().Context())
	if err != nil {
		return internalError(c, err)
	}
	return c.JSON(http.StatusOK, accounts)
}

type startScanRequest struct {
	AccountID string `json:"account_id"`
}

func (s *Server) startScan(c echo.Context) error {
	var req startScanRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.AccountID == "" {
		return badRequest(c, "account_id is required")
	}

	scanID, err := s.engine.StartScan(c.Request().Context(), req.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrAccountNotFound) {
			return notFound(c, "account not found")
		}
		return internalError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"scan_id": scanID})
}

func (s *Server) scanStatus(c echo.Context) error {
	scan, err := s.store.GetScan(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, models.ErrScanNotFound) {
			return notFound(c, "scan not found")
		}
		return internalError(c, err)
	}
	return c.JSON(http.StatusOK, scan)
}

// streamProgress serves the scan's progress snapshots as server-sent
// events, one "data: <json>" frame per snapshot. The stream ends after
// the terminal snapshot or when the client disconnects.
func (s *Server) streamProgress(c echo.Context) error {
	snapshots, err := s.engine.SubscribeProgress(c.Param("id"))
	if err != nil {
		if errors.Is(err, models.ErrScanNotFound) {
			return notFound(c, "scan not found")
		}
		return internalError(c, err)
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	ctx := c.Request().Context()
	for {
		select {
		case snap, open := <-snapshots:
			if !open {
				return nil
			}
			payload, err := json.Marshal(snap)
			if err != nil {
				return nil
			}
			if _, err := fmt.Fprintf(resp, "data: %s\n\n", payload); err != nil {
				return nil
			}
			resp.Flush()
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Server) scanResult(c echo.Context) error {
	result, err := s.engine.GetResult(c.Request().Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrScanNotFound):
			return notFound(c, "scan not found")
		case errors.Is(err, models.ErrScanRunning):
			return c.JSON(http.StatusConflict, map[string]string{"error": "scan still running"})
		default:
			return internalError(c, err)
		}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"summary":       result.Session,
		"opportunities": result.Opportunities,
	})
}

func (s *Server) exportScan(c echo.Context) error {
	set, err := s.engine.ExportResult(c.Request().Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrScanNotFound):
			return notFound(c, "scan not found")
		case errors.Is(err, models.ErrScanRunning):
			return c.JSON(http.StatusConflict, map[string]string{"error": "scan still running"})
		default:
			return internalError(c, err)
		}
	}

	format := c.QueryParam("format")
	switch format {
	case "csv":
		var buf bytes.Buffer
		if err := export.WriteCSV(&buf, set); err != nil {
			return internalError(c, err)
		}
		c.Response().Header().Set(echo.HeaderContentDisposition,
			fmt.Sprintf("attachment; filename=%s.csv", set.Summary.ScanID))
		return c.Blob(http.StatusOK, "text/csv", buf.Bytes())
	case "", "json":
		var buf bytes.Buffer
		if err := export.WriteJSON(&buf, set); err != nil {
			return internalError(c, err)
		}
		c.Response().Header().Set(echo.HeaderContentDisposition,
			fmt.Sprintf("attachment; filename=%s.json", set.Summary.ScanID))
		return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, buf.Bytes())
	default:
		return badRequest(c, fmt.Sprintf("unsupported format %q", format))
	}
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
}

func notFound(c echo.Context, msg string) error {
	return c.JSON(http.StatusNotFound, map[string]string{"error": msg})
}

func internalError(c echo.Context, err error) error {
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

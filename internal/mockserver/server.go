package mockserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// Server exposes a Backend over HTTP.
type Server struct {
	backend *Backend
	echo    *echo.Echo
}

// NewServer registers the resource routes and the /_admin fault-injection endpoints.
func NewServer(backend *Backend, routes []string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{backend: backend, echo: e}

	sorted := append([]string(nil), routes...)
	sort.Strings(sorted)
	for _, route := range sorted {
		s.registerResource(route)
	}

	e.GET("/health", s.health)

	admin := e.Group("/_admin")
	admin.POST("/offline", s.setOffline)
	admin.POST("/fail", s.failNext)
	admin.POST("/drop", s.dropResponses)
	admin.POST("/reject", s.reject)
	admin.PUT("/resources", s.putResource)
	admin.GET("/requests", s.requests)

	return s
}

// Handler returns the HTTP handler, for use with httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) registerResource(route string) {
	s.echo.POST(route, func(c echo.Context) error {
		return s.serve(c, route, c.Request().Header.Get("X-Client-Entity-ID"))
	})
	s.echo.GET(route+"/:id", func(c echo.Context) error {
		return s.serve(c, route, c.Param("id"))
	})
	s.echo.PUT(route+"/:id", func(c echo.Context) error {
		return s.serve(c, route, c.Param("id"))
	})
	s.echo.DELETE(route+"/:id", func(c echo.Context) error {
		return s.serve(c, route, c.Param("id"))
	})
}

func (s *Server) serve(c echo.Context, route, id string) error {
	r := c.Request()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "reading body"})
	}

	resp, err := s.backend.Handle(Request{
		Method:         r.Method,
		Route:          route,
		ID:             id,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		IfMatch:        r.Header.Get("If-Match"),
		Token:          strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "),
		Body:           body,
	})
	if errors.Is(err, ErrOffline) {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "offline"})
	}
	if err != nil {
		return err
	}

	h := c.Response().Header()
	if resp.ETag != "" {
		h.Set("ETag", resp.ETag)
	}
	if resp.ID != "" {
		h.Set("X-Entity-ID", resp.ID)
	}
	if resp.Replayed {
		h.Set("Idempotent-Replayed", "true")
	}
	if len(resp.Body) == 0 {
		return c.NoContent(resp.Status)
	}
	return c.JSONBlob(resp.Status, resp.Body)
}

func (s *Server) health(c echo.Context) error {
	if s.backend.Offline() {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "offline"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) setOffline(c echo.Context) error {
	offline, err := strconv.ParseBool(c.QueryParam("value"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "value must be a boolean"})
	}
	s.backend.SetOffline(offline)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) failNext(c echo.Context) error {
	count, err1 := strconv.Atoi(c.QueryParam("count"))
	status, err2 := strconv.Atoi(c.QueryParam("status"))
	if err1 != nil || err2 != nil || status < 400 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "count and status (>= 400) are required"})
	}
	s.backend.FailNext(count, status)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) dropResponses(c echo.Context) error {
	count, err := strconv.Atoi(c.QueryParam("count"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "count is required"})
	}
	s.backend.DropResponses(count)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) reject(c echo.Context) error {
	status, err := strconv.Atoi(c.QueryParam("status"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "status is required"})
	}
	s.backend.Reject(c.QueryParam("route"), c.QueryParam("id"), status)
	return c.NoContent(http.StatusNoContent)
}

// putResource simulates an edit made by another client.
func (s *Server) putResource(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "reading body"})
	}
	tag := s.backend.Put(c.QueryParam("route"), c.QueryParam("id"), body)
	c.Response().Header().Set("ETag", tag)
	return c.NoContent(http.StatusNoContent)
}

type requestView struct {
	Method         string `json:"method"`
	Route          string `json:"route"`
	ID             string `json:"id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	IfMatch        string `json:"if_match,omitempty"`
}

func (s *Server) requests(c echo.Context) error {
	reqs := s.backend.Requests()
	out := make([]requestView, len(reqs))
	for i, r := range reqs {
		out[i] = requestView{Method: r.Method, Route: r.Route, ID: r.ID, IdempotencyKey: r.IdempotencyKey, IfMatch: r.IfMatch}
	}
	return c.JSON(http.StatusOK, out)
}

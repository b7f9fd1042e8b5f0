// Package server exposes the research orchestration core over HTTP.
package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appconfig "github.com/Cownjackson/open-deep-research/config"
	"github.com/Cownjackson/open-deep-research/internal/app"
)

// Run builds the service from cfg and serves the HTTP API until the
// listener fails.
func Run(cfg *appconfig.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	svcLogger := log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags)
	svc, metrics, err := app.Build(cfg, svcLogger)
	if err != nil {
		return err
	}

	h := &Handler{Svc: svc, AllowClarification: cfg.Research.AllowClarification}
	h.Register(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	if cfg.Monitor.Enabled {
		mon := NewHealthMonitor(svc, cfg.Monitor.Schedule, metrics)
		mon.Start()
		defer mon.Stop()
	}

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":8321"
	}
	baseLogger.Printf("listening on %s (engine %s)", addr, cfg.Engine.URL)
	return e.Start(addr)
}

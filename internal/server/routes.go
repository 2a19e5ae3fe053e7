// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package server

import (
	"errors"
	"net/http"

	"github.com/Thermoquad/wattstat/pkg/mcp39f511n"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)

	api := e.Group("/api")
	api.GET("/reading", s.ReadingHandler)
	api.GET("/calibration", s.CalibrationHandler)
	api.GET("/stats", s.StatsHandler)
	if s.allowCommands {
		api.POST("/gain/:name", s.SetGainHandler)
		api.POST("/save", s.SaveHandler)
	}

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	if err := s.source.Health(); err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	return c.String(http.StatusOK, "health_check: OK")
}

func (s *Server) ReadingHandler(c echo.Context) error {
	r, _, ok := s.source.Last()
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no reading yet")
	}
	return c.JSON(http.StatusOK, r)
}

func (s *Server) CalibrationHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, s.source.Meter().Calibration())
}

type statsResponse struct {
	Transactions     uint64  `json:"transactions"`
	Completed        uint64  `json:"completed"`
	Errors           uint64  `json:"errors"`
	TooShort         uint64  `json:"too_short"`
	LengthMismatches uint64  `json:"length_mismatches"`
	ChecksumErrors   uint64  `json:"checksum_errors"`
	SendChecksum     uint64  `json:"send_checksum_errors"`
	Rejected         uint64  `json:"rejected"`
	UnexpectedDevice uint64  `json:"unexpected_device"`
	Overflows        uint64  `json:"overflows"`
	Timeouts         uint64  `json:"timeouts"`
	Incomplete       uint64  `json:"incomplete"`
	TransportErrors  uint64  `json:"transport_errors"`
	Anomalies        uint64  `json:"anomalous_readings"`
	SuccessPercent   float64 `json:"success_percent"`
	AvgLatencyMillis float64 `json:"avg_latency_ms"`
	MaxLatencyMillis float64 `json:"max_latency_ms"`
}

func (s *Server) StatsHandler(c echo.Context) error {
	st := s.source.Meter().Engine().Statistics().Snapshot()
	return c.JSON(http.StatusOK, statsResponse{
		Transactions:     st.TotalTransactions,
		Completed:        st.Completed,
		Errors:           st.Errors(),
		TooShort:         st.TooShort,
		LengthMismatches: st.LengthMismatches,
		ChecksumErrors:   st.ChecksumErrors,
		SendChecksum:     st.SendChecksumErrors,
		Rejected:         st.Rejected,
		UnexpectedDevice: st.UnexpectedDevice,
		Overflows:        st.Overflows,
		Timeouts:         st.Timeouts,
		Incomplete:       st.Incomplete,
		TransportErrors:  st.TransportErrors,
		Anomalies:        st.AnomalousReadings,
		SuccessPercent:   st.SuccessPercent(),
		AvgLatencyMillis: float64(st.AverageLatency().Microseconds()) / 1000,
		MaxLatencyMillis: float64(st.MaxLatency.Microseconds()) / 1000,
	})
}

type gainRequest struct {
	Value *uint16 `json:"value"`
}

func (s *Server) SetGainHandler(c echo.Context) error {
	reg, ok := mcp39f511n.GainRegisterByName(c.Param("name"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown gain")
	}

	var req gainRequest
	if err := c.Bind(&req); err != nil || req.Value == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "expected {\"value\": 0-65535}")
	}

	if err := s.source.Meter().SetGain(c.Request().Context(), reg, *req.Value); err != nil {
		s.logger.Warn("gain write failed", zap.Stringer("register", reg), zap.Error(err))
		return deviceError(err)
	}
	return c.JSON(http.StatusOK, s.source.Meter().Calibration().Gains)
}

func (s *Server) SaveHandler(c echo.Context) error {
	if err := s.source.Meter().SaveToFlash(c.Request().Context()); err != nil {
		s.logger.Warn("save to flash failed", zap.Error(err))
		return deviceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func deviceError(err error) error {
	if errors.Is(err, mcp39f511n.ErrRejected) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadGateway, err.Error())
}

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rfinnegan/thetaguard/internal/engine"
	"github.com/rfinnegan/thetaguard/internal/marketdata"
	"github.com/rfinnegan/thetaguard/internal/stoploss"
)

// contractRequest is the common request body shape for all three endpoints.
type contractRequest struct {
	Ticker       string  `json:"ticker"`
	Strike       float64 `json:"strike"`
	Expiration   string  `json:"expiration"` // YYYY-MM-DD
	OptionType   string  `json:"option_type"`
	TargetPrice  float64 `json:"target_price,omitempty"`
	IntervalDays int     `json:"interval_days,omitempty"`
	MaxIntervals int     `json:"max_intervals,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) decodeContract(w http.ResponseWriter, r *http.Request) (*contractRequest, time.Time, bool) {
	var req contractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return nil, time.Time{}, false
	}
	expiration, err := time.Parse("2006-01-02", req.Expiration)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("expiration must be YYYY-MM-DD: %w", err))
		return nil, time.Time{}, false
	}
	return &req, expiration, true
}

func (s *Server) handleStopLoss(w http.ResponseWriter, r *http.Request) {
	req, expiration, ok := s.decodeContract(w, r)
	if !ok {
		return
	}

	result, err := s.engine.RecommendStopLoss(r.Context(), stoploss.Request{
		Ticker:     req.Ticker,
		Strike:     req.Strike,
		Expiration: expiration,
		OptionType: marketdata.OptionType(req.OptionType),
	})
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	req, expiration, ok := s.decodeContract(w, r)
	if !ok {
		return
	}

	result, err := s.engine.EstimateOptionPrice(r.Context(), engine.EstimateRequest{
		Ticker:      req.Ticker,
		Strike:      req.Strike,
		Expiration:  expiration,
		OptionType:  marketdata.OptionType(req.OptionType),
		TargetPrice: req.TargetPrice,
	})
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDecay(w http.ResponseWriter, r *http.Request) {
	req, expiration, ok := s.decodeContract(w, r)
	if !ok {
		return
	}

	result, err := s.engine.ProjectThetaDecay(r.Context(), engine.DecayRequest{
		Ticker:       req.Ticker,
		Strike:       req.Strike,
		Expiration:   expiration,
		OptionType:   marketdata.OptionType(req.OptionType),
		IntervalDays: req.IntervalDays,
		MaxIntervals: req.MaxIntervals,
	})
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).Error("request failed")
	} else {
		s.logger.WithError(err).Warn("request rejected")
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

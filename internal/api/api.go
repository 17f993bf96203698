/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/melisma/internal/engine"
	"github.com/friendsincode/melisma/internal/events"
	"github.com/friendsincode/melisma/internal/logbuffer"
	"github.com/friendsincode/melisma/internal/songtimeline"
)

// API exposes HTTP handlers over the playback engine.
type API struct {
	engine *engine.Engine
	bus    *events.Bus
	logBuf *logbuffer.Buffer
	logger zerolog.Logger
}

// New creates the API wrapper.
func New(eng *engine.Engine, bus *events.Bus, logBuf *logbuffer.Buffer, logger zerolog.Logger) *API {
	return &API{
		engine: eng,
		bus:    bus,
		logBuf: logBuf,
		logger: logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts the control surface on the router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/queue", a.handleEnqueue)
		r.Get("/queue", a.handleGetQueue)
		r.Delete("/queue", a.handleClearQueue)
		r.Delete("/queue/{id}", a.handleRemove)

		r.Post("/playback/play", a.handlePlay)
		r.Post("/playback/pause", a.handlePause)
		r.Post("/playback/skip/next", a.handleSkipNext)
		r.Post("/playback/skip/previous", a.handleSkipPrevious)
		r.Post("/playback/seek", a.handleSeek)
		r.Get("/playback/state", a.handleGetState)
		r.Get("/playback/position", a.handleGetPosition)
		r.Get("/playback/buffers", a.handleGetBuffers)

		r.Put("/volume", a.handleSetVolume)
		r.Get("/volume", a.handleGetVolume)

		r.Get("/audio/devices", a.handleGetDevices)
		r.Put("/audio/device", a.handleSetDevice)

		r.Get("/events", a.handleEvents)
		r.Get("/logs", a.handleGetLogs)
	})
}

type enqueueRequest struct {
	FilePath     string  `json:"file_path"`
	PassageID    *string `json:"passage_id,omitempty"`
	StartTicks   *int64  `json:"start_ticks,omitempty"`
	EndTicks     *int64  `json:"end_ticks,omitempty"`
	LeadInTicks  *int64  `json:"lead_in_ticks,omitempty"`
	LeadOutTicks *int64  `json:"lead_out_ticks,omitempty"`
	FadeInTicks  *int64  `json:"fade_in_ticks,omitempty"`
	FadeOutTicks *int64  `json:"fade_out_ticks,omitempty"`
	FadeInCurve  string  `json:"fade_in_curve,omitempty"`
	FadeOutCurve string  `json:"fade_out_curve,omitempty"`

	Songs []songEntry `json:"songs,omitempty"`
}

type songEntry struct {
	SongID     *string `json:"song_id,omitempty"`
	StartTicks int64   `json:"start_ticks"`
	EndTicks   int64   `json:"end_ticks"`
}

func (a *API) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FilePath == "" {
		writeError(w, http.StatusBadRequest, "file_path is required")
		return
	}

	enq := engine.EnqueueRequest{
		FilePath:     req.FilePath,
		StartTick:    req.StartTicks,
		EndTick:      req.EndTicks,
		LeadInTick:   req.LeadInTicks,
		LeadOutTick:  req.LeadOutTicks,
		FadeInTick:   req.FadeInTicks,
		FadeOutTick:  req.FadeOutTicks,
		FadeInCurve:  req.FadeInCurve,
		FadeOutCurve: req.FadeOutCurve,
	}
	if req.PassageID != nil {
		if pid, err := uuid.Parse(*req.PassageID); err == nil {
			enq.PassageID = &pid
		}
	}
	for _, s := range req.Songs {
		entry := songtimeline.Entry{StartTick: s.StartTicks, EndTick: s.EndTicks}
		if s.SongID != nil {
			if sid, err := uuid.Parse(*s.SongID); err == nil {
				entry.SongID = &sid
			}
		}
		enq.Songs = append(enq.Songs, entry)
	}

	id, err := a.engine.Enqueue(enq)
	if err != nil {
		if errors.Is(err, engine.ErrFileNotOpenable) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		a.logger.Error().Err(err).Msg("enqueue failed")
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"queue_entry_id": id.String()})
}

func (a *API) handleGetQueue(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"entries": a.engine.Queue()})
}

func (a *API) handleClearQueue(w http.ResponseWriter, _ *http.Request) {
	a.engine.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRemove(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid queue entry id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": a.engine.Remove(id)})
}

func (a *API) handlePlay(w http.ResponseWriter, _ *http.Request) {
	if err := a.engine.Play(); err != nil {
		a.logger.Error().Err(err).Msg("play failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePause(w http.ResponseWriter, _ *http.Request) {
	a.engine.Pause()
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSkipNext(w http.ResponseWriter, _ *http.Request) {
	if err := a.engine.SkipNext(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSkipPrevious(w http.ResponseWriter, _ *http.Request) {
	if err := a.engine.SkipPrevious(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PositionTicks int64 `json:"position_ticks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.engine.Seek(req.PositionTicks); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGetState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.State())
}

func (a *API) handleGetPosition(w http.ResponseWriter, _ *http.Request) {
	pos, ok := a.engine.Position()
	if !ok {
		writeError(w, http.StatusNotFound, "no current passage")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (a *API) handleGetBuffers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"buffers": a.engine.Buffers()})
}

func (a *API) handleSetVolume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Volume float64 `json:"volume"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.engine.SetVolume(req.Volume); err != nil {
		a.logger.Error().Err(err).Msg("set volume failed")
		writeError(w, http.StatusInternalServerError, "persist volume failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGetVolume(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]float64{"volume": a.engine.Volume()})
}

func (a *API) handleGetDevices(w http.ResponseWriter, _ *http.Request) {
	devices, err := a.engine.Devices()
	if err != nil {
		a.logger.Error().Err(err).Msg("device enumeration failed")
		writeError(w, http.StatusInternalServerError, "device enumeration failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

func (a *API) handleSetDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"device_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.engine.SetDevice(req.DeviceID); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	if a.logBuf == nil {
		writeJSON(w, http.StatusOK, map[string]any{"entries": []any{}})
		return
	}

	params := logbuffer.QueryParams{
		Level:     r.URL.Query().Get("level"),
		Component: r.URL.Query().Get("component"),
		Contains:  r.URL.Query().Get("contains"),
		Limit:     200,
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": a.logBuf.Query(params)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Package api provides HTTP handlers for GiftFlow endpoints.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ModalMetrics/GiftFlow/internal/flow"
	"github.com/ModalMetrics/GiftFlow/internal/messaging"
	"github.com/ModalMetrics/GiftFlow/internal/models"
	"github.com/ModalMetrics/GiftFlow/internal/util"
)

// Cookie names. The device cookie persists across visits so repeat visits
// land in the same experimental condition; the session cookie lives for
// the browser session.
const (
	deviceCookieName  = "giftflow_device"
	sessionCookieName = "giftflow_session"

	deviceCookieMaxAge = 365 * 24 * 60 * 60 // seconds
)

// startResult is the payload returned when a session starts.
type startResult struct {
	Snapshot models.SessionSnapshot `json:"snapshot"`
	// CleanURL is the page URL with condition override tokens stripped,
	// for history.replaceState on the client.
	CleanURL        string `json:"clean_url,omitempty"`
	ConditionSource string `json:"condition_source"`
}

// answerResult is the payload returned for an answer event. Matched is
// false when a freeform utterance did not resolve to a value; the step is
// left untouched and the participant simply retries.
type answerResult struct {
	Matched  bool                   `json:"matched"`
	Value    string                 `json:"value,omitempty"`
	Snapshot models.SessionSnapshot `json:"snapshot"`
}

// statusForError maps session and validation errors onto HTTP status codes.
// Malformed input is a 400; input that is well-formed but not allowed in
// the session's current state is a 409.
func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrUnknownStep),
		errors.Is(err, models.ErrMissingStepID),
		errors.Is(err, models.ErrMissingAnswerValue),
		errors.Is(err, models.ErrMissingUtterance),
		errors.Is(err, models.ErrAnswerTooLong),
		errors.Is(err, models.ErrUtteranceTooLong),
		errors.Is(err, models.ErrInvalidModality),
		errors.Is(err, models.ErrInvalidCondition),
		errors.Is(err, models.ErrSurveyFieldMissing),
		errors.Is(err, models.ErrSurveyFieldRange):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotCurrentStep),
		errors.Is(err, models.ErrStepIncomplete),
		errors.Is(err, models.ErrAtFirstStep),
		errors.Is(err, models.ErrCheckoutComplete),
		errors.Is(err, models.ErrCheckoutIncomplete),
		errors.Is(err, models.ErrManualInputLocked),
		errors.Is(err, models.ErrModalityMismatch),
		errors.Is(err, models.ErrModalityFixed),
		errors.Is(err, models.ErrAlreadySubmitted):
		return http.StatusConflict
	case errors.Is(err, models.ErrSessionNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ensureDeviceID returns the request's device identity, minting and
// setting a new cookie when the browser has none yet.
func (s *Server) ensureDeviceID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(deviceCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	id := util.GenerateDeviceID()
	http.SetCookie(w, &http.Cookie{
		Name:     deviceCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   deviceCookieMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	slog.Debug("Server.ensureDeviceID: new device", "deviceID", id)
	return id
}

// sessionEntry resolves the request's session cookie to a registry entry,
// or nil when the browser has no live session.
func (s *Server) sessionEntry(r *http.Request) *sessionEntry {
	c, err := r.Cookie(sessionCookieName)
	if err != nil || c.Value == "" {
		return nil
	}
	return s.registry.get(c.Value)
}

// mutateSession runs fn against the request's session under its lock and,
// on success, responds with the post-mutation snapshot and broadcasts it
// to stream watchers.
func (s *Server) mutateSession(w http.ResponseWriter, r *http.Request, name string, fn func(sess *flow.Session) error) {
	entry := s.sessionEntry(r)
	if entry == nil {
		slog.Warn(name + ": no active session")
		writeJSONResponse(w, http.StatusNotFound, models.Error("No active session"))
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.touch()
	if err := fn(entry.session); err != nil {
		slog.Warn(name+": rejected", "sessionID", entry.session.ID, "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	snap := entry.session.Snapshot()
	entry.broadcast(snap)
	writeJSONResponse(w, http.StatusOK, models.Success(snap))
}

// sessionHandler starts a session (POST) or returns the current snapshot (GET).
func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.startSessionHandler(w, r)
	case http.MethodGet:
		s.snapshotHandler(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		slog.Warn("Server.sessionHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// startSessionHandler resolves the device's condition and opens a fresh
// session on the first checkout step. Starting again replaces the
// browser's previous session.
func (s *Server) startSessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.startSessionHandler: processing session start", "path", r.URL.Path)
	var req models.StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		slog.Warn("Server.startSessionHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	deviceID := s.ensureDeviceID(w, r)
	res := s.resolver.Resolve(deviceID, req.PageURL)

	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		s.registry.remove(c.Value)
	}

	sessionID := util.GenerateSessionID()
	sess := flow.NewSession(sessionID, deviceID, res.Condition, s.tables)
	if req.VoiceSupported != nil {
		sess.SetVoiceSupported(*req.VoiceSupported)
	}
	entry := s.registry.put(sessionID, sess)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	entry.mu.Lock()
	snap := entry.session.Snapshot()
	entry.mu.Unlock()

	slog.Info("Server.startSessionHandler: session started", "sessionID", sessionID, "deviceID", deviceID, "condition", res.Condition, "source", res.Source)
	writeJSONResponse(w, http.StatusCreated, models.Success(startResult{
		Snapshot:        snap,
		CleanURL:        res.CleanURL,
		ConditionSource: res.Source,
	}))
}

// snapshotHandler returns the current render state (GET /session).
func (s *Server) snapshotHandler(w http.ResponseWriter, r *http.Request) {
	entry := s.sessionEntry(r)
	if entry == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("No active session"))
		return
	}
	entry.mu.Lock()
	entry.touch()
	snap := entry.session.Snapshot()
	entry.mu.Unlock()
	writeJSONResponse(w, http.StatusOK, models.Success(snap))
}

// answerHandler records an answer event for the current step
// (POST /session/answer). Standard input carries a step ID and value;
// voice and chat carry an utterance that is matched against the step.
func (s *Server) answerHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.answerHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req models.AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.answerHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	// Default to standard input if not specified
	if req.Source == "" {
		req.Source = models.ModalityStandard
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.answerHandler: validation failed", "error", err, "source", req.Source)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	entry := s.sessionEntry(r)
	if entry == nil {
		slog.Warn("Server.answerHandler: no active session")
		writeJSONResponse(w, http.StatusNotFound, models.Error("No active session"))
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.touch()

	var result answerResult
	switch req.Source {
	case models.ModalityStandard:
		if err := entry.session.Answer(req.StepID, req.Value); err != nil {
			slog.Warn("Server.answerHandler: answer rejected", "sessionID", entry.session.ID, "step", req.StepID, "error", err)
			writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
			return
		}
		result.Matched = true
		result.Value = req.Value
	default:
		value, matched, err := entry.session.Freeform(req.Utterance, req.Source)
		if err != nil {
			slog.Warn("Server.answerHandler: freeform rejected", "sessionID", entry.session.ID, "source", req.Source, "error", err)
			writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
			return
		}
		result.Matched = matched
		result.Value = value
	}

	snap := entry.session.Snapshot()
	result.Snapshot = snap
	if result.Matched {
		entry.broadcast(snap)
	}
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// nextHandler advances past the current step (POST /session/next).
func (s *Server) nextHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.nextHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	slog.Debug("Server.nextHandler: processing forward navigation")
	s.mutateSession(w, r, "Server.nextHandler", func(sess *flow.Session) error {
		_, err := sess.Next()
		return err
	})
}

// backHandler returns to the previous step (POST /session/back).
func (s *Server) backHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.backHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	slog.Debug("Server.backHandler: processing backward navigation")
	s.mutateSession(w, r, "Server.backHandler", func(sess *flow.Session) error {
		return sess.Back()
	})
}

// modalityHandler switches the session modality (POST /session/modality).
// Only Condition B exposes the switcher.
func (s *Server) modalityHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.modalityHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req models.ModalityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.modalityHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	slog.Debug("Server.modalityHandler: processing modality switch", "modality", req.Modality)
	s.mutateSession(w, r, "Server.modalityHandler", func(sess *flow.Session) error {
		return sess.SwitchModality(req.Modality)
	})
}

// capabilityHandler records a client capability change, e.g. speech
// recognition turning out to be unavailable (POST /session/capability).
func (s *Server) capabilityHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.capabilityHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req models.CapabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.capabilityHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.VoiceSupported == nil {
		slog.Warn("Server.capabilityHandler: missing voice_supported")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: voice_supported"))
		return
	}
	slog.Debug("Server.capabilityHandler: processing capability report", "voiceSupported", *req.VoiceSupported)
	s.mutateSession(w, r, "Server.capabilityHandler", func(sess *flow.Session) error {
		sess.SetVoiceSupported(*req.VoiceSupported)
		return nil
	})
}

// surveyHandler validates and submits the post-task survey, writing the
// study completion record (POST /session/survey). A failed datastore
// write leaves the session retryable; a successful one freezes it.
func (s *Server) surveyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.surveyHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	slog.Debug("Server.surveyHandler: processing survey submission")
	var sv models.SurveyAnswers
	if err := json.NewDecoder(r.Body).Decode(&sv); err != nil {
		slog.Warn("Server.surveyHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	entry := s.sessionEntry(r)
	if entry == nil {
		slog.Warn("Server.surveyHandler: no active session")
		writeJSONResponse(w, http.StatusNotFound, models.Error("No active session"))
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.touch()

	if err := entry.session.SubmitSurvey(sv, s.st); err != nil {
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			// Datastore write failed; survey answers are retained and the
			// client may retry the submission.
			status = http.StatusBadGateway
		}
		slog.Warn("Server.surveyHandler: submission failed", "sessionID", entry.session.ID, "error", err)
		writeJSONResponse(w, status, models.Error(err.Error()))
		return
	}

	snap := entry.session.Snapshot()
	entry.broadcast(snap)
	slog.Info("Server.surveyHandler: study completed", "sessionID", entry.session.ID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Study completed", snap))
}

// invitationsHandler sends a study invitation (POST) or lists the
// recruitment log (GET).
func (s *Server) invitationsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.sendInvitationHandler(w, r)
	case http.MethodGet:
		s.listInvitationsHandler(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		slog.Warn("Server.invitationsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) sendInvitationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.sendInvitationHandler: processing invitation request")
	var req models.InvitationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.sendInvitationHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	inv, err := s.msgService.SendInvitation(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, messaging.ErrChannelNotConfigured):
			slog.Warn("Server.sendInvitationHandler: channel not configured", "channel", req.Channel)
			writeJSONResponse(w, http.StatusServiceUnavailable, models.Error(err.Error()))
		case errors.Is(err, messaging.ErrDeliveryFailed):
			slog.Error("Server.sendInvitationHandler: delivery failed", "error", err)
			writeJSONResponse(w, http.StatusBadGateway, models.Error(err.Error()))
		default:
			slog.Warn("Server.sendInvitationHandler: invalid request", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		}
		return
	}

	slog.Info("Server.sendInvitationHandler: invitation sent", "id", inv.ID, "channel", inv.Channel)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Invitation sent", inv))
}

func (s *Server) listInvitationsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.listInvitationsHandler: fetching invitation log")
	invitations, err := s.msgService.Invitations()
	if err != nil {
		slog.Error("Server.listInvitationsHandler: failed to fetch invitations", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch invitations"))
		return
	}
	slog.Debug("Server.listInvitationsHandler: invitations fetched", "count", len(invitations))
	writeJSONResponse(w, http.StatusOK, models.Success(invitations))
}

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	healthData := map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"active_sessions": s.registry.count(),
	}

	// Cheap point lookup to confirm the datastore is reachable
	if _, err := s.st.GetConditionAssignment("healthcheck"); err != nil {
		slog.Warn("Health check: store probe failed", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = "Failed to reach the datastore"
	}

	statusCode := http.StatusOK
	if healthData["status"] == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSONResponse(w, statusCode, healthData)
}

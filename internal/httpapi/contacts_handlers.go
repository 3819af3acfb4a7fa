package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"quotewell.org/internal/audit"
	"quotewell.org/internal/auth"
	"quotewell.org/internal/contacts"
	"quotewell.org/internal/obs"
	"quotewell.org/internal/usage"
)

type trackRequest struct {
	OrganizationID uint64            `json:"organization_id"`
	AgentID        uint64            `json:"agent_id"`
	Identity       contacts.Identity `json:"identity"`
}

type trackBatchRequest struct {
	OrganizationID uint64              `json:"organization_id"`
	AgentID        uint64              `json:"agent_id"`
	Identities     []contacts.Identity `json:"identities"`
}

type resetRequest struct {
	OrganizationID uint64 `json:"organization_id"`
	Email          string `json:"email"`
	Reason         string `json:"reason"`
}

func (a *API) handleTrack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req trackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.contacts.Track(r.Context(), req.OrganizationID, req.AgentID, req.Identity)
	obs.ObserveTrack(res.IsNew, err)
	if err != nil {
		handleContactsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleTrackBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req trackBatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Identities) == 0 {
		writeError(w, r, http.StatusBadRequest, "identities are required")
		return
	}
	obs.ObserveBatch(len(req.Identities))

	res, err := a.contacts.TrackBatch(r.Context(), req.OrganizationID, req.AgentID, req.Identities)
	if err != nil {
		handleContactsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		writeError(w, r, http.StatusBadRequest, "reason is required")
		return
	}

	actor, _ := auth.ActorIDFromContext(r.Context())
	ok, err := a.contacts.Reset(r.Context(), req.OrganizationID, req.Email, req.Reason, actor)
	if err != nil {
		handleContactsError(w, r, err)
		return
	}
	if ok {
		obs.ObserveReset()
		_ = audit.LogEvent(r.Context(), "contacts.reset", map[string]any{
			"organization_id": req.OrganizationID,
			"email":           contacts.NormalizeEmail(req.Email),
			"reason":          req.Reason,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"reset": ok})
}

func (a *API) handleListContacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	orgID, err := strconv.ParseUint(r.URL.Query().Get("organization_id"), 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "organization_id must be an unsigned integer")
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	list, err := a.contacts.ListContacts(r.Context(), orgID, limit)
	if err != nil {
		handleContactsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": list})
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleContactsError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, contacts.ErrInvalidIdentity):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, contacts.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, usage.ErrOrganizationNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, contacts.ErrStorageUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

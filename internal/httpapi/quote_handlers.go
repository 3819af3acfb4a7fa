package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"quotewell.org/internal/audit"
	"quotewell.org/internal/obs"
)

type mintQuoteLinkRequest struct {
	OrganizationID uint64 `json:"organization_id"`
	ContactID      uint64 `json:"contact_id"`
}

type quoteLinkResponse struct {
	Token          string `json:"token"`
	OrganizationID uint64 `json:"organization_id"`
	ContactID      uint64 `json:"contact_id"`
}

func (a *API) handleMintQuoteLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req mintQuoteLinkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	// The contact must exist before a link can reference it.
	if _, err := a.contacts.GetContact(r.Context(), req.OrganizationID, req.ContactID); err != nil {
		handleContactsError(w, r, err)
		return
	}

	token := a.codec.Encode(req.OrganizationID, req.ContactID)
	_ = audit.LogEvent(r.Context(), "quotelink.minted", map[string]any{
		"organization_id": req.OrganizationID,
		"contact_id":      req.ContactID,
	})
	writeJSON(w, http.StatusOK, quoteLinkResponse{
		Token:          token,
		OrganizationID: req.OrganizationID,
		ContactID:      req.ContactID,
	})
}

// handleResolveQuoteLink serves the unauthenticated side: a shopper's browser
// presents the token from a quote link and gets back the identity it carries.
func (a *API) handleResolveQuoteLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	token := strings.TrimPrefix(r.URL.Path, "/v1/quote-links/")
	if token == "" || strings.Contains(token, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	orgID, contactID, err := a.codec.Decode(token)
	if err != nil {
		obs.ObserveTokenDecodeFailure()
		writeError(w, r, http.StatusBadRequest, "invalid quote token")
		return
	}
	contact, err := a.contacts.GetContact(r.Context(), orgID, contactID)
	if err != nil {
		handleContactsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"organization_id": orgID,
		"contact":         contact,
	})
}

func (a *API) handleUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	raw := strings.TrimPrefix(r.URL.Path, "/v1/usage/")
	if raw == "" || strings.Contains(raw, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	orgID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "organization id must be an unsigned integer")
		return
	}

	stats, err := a.reporter.Stats(r.Context(), orgID)
	if err != nil {
		handleContactsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

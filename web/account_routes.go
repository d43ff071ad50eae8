package web

import (
	"fmt"
	"github.com/relaydesk/taskrelay/custom_errors"
	"net/http"
	"net/mail"
	"strings"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

const minPasswordLength = 8

func (c credentials) validate() error {
	validationErrs := &custom_errors.ValidationError{}
	if _, err := mail.ParseAddress(c.Email); err != nil {
		validationErrs.Add(fmt.Errorf("invalid email %q", c.Email))
	}
	if len(c.Password) < minPasswordLength {
		validationErrs.Add(fmt.Errorf("password must be at least %d characters", minPasswordLength))
	}
	if validationErrs.HasError() {
		return validationErrs
	}
	return nil
}

// handleRegister creates an account and returns its worker API key. The key is only
// ever shown here.
func (handler *HttpRouteHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := decodeJSON(w, r, &creds); err != nil {
		writeError(w, err)
		return
	}
	creds.Email = strings.ToLower(strings.TrimSpace(creds.Email))
	if err := creds.validate(); err != nil {
		writeError(w, err)
		return
	}

	apiKey, err := newAPIKey()
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := handler.users.Create(r.Context(), creds.Email, creds.Password, apiKey)
	if err != nil {
		writeError(w, err)
		return
	}

	setAuthCookie(w, id, handler.secretKey)
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":      id,
		"email":   creds.Email,
		"api_key": apiKey,
	})
}

func (handler *HttpRouteHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := decodeJSON(w, r, &creds); err != nil {
		writeError(w, err)
		return
	}

	user, err := handler.users.Find(r.Context(), strings.ToLower(strings.TrimSpace(creds.Email)), creds.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	if user == nil {
		writeError(w, custom_errors.ErrUnauthorized)
		return
	}

	setAuthCookie(w, user.ID, handler.secretKey)
	writeJSON(w, http.StatusOK, map[string]any{"id": user.ID, "email": user.Email})
}

func (handler *HttpRouteHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	clearAuthCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

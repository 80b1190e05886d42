package httpapi

import (
	"net/http"
	"strings"

	"affidblock.io/internal/audit"
	"affidblock.io/internal/identity"
)

type registerPayload struct {
	Email         string   `json:"email" validate:"required,email"`
	Password      string   `json:"password" validate:"required,min=8"`
	Name          string   `json:"name" validate:"required,max=200"`
	CNIC          string   `json:"cnic" validate:"required,max=32"`
	WalletAddress string   `json:"wallet_address" validate:"omitempty,max=64"`
	Roles         []string `json:"roles" validate:"required,min=1,dive,oneof=issuer seller buyer witness"`
}

type loginPayload struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token string         `json:"token"`
	User  *identity.User `json:"user"`
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var p registerPayload
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.validate.Struct(p); err != nil {
		writeError(w, r, http.StatusBadRequest, validationMessage(err))
		return
	}

	u, err := a.users.Register(r.Context(), identity.RegisterInput{
		Email:         p.Email,
		Password:      p.Password,
		Name:          p.Name,
		CNIC:          p.CNIC,
		WalletAddress: p.WalletAddress,
		Roles:         p.Roles,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), audit.EventUserRegister, map[string]any{
		"user_id": u.ID,
		"roles":   u.Roles,
	})
	writeJSON(w, http.StatusCreated, u)
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var p loginPayload
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.validate.Struct(p); err != nil {
		writeError(w, r, http.StatusBadRequest, validationMessage(err))
		return
	}

	u, token, err := a.users.Login(r.Context(), p.Email, p.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), audit.EventUserLogin, map[string]any{
		"user_id": u.ID,
	})
	writeJSON(w, http.StatusOK, loginResponse{Token: token, User: u})
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	callerID, ok := a.callerID(w, r)
	if !ok {
		return
	}
	u, err := a.users.Get(r.Context(), callerID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type walletPayload struct {
	WalletAddress string `json:"wallet_address" validate:"required,max=64"`
}

func (a *API) connectWallet(w http.ResponseWriter, r *http.Request) {
	callerID, ok := a.callerID(w, r)
	if !ok {
		return
	}
	var p walletPayload
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.validate.Struct(p); err != nil {
		writeError(w, r, http.StatusBadRequest, validationMessage(err))
		return
	}

	u, err := a.users.ConnectWallet(r.Context(), callerID, p.WalletAddress)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), audit.EventWalletConnect, map[string]any{
		"user_id": u.ID,
	})
	writeJSON(w, http.StatusOK, u)
}

// listUsers answers "who can I nominate": users carrying the requested
// role, e.g. ?role=issuer or ?role=witness.
func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	role := strings.TrimSpace(r.URL.Query().Get("role"))
	if role == "" {
		writeError(w, r, http.StatusBadRequest, "role query parameter is required")
		return
	}
	users, err := a.users.ListByRole(r.Context(), role)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": users})
}

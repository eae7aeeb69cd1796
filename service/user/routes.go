package user

import (
	"encoding/json"
	"net/http"

	"github.com/Iemontine/microblog/apperr"
	"github.com/Iemontine/microblog/cmd/utils"
	"github.com/gorilla/mux"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes sets up all account-related routes
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/me", utils.AuthMiddleware(h.GetMe)).Methods("GET")
	router.HandleFunc("/profile", utils.AuthMiddleware(h.GetOwnProfile)).Methods("GET")
	router.HandleFunc("/profile/username", utils.AuthMiddleware(h.UpdateUsername)).Methods("PUT")
	router.HandleFunc("/users/{username}", h.GetProfile).Methods("GET")
}

// GetMe returns the signed-in account.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	account, err := h.svc.FindAccount(r.Context(), userID)
	if err != nil {
		utils.WriteError(w, signedInLookup(err))
		return
	}
	utils.WriteJSON(w, http.StatusOK, account)
}

// GetOwnProfile lists the signed-in account's posts.
func (h *Handler) GetOwnProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	account, err := h.svc.FindAccount(r.Context(), userID)
	if err != nil {
		utils.WriteError(w, signedInLookup(err))
		return
	}

	profile, err := h.svc.Profile(r.Context(), account.Username)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, profile)
}

// GetProfile lists any account's posts by username.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.svc.Profile(r.Context(), mux.Vars(r)["username"])
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, profile)
}

// UpdateUsername renames the signed-in account.
func (h *Handler) UpdateUsername(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	var request struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		utils.WriteError(w, apperr.Wrap(apperr.Invalid, err, "invalid request body"))
		return
	}

	account, err := h.svc.RenameAccount(r.Context(), userID, request.Username)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, account)
}

// A session whose account no longer exists is treated as signed out.
func signedInLookup(err error) error {
	if apperr.Is(err, apperr.NotFound) {
		return apperr.Wrap(apperr.Unauthenticated, err, "sign in required")
	}
	return err
}

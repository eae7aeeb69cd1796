package auth

import (
	"encoding/json"
	"log"
	"net/http"
	"os"

	"github.com/Iemontine/microblog/apperr"
	"github.com/Iemontine/microblog/cmd/models"
	"github.com/Iemontine/microblog/cmd/utils"
	"github.com/Iemontine/microblog/service/user"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

var logger = log.New(os.Stdout, "Auth: ", log.Ldate|log.Ltime|log.Lshortfile)

type Handler struct {
	sessions *utils.SessionManager
	provider Provider
	users    *user.Service
}

func NewHandler(sessions *utils.SessionManager, provider Provider, users *user.Service) *Handler {
	return &Handler{sessions: sessions, provider: provider, users: users}
}

// RegisterRoutes sets up the login and registration round-trip.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/register", h.BeginRegister).Methods("POST")
	router.HandleFunc("/register/complete", h.CompleteRegister).Methods("POST")
	router.HandleFunc("/login", h.BeginLogin).Methods("POST")
	router.HandleFunc("/auth/google/callback", h.Callback).Methods("GET")
	router.HandleFunc("/logout", h.Logout).Methods("POST")
}

type usernameRequest struct {
	Username string `json:"username"`
}

// BeginRegister records the chosen username and sends the visitor to the
// identity provider.
func (h *Handler) BeginRegister(w http.ResponseWriter, r *http.Request) {
	var request usernameRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		utils.WriteError(w, apperr.Wrap(apperr.Invalid, err, "invalid request body"))
		return
	}

	username, err := user.ValidateUsername(request.Username)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	taken, err := h.users.UsernameTaken(r.Context(), username)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	if taken {
		utils.WriteError(w, apperr.New(apperr.Conflict, "username %q is already taken", username))
		return
	}

	h.handOff(w, r, models.IntentRegister, username)
}

// BeginLogin sends the visitor to the identity provider.
func (h *Handler) BeginLogin(w http.ResponseWriter, r *http.Request) {
	h.handOff(w, r, models.IntentLogin, "")
}

func (h *Handler) handOff(w http.ResponseWriter, r *http.Request, intent models.Intent, username string) {
	state := uuid.NewString()
	sess := utils.SessionFromContext(r.Context())
	sess.Registration = models.AwaitProvider(intent, username, state)
	if err := h.sessions.Save(w, sess); err != nil {
		utils.WriteError(w, err)
		return
	}
	http.Redirect(w, r, h.provider.AuthCodeURL(state), http.StatusSeeOther)
}

// Callback receives the provider's redirect, exchanges the code and either
// signs the visitor in or asks for a username.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	sess := utils.SessionFromContext(r.Context())
	reg := sess.Registration
	query := r.URL.Query()

	if err := reg.CheckCallback(query.Get("state")); err != nil {
		h.abandon(w, sess, apperr.Wrap(apperr.Invalid, err, "sign-in attempt expired, please start again"))
		return
	}
	if reason := query.Get("error"); reason != "" {
		h.abandon(w, sess, apperr.New(apperr.UpstreamProvider, "identity provider refused: %s", reason))
		return
	}

	profile, err := h.provider.Exchange(r.Context(), query.Get("code"))
	if err != nil {
		if !apperr.Is(err, apperr.UpstreamProvider) {
			err = apperr.Wrap(apperr.UpstreamProvider, err, "identity exchange failed")
		}
		h.abandon(w, sess, err)
		return
	}

	hash := HashIdentity(profile.Subject)
	account, err := h.users.FindAccountByIdentityHash(r.Context(), hash)
	switch {
	case err == nil:
		found, err := reg.Found()
		if err != nil {
			h.abandon(w, sess, err)
			return
		}
		if _, err := h.users.EnsureAvatar(r.Context(), account); err != nil {
			logger.Printf("Avatar for %q not generated: %v", account.Username, err)
		}
		sess.Authenticated(account.ID, found)
		if err := h.sessions.Save(w, sess); err != nil {
			utils.WriteError(w, err)
			return
		}
		logger.Printf("Account %d signed in", account.ID)
		utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"status":  models.OutcomeFound,
			"account": account,
		})

	case apperr.Is(err, apperr.NotFound):
		waiting, err := reg.NeedUsername(models.ProviderDraft{
			IdentityKeyHash: hash,
			Name:            profile.Name,
			Email:           profile.Email,
		})
		if err != nil {
			h.abandon(w, sess, err)
			return
		}
		if waiting.Username() != "" {
			h.complete(w, r, sess, waiting, waiting.Username())
			return
		}
		sess.Registration = waiting
		if err := h.sessions.Save(w, sess); err != nil {
			utils.WriteError(w, err)
			return
		}
		utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"status":         "username_required",
			"suggested_name": profile.Name,
		})

	default:
		h.abandon(w, sess, err)
	}
}

// CompleteRegister creates the account once the visitor has picked a
// username. It needs provider data parked by Callback.
func (h *Handler) CompleteRegister(w http.ResponseWriter, r *http.Request) {
	sess := utils.SessionFromContext(r.Context())
	if sess.Registration.Phase() != models.PhaseAwaitingUsername {
		utils.WriteError(w, apperr.New(apperr.Invalid, "no registration in progress, sign in with Google first"))
		return
	}

	var request usernameRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		utils.WriteError(w, apperr.Wrap(apperr.Invalid, err, "invalid request body"))
		return
	}

	h.complete(w, r, sess, sess.Registration, request.Username)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request, sess *utils.Session, reg models.Registration, username string) {
	draft, ok := reg.Draft()
	if !ok {
		utils.WriteError(w, apperr.New(apperr.Invalid, "no registration in progress"))
		return
	}

	account, err := h.users.CreateAccount(r.Context(), username, draft.IdentityKeyHash, draft.Email)
	if err != nil {
		// A bad or taken username keeps the draft so the visitor can retry.
		// Anything else ends the attempt.
		if !apperr.Is(err, apperr.Conflict) && !apperr.Is(err, apperr.Invalid) {
			h.abandon(w, sess, err)
			return
		}
		rejected, rerr := reg.Rejected(apperr.Message(err))
		if rerr != nil {
			h.abandon(w, sess, err)
			return
		}
		sess.Registration = rejected
		if serr := h.sessions.Save(w, sess); serr != nil {
			logger.Printf("Saving rejected registration failed: %v", serr)
		}
		utils.WriteError(w, err)
		return
	}

	created, err := reg.Created()
	if err != nil {
		h.abandon(w, sess, err)
		return
	}
	sess.Authenticated(account.ID, created)
	if err := h.sessions.Save(w, sess); err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"status":  models.OutcomeCreated,
		"account": account,
	})
}

// abandon drops the attempt back to idle. The signed-in account, if any, is
// left untouched.
func (h *Handler) abandon(w http.ResponseWriter, sess *utils.Session, cause error) {
	logger.Printf("Sign-in attempt abandoned: %v", cause)
	sess.Registration = models.Idle()
	if err := h.sessions.Save(w, sess); err != nil {
		logger.Printf("Resetting registration failed: %v", err)
	}
	utils.WriteError(w, cause)
}

// Logout clears the session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear(w)
	utils.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Logged out",
	})
}

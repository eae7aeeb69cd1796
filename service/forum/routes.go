package forum

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Iemontine/microblog/apperr"
	"github.com/Iemontine/microblog/cmd/models"
	"github.com/Iemontine/microblog/cmd/utils"
	"github.com/gorilla/mux"
)

type PostHandler struct {
	svc *Service
}

func NewPostHandler(svc *Service) *PostHandler {
	return &PostHandler{svc: svc}
}

func (h *PostHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/tags", h.GetTags).Methods("GET")

	router.HandleFunc("/posts", utils.AuthMiddleware(h.CreatePost)).Methods("POST")
	router.HandleFunc("/posts", h.GetPosts).Methods("GET")
	router.HandleFunc("/posts/{id}", h.GetPost).Methods("GET")
	router.HandleFunc("/posts/{id}", utils.AuthMiddleware(h.DeletePost)).Methods("DELETE")

	// Unknown posts report NotFound before a missing session is reported.
	router.HandleFunc("/posts/{id}/like", h.LikePost).Methods("POST")
}

// GetTags returns the tags offered by the post form.
func (h *PostHandler) GetTags(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, models.SuggestedTags)
}

// CreatePost creates a new post from a multipart form with an optional image.
func (h *PostHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, utils.MaxImageSize+(1<<20))
	if err := r.ParseMultipartForm(utils.MaxImageSize); err != nil {
		utils.WriteError(w, apperr.Wrap(apperr.Invalid, err, "error parsing form"))
		return
	}

	in := PostInput{
		Title:   r.FormValue("title"),
		Content: r.FormValue("content"),
		Tag:     r.FormValue("tag"),
	}

	file, header, err := r.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()
		in.Image = file
		in.ImageHeader = header
	case errors.Is(err, http.ErrMissingFile):
	default:
		utils.WriteError(w, apperr.Wrap(apperr.Invalid, err, "error reading image"))
		return
	}

	post, err := h.svc.CreatePost(r.Context(), userID, in)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, post)
}

// GetPosts lists one page of the feed.
func (h *PostHandler) GetPosts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page := 1
	if v := query.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			utils.WriteError(w, apperr.New(apperr.Invalid, "invalid page %q", v))
			return
		}
		page = n
	}

	posts, err := h.svc.ListPosts(r.Context(), query.Get("sort"), query.Get("tag"), page)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"posts":     posts,
		"page":      page,
		"page_size": PageSize,
	})
}

type postView struct {
	*models.Post
	Liked bool `json:"liked"`
}

// GetPost returns a post and whether the viewer likes it.
func (h *PostHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	postID, err := postIDFromRequest(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	post, err := h.svc.GetPost(r.Context(), postID)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	userID, _ := utils.GetUserIDFromContext(r.Context())
	liked, err := h.svc.HasLiked(r.Context(), userID, postID)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, postView{Post: post, Liked: liked})
}

// LikePost toggles the viewer's like.
func (h *PostHandler) LikePost(w http.ResponseWriter, r *http.Request) {
	postID, err := postIDFromRequest(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	userID, _ := utils.GetUserIDFromContext(r.Context())

	post, liked, err := h.svc.ToggleLike(r.Context(), userID, postID)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, postView{Post: post, Liked: liked})
}

// DeletePost removes one of the viewer's own posts.
func (h *PostHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	postID, err := postIDFromRequest(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	if err := h.svc.DeletePost(r.Context(), userID, postID); err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Post deleted successfully",
	})
}

func postIDFromRequest(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.New(apperr.Invalid, "invalid post id")
	}
	return uint(id), nil
}

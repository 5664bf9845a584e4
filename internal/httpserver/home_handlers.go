package httpserver

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/a-h/templ"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"finitefield.org/bookfinder/internal/catalog"
	"finitefield.org/bookfinder/internal/gate"
	custommw "finitefield.org/bookfinder/internal/httpserver/middleware"
	"finitefield.org/bookfinder/internal/live"
	"finitefield.org/bookfinder/internal/platform/observability"
	hometmpl "finitefield.org/bookfinder/internal/templates/home"
)

type homeHandlers struct {
	screens *screenFactory
	hub     *live.Hub
}

// Home renders the Home screen, running a search when ?genre= is set.
func (h *homeHandlers) Home(w http.ResponseWriter, r *http.Request) {
	screen, ok := h.open(w, r)
	if !ok {
		return
	}
	defer screen.Close()

	screen.Search(r.Context(), r.URL.Query().Get("genre"))
	data := pageData(r, screen)
	data.Tab = ulid.Make().String()
	templ.Handler(hometmpl.Page(data)).ServeHTTP(w, r)
}

// Books renders only the result grid for htmx searches. A search overtaken
// by a newer one from the same tab answers 204 so htmx leaves the page alone.
func (h *homeHandlers) Books(w http.ResponseWriter, r *http.Request) {
	screen, ok := h.open(w, r)
	if !ok {
		return
	}
	defer screen.Close()

	if screen.Search(r.Context(), r.URL.Query().Get("genre")) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	templ.Handler(hometmpl.Results(pageData(r, screen))).ServeHTTP(w, r)
}

// AddToWishlist saves the posted book and answers with the wishlist
// fragment, or redirects home for plain form posts.
func (h *homeHandlers) AddToWishlist(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	screen, ok := h.open(w, r)
	if !ok {
		return
	}
	defer screen.Close()

	screen.AddToWishlist(r.Context(), bookFromForm(r))

	if custommw.IsHTMXRequest(r.Context()) {
		templ.Handler(hometmpl.Wishlist(pageData(r, screen))).ServeHTTP(w, r)
		return
	}
	custommw.Redirect(w, r, "/")
}

// Logout signs the session's identity out. On success the session cookie is
// discarded along with its CSRF token and other tabs are told to leave; the
// client goes to the login route. On failure nothing changes and the client
// returns home.
func (h *homeHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	screen, ok := h.open(w, r)
	if !ok {
		return
	}
	defer screen.Close()

	user := screen.Identity()
	if err := screen.SignOut(r.Context()); err != nil {
		custommw.Redirect(w, r, "/")
		return
	}

	if screen.session != nil {
		screen.session.Destroy()
	}
	target := screen.Redirect()
	if target == "" {
		target = gate.LoginRoute
	}
	if user != nil && h.hub != nil {
		n := h.hub.SignedOut(r.Context(), user.UID, target)
		observability.FromContext(r.Context()).Info("signed out",
			zap.String("uid", user.UID),
			zap.Int("tabs_notified", n),
		)
	}
	custommw.Redirect(w, r, target)
}

// open mounts the screen and handles the gate's redirect. It reports false
// when the response has already been written.
func (h *homeHandlers) open(w http.ResponseWriter, r *http.Request) (*mountedScreen, bool) {
	screen, err := h.screens.mount(r.Context(), r)
	if err != nil {
		observability.FromContext(r.Context()).Error("mount home screen", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return nil, false
	}
	if target := screen.Redirect(); target != "" {
		screen.Close()
		custommw.Redirect(w, r, target)
		return nil, false
	}
	return screen, true
}

func pageData(r *http.Request, screen *mountedScreen) hometmpl.PageData {
	view := screen.View()
	data := hometmpl.PageData{
		Query:     view.Query,
		Genres:    view.Genres,
		Books:     view.Books,
		Wishlist:  view.Wishlist,
		CSRFToken: custommw.CSRFTokenFromContext(r.Context()),
	}
	if view.User != nil {
		data.Email = view.User.Email
	}
	return data
}

func bookFromForm(r *http.Request) catalog.Book {
	id, _ := strconv.Atoi(strings.TrimSpace(r.PostFormValue("id")))
	image := strings.TrimSpace(r.PostFormValue("image"))
	if image == "" {
		image = catalog.DefaultImage
	}
	return catalog.Book{
		ID:       id,
		Title:    strings.TrimSpace(r.PostFormValue("title")),
		Author:   strings.TrimSpace(r.PostFormValue("author")),
		ImageURL: image,
	}
}

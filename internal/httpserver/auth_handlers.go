package httpserver

import (
	"net/http"
	"strings"

	"github.com/a-h/templ"
	"go.uber.org/zap"

	custommw "finitefield.org/bookfinder/internal/httpserver/middleware"
	"finitefield.org/bookfinder/internal/identity"
	"finitefield.org/bookfinder/internal/platform/observability"
	appsession "finitefield.org/bookfinder/internal/session"
	"finitefield.org/bookfinder/internal/templates/auth"
)

const (
	homePath   = "/"
	loginPath  = "/login"
	signupPath = "/signup"
)

type authHandlers struct {
	identity identity.Provider
}

func (h *authHandlers) LoginForm(w http.ResponseWriter, r *http.Request) {
	if h.isAuthenticated(r) {
		custommw.Redirect(w, r, homePath)
		return
	}
	h.render(w, r, auth.LoginPage(formData(r, "")))
}

// LoginSubmit signs in and goes home. Failures are logged and the form is
// shown again with the email kept.
func (h *authHandlers) LoginSubmit(w http.ResponseWriter, r *http.Request) {
	email, password, ok := readCredentials(w, r)
	if !ok {
		return
	}

	client := identity.NewClient(h.identity)
	user, err := client.SignIn(r.Context(), email, password)
	if err != nil {
		logAuthFailure(r, "sign in failed", err)
		h.render(w, r, auth.LoginPage(formData(r, email)))
		return
	}

	if sess, ok := custommw.SessionFromContext(r.Context()); ok {
		sess.SetIdentity(&appsession.Identity{
			UID:          user.UID,
			Email:        user.Email,
			IDToken:      user.IDToken,
			RefreshToken: user.RefreshToken,
		})
	}
	custommw.Redirect(w, r, homePath)
}

func (h *authHandlers) SignupForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, auth.SignupPage(formData(r, "")))
}

// SignupSubmit creates the account and goes to the login form.
func (h *authHandlers) SignupSubmit(w http.ResponseWriter, r *http.Request) {
	email, password, ok := readCredentials(w, r)
	if !ok {
		return
	}

	client := identity.NewClient(h.identity)
	user, err := client.CreateAccount(r.Context(), email, password)
	if err != nil {
		logAuthFailure(r, "sign up failed", err)
		h.render(w, r, auth.SignupPage(formData(r, email)))
		return
	}

	observability.FromContext(r.Context()).Info("account created", zap.String("uid", user.UID))
	custommw.Redirect(w, r, loginPath)
}

func (h *authHandlers) render(w http.ResponseWriter, r *http.Request, page templ.Component) {
	templ.Handler(page).ServeHTTP(w, r)
}

func (h *authHandlers) isAuthenticated(r *http.Request) bool {
	sess, ok := custommw.SessionFromContext(r.Context())
	if !ok {
		return false
	}
	id := sess.Identity()
	return id != nil && strings.TrimSpace(id.UID) != ""
}

func readCredentials(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return "", "", false
	}
	return strings.TrimSpace(r.PostFormValue("email")), r.PostFormValue("password"), true
}

func formData(r *http.Request, email string) auth.FormData {
	return auth.FormData{
		Email:     email,
		CSRFToken: custommw.CSRFTokenFromContext(r.Context()),
	}
}

func logAuthFailure(r *http.Request, msg string, err error) {
	observability.FromContext(r.Context()).Warn(msg,
		zap.String("code", identity.ErrorCode(err)),
		zap.String("message", identity.ErrorMessage(err)),
	)
}

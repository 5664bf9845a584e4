// Package auth renders the login and sign-up screens.
package auth

// FormData is the state of an email/password form. Provider errors are not
// shown, so there is no error field.
type FormData struct {
	Email     string
	CSRFToken string
}

type formSpec struct {
	id, title, action, submit string
	altHref, altText          string
}

var (
	loginSpec = formSpec{
		id: "login", title: "Log In", action: "/login", submit: "Log In",
		altHref: "/signup", altText: "New user? Sign up here",
	}
	signupSpec = formSpec{
		id: "signup", title: "Sign Up", action: "/signup", submit: "Sign Up",
		altHref: "/login", altText: "Log In",
	}
)

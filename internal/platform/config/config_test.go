package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if !cfg.LocalMode() {
		t.Errorf("expected local mode without a firebase project")
	}
	if cfg.Catalog.SearchEndpoint != defaultSearchEndpoint {
		t.Errorf("unexpected search endpoint: %s", cfg.Catalog.SearchEndpoint)
	}
	if cfg.Catalog.ImageHost != defaultImageHost {
		t.Errorf("unexpected image host: %s", cfg.Catalog.ImageHost)
	}
	if cfg.Firestore.WishlistCollection != "wishlist" {
		t.Errorf("unexpected wishlist collection: %s", cfg.Firestore.WishlistCollection)
	}
	if cfg.Session.CookieName != defaultSessionCookieName {
		t.Errorf("unexpected cookie name: %s", cfg.Session.CookieName)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"BOOKFINDER_SERVER_PORT":             "9090",
		"BOOKFINDER_SERVER_READ_TIMEOUT":     "20s",
		"BOOKFINDER_FIREBASE_PROJECT_ID":     "books-prod",
		"BOOKFINDER_FIREBASE_WEB_API_KEY":    "sm://firebase-web-key",
		"BOOKFINDER_SESSION_HASH_KEY":        "secret://session-hash",
		"BOOKFINDER_SESSION_COOKIE_SECURE":   "true",
		"BOOKFINDER_CATALOG_IMAGE_HOST":      "https://covers.example.com/",
		"BOOKFINDER_EVENTS_WISHLIST_TOPIC":   "wishlist-events",
		"BOOKFINDER_SECURITY_ENVIRONMENT":    "PROD",
		"BOOKFINDER_FIRESTORE_PROJECT_ID":    "",
		"BOOKFINDER_CATALOG_TIMEOUT":         "not-a-duration",
		"BOOKFINDER_SESSION_LIFETIME":        "1h",
		"BOOKFINDER_CATALOG_SEARCH_ENDPOINT": "https://search.example.com/search.json",
	}

	var resolved []string
	resolver := SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
		resolved = append(resolved, ref)
		switch ref {
		case "secret://firebase-web-key":
			return "web-key", nil
		case "secret://session-hash":
			return strings.Repeat("h", 32) + "\n", nil
		}
		return "", errors.New("unknown secret")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port override, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 20*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.LocalMode() {
		t.Errorf("expected firebase mode")
	}
	if cfg.Firebase.WebAPIKey != "web-key" {
		t.Errorf("expected resolved web api key, got %q", cfg.Firebase.WebAPIKey)
	}
	if cfg.Session.HashKey != strings.Repeat("h", 32) {
		t.Errorf("expected trimmed hash key, got %q", cfg.Session.HashKey)
	}
	if !cfg.Session.CookieSecure {
		t.Errorf("expected secure cookie")
	}
	if cfg.Firestore.ProjectID != "books-prod" || cfg.Events.ProjectID != "books-prod" {
		t.Errorf("expected projects to default to firebase project, got %q/%q", cfg.Firestore.ProjectID, cfg.Events.ProjectID)
	}
	if cfg.Catalog.ImageHost != "https://covers.example.com" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.Catalog.ImageHost)
	}
	if cfg.Catalog.Timeout != defaultCatalogTimeout {
		t.Errorf("expected invalid duration to fall back, got %s", cfg.Catalog.Timeout)
	}
	if cfg.Security.Environment != "prod" {
		t.Errorf("expected lower-cased environment, got %s", cfg.Security.Environment)
	}
	if len(resolved) != 2 {
		t.Errorf("expected two secret lookups, got %v", resolved)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	env := map[string]string{
		"BOOKFINDER_FIREBASE_PROJECT_ID":     "books-prod",
		"BOOKFINDER_CATALOG_SEARCH_ENDPOINT": "not a url",
		"BOOKFINDER_SESSION_BLOCK_KEY":       "short",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}

	fields := strings.Join(validationErr.Fields(), ",")
	for _, want := range []string{"Catalog.SearchEndpoint", "Firebase.WebAPIKey", "Session.HashKey", "Session.BlockKey"} {
		if !strings.Contains(fields, want) {
			t.Errorf("expected %s in %s", want, fields)
		}
	}
}

func TestLoadSecretWithoutResolver(t *testing.T) {
	env := map[string]string{
		"BOOKFINDER_SESSION_HASH_KEY": "sm://session-hash",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(nil))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected secret error, got %v", err)
	}
	if secretErr.Ref != "secret://session-hash" {
		t.Errorf("expected normalised ref, got %s", secretErr.Ref)
	}
	if !errors.Is(err, errSecretResolverNotConfigured) {
		t.Errorf("expected unwrap to resolver error")
	}
}

func TestLoadReadsDotEnvWithLowerPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local overrides\nBOOKFINDER_SERVER_PORT=7070\nexport BOOKFINDER_CATALOG_USER_AGENT=\"bookfinder-dev\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(path), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv, got %s", cfg.Server.Port)
	}
	if cfg.Catalog.UserAgent != "bookfinder-dev" {
		t.Errorf("expected user agent from dotenv, got %s", cfg.Catalog.UserAgent)
	}

	cfg, err = Load(context.Background(), WithEnvFile(path), WithoutSystemEnv(), WithEnvMap(map[string]string{"BOOKFINDER_SERVER_PORT": "6060"}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "6060" {
		t.Errorf("expected env map to win over dotenv, got %s", cfg.Server.Port)
	}
}

func TestLoadMissingDotEnvIsIgnored(t *testing.T) {
	_, err := Load(context.Background(), WithEnvFile(filepath.Join(t.TempDir(), "absent.env")), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("expected missing dotenv to be ignored, got %v", err)
	}
}

func TestLookupPrecedence(t *testing.T) {
	lookup, err := Lookup(WithEnvFile(""), WithoutSystemEnv(), WithEnvMap(map[string]string{"KEY": "value"}))
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	if value, ok := lookup("KEY"); !ok || value != "value" {
		t.Errorf("unexpected lookup result %q %v", value, ok)
	}
	if _, ok := lookup("MISSING"); ok {
		t.Errorf("expected missing key")
	}
}

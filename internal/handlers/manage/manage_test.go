package manage

import (
	"database/sql"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"gempool-go/internal/config"
	"gempool-go/internal/store"
	"gempool-go/internal/vault"
)

func TestNewKeySecretFormat(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 16; i++ {
		s := newKeySecret()
		if !strings.HasPrefix(s, "sk-gp-") {
			t.Fatalf("secret %q missing prefix", s)
		}
		if got := len(s) - len("sk-gp-"); got != 48 {
			t.Fatalf("secret entropy length = %d, want 48", got)
		}
		if seen[s] {
			t.Fatalf("duplicate secret %q", s)
		}
		seen[s] = true
	}
}

func TestSessionTokenRoundTrip(t *testing.T) {
	h := &Handler{jwtSecret: []byte("test-secret")}
	user := &store.User{ID: 42, IsAdmin: true}

	token, err := h.issueToken(user, time.Now())
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}

	var claims sessionClaims
	_, err = jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return h.jwtSecret, nil
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	id, err := parseSubject(claims.Subject)
	if err != nil || id != 42 {
		t.Fatalf("subject = %q (%v), want 42", claims.Subject, err)
	}
	if !claims.Admin {
		t.Fatal("admin claim lost")
	}
	if until := time.Until(claims.ExpiresAt.Time); until < 6*24*time.Hour {
		t.Fatalf("expiry too soon: %v", until)
	}
}

func TestSessionTokenRejectsWrongSecret(t *testing.T) {
	h := &Handler{jwtSecret: []byte("secret-a")}
	token, err := h.issueToken(&store.User{ID: 1}, time.Now())
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}

	var claims sessionClaims
	_, err = jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return []byte("secret-b"), nil
	})
	if err == nil {
		t.Fatal("token verified with the wrong secret")
	}
}

func TestExportJSONFallsBackToServerClient(t *testing.T) {
	v, err := vault.New("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	refreshCT, err := v.Encrypt("1//refresh-token")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	h := &Handler{
		vault: v,
		google: config.GoogleSettings{
			ClientID:     "server-client-id",
			ClientSecret: "server-client-secret",
		},
	}
	cred := &store.Credential{
		RefreshTokenCT: refreshCT,
		ProjectID:      "proj-1",
		Email:          "a@example.com",
	}

	out, err := h.exportJSON(cred)
	if err != nil {
		t.Fatalf("exportJSON: %v", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc["type"] != "authorized_user" {
		t.Fatalf("type = %v", doc["type"])
	}
	if doc["refresh_token"] != "1//refresh-token" {
		t.Fatalf("refresh_token = %v", doc["refresh_token"])
	}
	if doc["client_id"] != "server-client-id" || doc["client_secret"] != "server-client-secret" {
		t.Fatalf("client pair = %v / %v", doc["client_id"], doc["client_secret"])
	}
	if _, ok := doc["token"]; ok {
		t.Fatal("token present without a stored access token")
	}
}

func TestExportJSONPrefersStoredClientPair(t *testing.T) {
	v, err := vault.New("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	encrypt := func(s string) string {
		ct, err := v.Encrypt(s)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		return ct
	}

	h := &Handler{
		vault:  v,
		google: config.GoogleSettings{ClientID: "server-id", ClientSecret: "server-secret"},
	}
	cred := &store.Credential{
		RefreshTokenCT:      encrypt("1//refresh"),
		AccessTokenCT:       encrypt("ya29.access"),
		OAuthClientIDCT:     encrypt("own-id"),
		OAuthClientSecretCT: encrypt("own-secret"),
	}

	out, err := h.exportJSON(cred)
	if err != nil {
		t.Fatalf("exportJSON: %v", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc["client_id"] != "own-id" || doc["client_secret"] != "own-secret" {
		t.Fatalf("client pair = %v / %v", doc["client_id"], doc["client_secret"])
	}
	if doc["token"] != "ya29.access" {
		t.Fatalf("token = %v", doc["token"])
	}
}

func TestExportJSONAPIKeyCredential(t *testing.T) {
	v, err := vault.New("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	ct, err := v.Encrypt("AIza-some-key")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	h := &Handler{vault: v}
	out, err := h.exportJSON(&store.Credential{
		CredentialType: store.CredentialTypeAPIKey,
		AccessTokenCT:  ct,
		ProjectID:      "proj-9",
	})
	if err != nil {
		t.Fatalf("exportJSON: %v", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc["api_key"] != "AIza-some-key" || doc["project_id"] != "proj-9" {
		t.Fatalf("doc = %v", doc)
	}
	if _, ok := doc["refresh_token"]; ok {
		t.Fatal("api_key export must not carry a refresh_token field")
	}
}

func TestDisplayName(t *testing.T) {
	cases := []struct {
		filename, email, want string
	}{
		{"", "a@example.com", "a@example.com"},
		{"creds/team-a.json", "", "team-a"},
		{"", "", "uploaded credential"},
	}
	for _, tc := range cases {
		if got := displayName(tc.filename, tc.email); got != tc.want {
			t.Errorf("displayName(%q, %q) = %q, want %q", tc.filename, tc.email, got, tc.want)
		}
	}
}

func TestNullTime(t *testing.T) {
	if got := nullTime(sql.NullTime{}); got != nil {
		t.Fatalf("invalid NullTime rendered as %v", got)
	}
	now := time.Now()
	if got := nullTime(sql.NullTime{Time: now, Valid: true}); got != now {
		t.Fatalf("valid NullTime rendered as %v", got)
	}
}

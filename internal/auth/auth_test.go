package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"trackflow/internal/db"
)

func TestHashPassword(t *testing.T) {
	SetBcryptCost(bcrypt.MinCost)
	defer SetBcryptCost(DefaultBcryptCost)

	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid password", "secret1", false},
		{"exactly six characters", "abcdef", false},
		{"five characters rejected", "abcde", true},
		{"empty rejected", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPassword(tt.password)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("HashPassword() error = %v", err)
			}
			if !VerifyPassword(hash, tt.password) {
				t.Error("VerifyPassword() = false for the original password")
			}
			if VerifyPassword(hash, tt.password+"x") {
				t.Error("VerifyPassword() = true for a different password")
			}
		})
	}
}

func TestHashPasswordDefaultCost(t *testing.T) {
	if DefaultBcryptCost != 12 {
		t.Fatalf("DefaultBcryptCost = %d, want 12", DefaultBcryptCost)
	}
}

func TestVerifyPasswordMalformedHash(t *testing.T) {
	if VerifyPassword("not-a-hash", "secret1") {
		t.Error("malformed hash must not verify")
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	token, err := GenerateToken("u-1", "a@x.com", "member", "secret", 7*24*time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := ValidateToken(token, "secret")
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.UserID != "u-1" || claims.Email != "a@x.com" || claims.Role != "member" {
		t.Errorf("unexpected claims: %+v", claims)
	}
	if claims.Issuer != TokenIssuer {
		t.Errorf("Issuer = %q", claims.Issuer)
	}
	if exp := claims.ExpiresAt.Time.Sub(claims.IssuedAt.Time); exp != 7*24*time.Hour {
		t.Errorf("lifetime = %v, want 7 days", exp)
	}
}

func TestValidateTokenRejects(t *testing.T) {
	valid, _ := GenerateToken("u-1", "a@x.com", "member", "secret", time.Hour)
	expired, _ := GenerateToken("u-1", "a@x.com", "member", "secret", -time.Hour)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: "u-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Audience:  jwt.ClaimStrings{TokenAudience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	foreignSigned, _ := foreign.SignedString([]byte("secret"))

	tests := []struct {
		name   string
		token  string
		secret string
	}{
		{"wrong secret", valid, "other"},
		{"expired", expired, "secret"},
		{"wrong issuer", foreignSigned, "secret"},
		{"garbage", "a.b.c", "secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ValidateToken(tt.token, tt.secret); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSetAuthCookie(t *testing.T) {
	rec := httptest.NewRecorder()
	SetAuthCookie(rec, "tok", false)

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("got %d cookies, want 1", len(cookies))
	}
	c := cookies[0]
	if c.Name != CookieName || c.Value != "tok" {
		t.Errorf("cookie = %s=%s", c.Name, c.Value)
	}
	if !c.HttpOnly {
		t.Error("cookie must be HttpOnly")
	}
	if c.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want Lax", c.SameSite)
	}
	if c.MaxAge != 7*24*60*60 {
		t.Errorf("MaxAge = %d, want 7 days", c.MaxAge)
	}
}

func TestTokenFromRequest(t *testing.T) {
	t.Run("cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: CookieName, Value: "from-cookie"})
		r.Header.Set("Authorization", "Bearer from-header")
		if got := TokenFromRequest(r); got != "from-cookie" {
			t.Errorf("got %q, cookie should win", got)
		}
	})
	t.Run("bearer header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer from-header")
		if got := TokenFromRequest(r); got != "from-header" {
			t.Errorf("got %q", got)
		}
	})
	t.Run("none", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "ApiKey abc")
		if got := TokenFromRequest(r); got != "" {
			t.Errorf("got %q, want empty", got)
		}
	})
}

func TestClaimsFromRequest(t *testing.T) {
	svc := NewService("secret", time.Hour)
	token, err := svc.GenerateToken("u-9", "z@x.com", "admin")
	if err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: CookieName, Value: token})
	claims, ok := svc.ClaimsFromRequest(r)
	if !ok || claims.UserID != "u-9" {
		t.Fatalf("ClaimsFromRequest() = %v, %v", claims, ok)
	}

	bad := httptest.NewRequest(http.MethodGet, "/", nil)
	bad.AddCookie(&http.Cookie{Name: CookieName, Value: "tampered"})
	if _, ok := svc.ClaimsFromRequest(bad); ok {
		t.Error("tampered token should not resolve")
	}
}

func TestCurrentUser(t *testing.T) {
	svc := NewService("secret", time.Hour)
	token, err := svc.GenerateToken("u-1", "a@x.com", "member")
	if err != nil {
		t.Fatal(err)
	}
	lookup := func(_ context.Context, id string) (*db.User, error) {
		if id == "u-1" {
			return &db.User{ID: id, Email: "a@x.com"}, nil
		}
		return nil, errors.New("not found")
	}

	withCookie := func(value string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if value != "" {
			r.AddCookie(&http.Cookie{Name: CookieName, Value: value})
		}
		return r
	}

	if u := svc.CurrentUser(withCookie(token), lookup); u == nil || u.ID != "u-1" {
		t.Fatalf("CurrentUser() = %v", u)
	}
	if u := svc.CurrentUser(withCookie(""), lookup); u != nil {
		t.Error("missing cookie should resolve to nil")
	}
	if u := svc.CurrentUser(withCookie("garbage"), lookup); u != nil {
		t.Error("invalid token should resolve to nil")
	}

	other, _ := svc.GenerateToken("u-2", "b@x.com", "member")
	if u := svc.CurrentUser(withCookie(other), lookup); u != nil {
		t.Error("unknown user should resolve to nil")
	}
}

func TestTOTP(t *testing.T) {
	setup, err := GenerateTOTP("a@x.com")
	if err != nil {
		t.Fatalf("GenerateTOTP() error = %v", err)
	}
	if !strings.HasPrefix(setup.URL, "otpauth://totp/") {
		t.Errorf("URL = %q", setup.URL)
	}
	if len(setup.QRCode) == 0 {
		t.Error("expected QR code bytes")
	}

	code, err := totp.GenerateCode(setup.Secret, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if !ValidateTOTP(code, setup.Secret) {
		t.Error("current code should validate")
	}
	if ValidateTOTP("", setup.Secret) {
		t.Error("empty code should not validate")
	}
}

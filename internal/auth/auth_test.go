package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "facesense-test"
)

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue("kiosk-1", RoleDevice, testIssuer, testKey, time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := Parse(pair.AccessToken, testKey, testIssuer)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "kiosk-1" || claims.Role != RoleDevice {
		t.Errorf("unexpected claims %+v", claims)
	}
	if !pair.RefreshExp.After(pair.AccessExp) {
		t.Error("expected refresh token to outlive access token")
	}

	if _, err := ParseRefresh(pair.RefreshToken, testKey, testIssuer); err != nil {
		t.Errorf("parse refresh: %v", err)
	}
}

func TestParse_Rejects(t *testing.T) {
	pair, _ := Issue("kiosk-1", RoleDevice, testIssuer, testKey, time.Minute, time.Hour)
	expired, _ := Issue("kiosk-1", RoleDevice, testIssuer, testKey, -time.Minute, time.Hour)

	tests := []struct {
		name   string
		token  string
		key    string
		issuer string
	}{
		{"wrong key", pair.AccessToken, "other", testIssuer},
		{"wrong issuer", pair.AccessToken, testKey, "someone-else"},
		{"refresh used as access", pair.RefreshToken, testKey, testIssuer},
		{"expired", expired.AccessToken, testKey, testIssuer},
		{"garbage", "not.a.token", testKey, testIssuer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.token, tt.key, tt.issuer); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := Parse(pair.RefreshToken, testKey, testIssuer); !errors.Is(err, ErrWrongTokenType) {
		t.Errorf("expected ErrWrongTokenType, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/", DeviceAuth(testKey, testIssuer))
	g.GET("/any", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	g.GET("/admin", RequireRole(RoleAdmin), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	device, _ := Issue("kiosk-1", RoleDevice, testIssuer, testKey, time.Minute, time.Hour)
	admin, _ := Issue("admin", RoleAdmin, testIssuer, testKey, time.Minute, time.Hour)

	tests := []struct {
		path  string
		token string
		want  int
	}{
		{"/any", "", http.StatusUnauthorized},
		{"/any", "bogus", http.StatusUnauthorized},
		{"/any", device.AccessToken, http.StatusNoContent},
		{"/admin", device.AccessToken, http.StatusForbidden},
		{"/admin", admin.AccessToken, http.StatusNoContent},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		if tt.token != "" {
			req.Header.Set("Authorization", "Bearer "+tt.token)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tt.want {
			t.Errorf("%s with token %q: expected %d, got %d", tt.path, tt.token, tt.want, w.Code)
		}
	}
}

func TestCheckAPIKey(t *testing.T) {
	if CheckAPIKey("", "") {
		t.Error("empty configured key must never match")
	}
	if !CheckAPIKey("secret", "secret") || CheckAPIKey("secret", "Secret") {
		t.Error("unexpected comparison result")
	}
}

func TestMemoryDevices(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.UpsertDevice(ctx, ""); !errors.Is(err, ErrDeviceIDRequired) {
		t.Errorf("expected ErrDeviceIDRequired, got %v", err)
	}
	if err := m.UpsertDevice(ctx, "kiosk-1"); err != nil {
		t.Fatal(err)
	}
	if err := m.SaveRefreshToken(ctx, "kiosk-1", "tok", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := m.RevokeRefreshToken(ctx, "tok"); err != nil {
		t.Fatal(err)
	}
	if !m.tokens["tok"] {
		t.Error("expected token revoked")
	}
}

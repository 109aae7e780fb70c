package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cvforge/internal/auth"
	"cvforge/internal/database"
)

func newMiddlewareTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func authedPing(t *testing.T, router *gin.Engine, token string) int {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)
	return w.Code
}

func TestAuthMiddlewareRejectsDeletedUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newMiddlewareTestDB(t)

	authService, err := auth.NewAuthService("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}

	user := database.User{Name: "Alice", Email: "alice@example.com", PasswordHash: "x"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	token, err := authService.GenerateToken(user.ID, user.Email)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	router := gin.New()
	router.GET("/ping", AuthMiddleware(authService, db), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	if code := authedPing(t, router, token); code != http.StatusOK {
		t.Fatalf("existing user: expected 200 got %d", code)
	}

	if err := db.Delete(&database.User{}, user.ID).Error; err != nil {
		t.Fatalf("delete user: %v", err)
	}

	// 账号删除后，仍在有效期内的令牌也必须失效
	if code := authedPing(t, router, token); code != http.StatusUnauthorized {
		t.Fatalf("deleted user: expected 401 got %d", code)
	}
}

func TestAuthMiddlewareRejectsMalformedHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newMiddlewareTestDB(t)

	authService, err := auth.NewAuthService("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}

	router := gin.New()
	router.GET("/ping", AuthMiddleware(authService, db), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for _, header := range []string{"", "Bearer", "Basic abc", "garbage"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		router.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("header %q: expected 401 got %d", header, w.Code)
		}
	}
}

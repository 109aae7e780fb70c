package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"cvforge/internal/cv"
	"cvforge/internal/database"
)

func newCVTestHandler(db *gorm.DB) *CVHandler {
	return NewCVHandler(cv.NewService(db), nil, nil, nil, "https://cvforge.example.com")
}

func seedUser(t *testing.T, db *gorm.DB, email string) *database.User {
	t.Helper()
	user := database.User{Name: "Test User", Email: email, PasswordHash: "x"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return &user
}

func authedContext(t *testing.T, userID uint, req *http.Request) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Set("userID", userID)
	return c, w
}

func createCV(t *testing.T, h *CVHandler, userID uint, title string) uint {
	t.Helper()
	c, w := authedContext(t, userID, jsonRequest(t, http.MethodPost, "/v1/cvs", gin.H{"title": title}))
	h.Create(c)
	if w.Code != http.StatusCreated {
		t.Fatalf("create cv: expected 201 got %d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		CV cvPayload `json:"cv"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return resp.CV.ID
}

func TestCreateAndGetCV(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	owner := seedUser(t, db, "owner@example.com")
	h := newCVTestHandler(db)

	cvID := createCV(t, h, owner.ID, "Senior  Developer!! ")

	c, w := authedContext(t, owner.ID, httptest.NewRequest(http.MethodGet, "/v1/cvs/1", nil))
	c.Params = gin.Params{{Key: "id", Value: strconv.FormatUint(uint64(cvID), 10)}}
	h.Get(c)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", w.Code, w.Body.String())
	}

	var resp struct {
		CV       cvPayload        `json:"cv"`
		Versions []versionPayload `json:"versions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.CV.Slug != "senior-developer" {
		t.Errorf("slug = %q, want senior-developer", resp.CV.Slug)
	}
	if len(resp.Versions) != 1 || resp.Versions[0].Label != "Initial version" {
		t.Errorf("expected single initial version, got %+v", resp.Versions)
	}
}

func TestGetCVErrorTaxonomy(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	owner := seedUser(t, db, "owner@example.com")
	stranger := seedUser(t, db, "stranger@example.com")
	h := newCVTestHandler(db)

	cvID := createCV(t, h, owner.ID, "Mine")

	c, w := authedContext(t, stranger.ID, httptest.NewRequest(http.MethodGet, "/v1/cvs/1", nil))
	c.Params = gin.Params{{Key: "id", Value: strconv.FormatUint(uint64(cvID), 10)}}
	h.Get(c)
	if w.Code != http.StatusForbidden {
		t.Fatalf("foreign cv: expected 403 got %d", w.Code)
	}

	c, w = authedContext(t, owner.ID, httptest.NewRequest(http.MethodGet, "/v1/cvs/999", nil))
	c.Params = gin.Params{{Key: "id", Value: "999"}}
	h.Get(c)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing cv: expected 404 got %d", w.Code)
	}
}

func TestCreateCVRejectsUnknownTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	owner := seedUser(t, db, "owner@example.com")
	h := newCVTestHandler(db)

	c, w := authedContext(t, owner.ID, jsonRequest(t, http.MethodPost, "/v1/cvs", gin.H{
		"title":    "Bad",
		"template": "FANCY",
	}))
	h.Create(c)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", w.Code)
	}
}

func TestUpdateVisibilityRequiresFlag(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	owner := seedUser(t, db, "owner@example.com")
	h := newCVTestHandler(db)

	cvID := createCV(t, h, owner.ID, "Mine")
	idParam := gin.Params{{Key: "id", Value: strconv.FormatUint(uint64(cvID), 10)}}

	c, w := authedContext(t, owner.ID, jsonRequest(t, http.MethodPatch, "/v1/cvs/1/visibility", gin.H{}))
	c.Params = idParam
	h.UpdateVisibility(c)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing flag: expected 400 got %d", w.Code)
	}

	c, w = authedContext(t, owner.ID, jsonRequest(t, http.MethodPatch, "/v1/cvs/1/visibility", gin.H{"isPublic": true}))
	c.Params = idParam
	h.UpdateVisibility(c)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", w.Code, w.Body.String())
	}

	var resp struct {
		CV cvPayload `json:"cv"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.CV.IsPublic {
		t.Error("cv must be public after toggle")
	}
}

func TestDeleteCVThenGone(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	owner := seedUser(t, db, "owner@example.com")
	h := newCVTestHandler(db)

	cvID := createCV(t, h, owner.ID, "Mine")
	idParam := gin.Params{{Key: "id", Value: strconv.FormatUint(uint64(cvID), 10)}}

	c, w := authedContext(t, owner.ID, httptest.NewRequest(http.MethodDelete, "/v1/cvs/1", nil))
	c.Params = idParam
	h.Delete(c)
	c.Writer.WriteHeaderNow()
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", w.Code)
	}

	c, w = authedContext(t, owner.ID, httptest.NewRequest(http.MethodGet, "/v1/cvs/1", nil))
	c.Params = idParam
	h.Get(c)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete got %d", w.Code)
	}
}

func TestShareTokenLifecycle(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	owner := seedUser(t, db, "owner@example.com")
	h := newCVTestHandler(db)

	cvID := createCV(t, h, owner.ID, "Mine")
	idParam := gin.Params{{Key: "id", Value: strconv.FormatUint(uint64(cvID), 10)}}

	c, w := authedContext(t, owner.ID, httptest.NewRequest(http.MethodPost, "/v1/cvs/1/share", nil))
	c.Params = idParam
	h.CreateShareToken(c)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d body=%s", w.Code, w.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	token := resp["token"]
	if len(token) != 32 {
		t.Fatalf("token length = %d, want 32 hex chars", len(token))
	}
	if resp["url"] == "" {
		t.Error("expected share url")
	}

	c, w = authedContext(t, owner.ID, httptest.NewRequest(http.MethodDelete, "/v1/cvs/share/"+token, nil))
	c.Params = gin.Params{{Key: "token", Value: token}}
	h.RevokeShareToken(c)
	c.Writer.WriteHeaderNow()
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", w.Code)
	}

	c, w = authedContext(t, owner.ID, httptest.NewRequest(http.MethodDelete, "/v1/cvs/share/"+token, nil))
	c.Params = gin.Params{{Key: "token", Value: token}}
	h.RevokeShareToken(c)
	if w.Code != http.StatusNotFound {
		t.Fatalf("double revoke: expected 404 got %d", w.Code)
	}
}

func TestRestoreVersionRoundTrip(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	owner := seedUser(t, db, "owner@example.com")
	h := newCVTestHandler(db)

	cvID := createCV(t, h, owner.ID, "Mine")
	idParam := gin.Params{{Key: "id", Value: strconv.FormatUint(uint64(cvID), 10)}}

	// 拿到初始版本 ID
	c, w := authedContext(t, owner.ID, httptest.NewRequest(http.MethodGet, "/v1/cvs/1", nil))
	c.Params = idParam
	h.Get(c)
	var getResp struct {
		Versions []versionPayload `json:"versions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &getResp); err != nil {
		t.Fatal(err)
	}
	versionID := getResp.Versions[0].ID

	// 改模板后恢复
	c, w = authedContext(t, owner.ID, jsonRequest(t, http.MethodPatch, "/v1/cvs/1", gin.H{"template": database.TemplateModern}))
	c.Params = idParam
	h.Update(c)
	if w.Code != http.StatusOK {
		t.Fatalf("update: expected 200 got %d", w.Code)
	}

	c, w = authedContext(t, owner.ID, httptest.NewRequest(http.MethodPost, "/v1/cvs/versions/1/restore", nil))
	c.Params = gin.Params{{Key: "versionID", Value: strconv.FormatUint(uint64(versionID), 10)}}
	h.RestoreVersion(c)
	if w.Code != http.StatusOK {
		t.Fatalf("restore: expected 200 got %d body=%s", w.Code, w.Body.String())
	}

	var resp struct {
		CV cvPayload `json:"cv"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.CV.Template != database.TemplateClassic {
		t.Errorf("template = %q, want restored CLASSIC", resp.CV.Template)
	}
}

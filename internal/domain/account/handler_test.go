package account

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextday/nextday-api/internal/middleware"
	"github.com/nextday/nextday-api/internal/pkg/jwt"
)

type profileEnvelope struct {
	Success bool            `json:"success"`
	Data    ProfileResponse `json:"data"`
}

func newAccountRouter(t *testing.T, svc *Service) (http.Handler, string) {
	t.Helper()
	jwtSvc := jwt.NewService("account-test-secret", "", time.Hour)
	token, err := jwtSvc.GenerateSessionToken(jwt.Identity{AccountID: "acc_1"})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Mount("/api/account", NewHandler(svc).Routes(middleware.Auth(jwtSvc)))
	return r, token
}

func imageUpload(t *testing.T, token, field string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, "me.png")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPut, "/api/account/image", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestProfileImageLifecycle(t *testing.T) {
	svc, _, store := newImageService(t)
	router, token := newAccountRouter(t, svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, imageUpload(t, token, "image", pngBytes(t, 64, 64)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var uploaded profileEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&uploaded))
	assert.True(t, strings.HasPrefix(uploaded.Data.Image, "https://cdn.test/avatars/acc_1/"))
	assert.Len(t, store.keys(), 1)

	req := httptest.NewRequest(http.MethodGet, "/api/account", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var profile profileEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&profile))
	assert.Equal(t, "Ada", profile.Data.Name)
	assert.Equal(t, uploaded.Data.Image, profile.Data.Image)

	req = httptest.NewRequest(http.MethodDelete, "/api/account/image", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, store.keys())
}

func TestUploadImageRejectsNonImage(t *testing.T) {
	svc, _, store := newImageService(t)
	router, token := newAccountRouter(t, svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, imageUpload(t, token, "image", []byte("%PDF-1.4")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, imageUpload(t, token, "file", pngBytes(t, 8, 8)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, store.keys())
}

func TestUploadImageStorageDisabled(t *testing.T) {
	repo := newMemRepo()
	repo.accounts["acc_1"] = &Account{ID: "acc_1"}
	router, token := newAccountRouter(t, NewService(repo, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, imageUpload(t, token, "image", pngBytes(t, 8, 8)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUpdateProfileName(t *testing.T) {
	svc, _, _ := newImageService(t)
	router, token := newAccountRouter(t, svc)

	send := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPatch, "/api/account", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := send(`{"name":"Grace"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var profile profileEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&profile))
	assert.Equal(t, "Grace", profile.Data.Name)

	assert.Equal(t, http.StatusUnprocessableEntity, send(`{"name":""}`).Code)
	assert.Equal(t, http.StatusBadRequest, send(`{`).Code)
}

func TestProfileRequiresAuth(t *testing.T) {
	svc, _, _ := newImageService(t)
	router, _ := newAccountRouter(t, svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/account", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

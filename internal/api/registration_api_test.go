package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/vssdeo/trustroots/internal/api"
	"github.com/vssdeo/trustroots/pkg/push"
)

// --- Mocks ---
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Get(ctx context.Context, userID string) (*push.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*push.User), args.Error(1)
}
func (m *MockStore) Add(ctx context.Context, userID string, r push.Registration) (*push.User, error) {
	args := m.Called(ctx, userID, r)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*push.User), args.Error(1)
}
func (m *MockStore) Remove(ctx context.Context, userID string, token string) (*push.User, error) {
	args := m.Called(ctx, userID, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*push.User), args.Error(1)
}

// --- Setup ---
const testUser = "urn:tr:user:123"

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func setupAPI(t *testing.T) (*api.RegistrationAPI, *MockStore, *http.ServeMux) {
	t.Helper()
	mockStore := new(MockStore)
	handler := api.NewRegistrationAPI(mockStore, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	handler.Now = func() time.Time { return fixedNow }

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/users/push/registrations", handler.Get)
	mux.HandleFunc("POST /api/users/push/registrations", handler.Register)
	mux.HandleFunc("DELETE /api/users/push/registrations/{token}", handler.Unregister)
	return handler, mockStore, mux
}

func withUser(req *http.Request, userID string) *http.Request {
	return req.WithContext(middleware.ContextWithUserID(req.Context(), userID))
}

func decodeUser(t *testing.T, rec *httptest.ResponseRecorder) push.User {
	t.Helper()
	var out push.UserResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out.User
}

// --- Tests ---

func TestRegister(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		_, mockStore, mux := setupAPI(t)
		body, _ := json.Marshal(push.RegisterRequest{Token: "mynicetoken", Platform: push.PlatformWeb})
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/users/push/registrations", bytes.NewReader(body)), testUser)
		rec := httptest.NewRecorder()

		expected := push.Registration{Token: "mynicetoken", Platform: push.PlatformWeb, Created: fixedNow}
		mockStore.On("Add", mock.Anything, testUser, expected).
			Return(&push.User{PushRegistrations: []push.Registration{expected}}, nil)

		mux.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		user := decodeUser(t, rec)
		require.Len(t, user.PushRegistrations, 1)
		assert.Equal(t, "mynicetoken", user.PushRegistrations[0].Token)
		assert.True(t, fixedNow.Equal(user.PushRegistrations[0].Created))
		mockStore.AssertExpectations(t)
	})

	t.Run("Platform defaults to web", func(t *testing.T) {
		_, mockStore, mux := setupAPI(t)
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/users/push/registrations",
			bytes.NewReader([]byte(`{"token":"t1"}`))), testUser)
		rec := httptest.NewRecorder()

		mockStore.On("Add", mock.Anything, testUser, mock.MatchedBy(func(r push.Registration) bool {
			return r.Token == "t1" && r.Platform == push.PlatformWeb
		})).Return(&push.User{}, nil)

		mux.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotNil(t, decodeUser(t, rec).PushRegistrations, "empty list, not null")
		mockStore.AssertExpectations(t)
	})

	badRequests := map[string]string{
		"Rejects Empty Token":  `{"token":"","platform":"web"}`,
		"Rejects Bad JSON":     `{"token":`,
		"Rejects Bad Platform": `{"token":"t","platform":"fax"}`,
	}
	for name, payload := range badRequests {
		t.Run(name, func(t *testing.T) {
			_, mockStore, mux := setupAPI(t)
			req := withUser(httptest.NewRequest(http.MethodPost, "/api/users/push/registrations",
				bytes.NewReader([]byte(payload))), testUser)
			rec := httptest.NewRecorder()

			mux.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			mockStore.AssertNotCalled(t, "Add", mock.Anything, mock.Anything, mock.Anything)
		})
	}

	t.Run("Rejects Anonymous", func(t *testing.T) {
		_, _, mux := setupAPI(t)
		req := httptest.NewRequest(http.MethodPost, "/api/users/push/registrations", bytes.NewReader([]byte(`{"token":"t"}`)))
		rec := httptest.NewRecorder()

		mux.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("Accepts subject-only token", func(t *testing.T) {
		_, mockStore, mux := setupAPI(t)
		req := httptest.NewRequest(http.MethodPost, "/api/users/push/registrations",
			bytes.NewReader([]byte(`{"token":"t","platform":"web"}`)))
		req = req.WithContext(middleware.ContextWithUser(req.Context(), testUser, "", ""))
		rec := httptest.NewRecorder()
		mockStore.On("Add", mock.Anything, testUser, mock.Anything).
			Return(&push.User{PushRegistrations: []push.Registration{{Token: "t", Platform: push.PlatformWeb}}}, nil)

		mux.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
		got := decodeUser(t, rec)
		assert.True(t, got.HasRegistration("t"))
		mockStore.AssertExpectations(t)
	})

	t.Run("Non-URN subject is used as is", func(t *testing.T) {
		_, mockStore, mux := setupAPI(t)
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/users/push/registrations",
			bytes.NewReader([]byte(`{"token":"t"}`))), "user-42")
		rec := httptest.NewRecorder()
		mockStore.On("Add", mock.Anything, "user-42", mock.Anything).Return(&push.User{}, nil)

		mux.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		mockStore.AssertExpectations(t)
	})

	t.Run("Storage failure", func(t *testing.T) {
		_, mockStore, mux := setupAPI(t)
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/users/push/registrations",
			bytes.NewReader([]byte(`{"token":"t"}`))), testUser)
		rec := httptest.NewRecorder()
		mockStore.On("Add", mock.Anything, testUser, mock.Anything).Return(nil, errors.New("db down"))

		mux.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestUnregister(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		_, mockStore, mux := setupAPI(t)
		token := "sometokenfordisabling"
		req := withUser(httptest.NewRequest(http.MethodDelete, "/api/users/push/registrations/"+token, nil), testUser)
		rec := httptest.NewRecorder()

		mockStore.On("Remove", mock.Anything, testUser, token).
			Return(&push.User{PushRegistrations: []push.Registration{}}, nil)

		mux.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, decodeUser(t, rec).PushRegistrations)
		mockStore.AssertExpectations(t)
	})

	t.Run("Escaped token", func(t *testing.T) {
		_, mockStore, mux := setupAPI(t)
		req := withUser(httptest.NewRequest(http.MethodDelete, "/api/users/push/registrations/a%3Ab", nil), testUser)
		rec := httptest.NewRecorder()
		mockStore.On("Remove", mock.Anything, testUser, "a:b").Return(&push.User{}, nil)

		mux.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		mockStore.AssertExpectations(t)
	})
}

func TestGet(t *testing.T) {
	_, mockStore, mux := setupAPI(t)
	req := withUser(httptest.NewRequest(http.MethodGet, "/api/users/push/registrations", nil), testUser)
	rec := httptest.NewRecorder()
	mockStore.On("Get", mock.Anything, testUser).Return(&push.User{
		ID:                testUser,
		PushRegistrations: []push.Registration{{Token: "a", Platform: push.PlatformAndroid}},
	}, nil)

	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	user := decodeUser(t, rec)
	assert.Equal(t, testUser, user.ID)
	assert.True(t, user.HasRegistration("a"))
}

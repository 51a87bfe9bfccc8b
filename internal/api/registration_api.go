package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/vssdeo/trustroots/internal/metrics"
	"github.com/vssdeo/trustroots/pkg/push"
)

// RegistrationAPI serves /api/users/push/registrations.
type RegistrationAPI struct {
	Store   push.RegistrationStore
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

func NewRegistrationAPI(store push.RegistrationStore, m *metrics.Metrics, logger *slog.Logger) *RegistrationAPI {
	return &RegistrationAPI{
		Store:   store,
		Metrics: m,
		Logger:  logger.With("component", "RegistrationAPI"),
		Now:     time.Now,
	}
}

// Get returns the caller's registrations.
func (api *RegistrationAPI) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := api.userFromRequest(w, r)
	if !ok {
		return
	}

	user, err := api.Store.Get(ctx, userID)
	if err != nil {
		api.Logger.Error("failed to load registrations", "user", userID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	writeUser(w, user)
}

// Register adds the posted token to the caller's profile. Posting a token
// that is already registered is a no-op.
func (api *RegistrationAPI) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := api.userFromRequest(w, r)
	if !ok {
		return
	}

	var req push.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}
	if req.Platform == "" {
		req.Platform = push.PlatformWeb
	}
	if !req.Platform.Valid() {
		api.Logger.Warn("Register: Validation failed", "reason", "unknown platform", "platform", req.Platform)
		response.WriteJSONError(w, http.StatusBadRequest, "unknown platform")
		return
	}

	user, err := api.Store.Add(ctx, userID, push.Registration{
		Token:    req.Token,
		Platform: req.Platform,
		Created:  api.Now().UTC(),
	})
	if err != nil {
		api.Logger.Error("failed to register token", "user", userID, "err", err)
		api.Metrics.Registration("register", "error")
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Metrics.Registration("register", "ok")
	api.Logger.Info("Register: Token registered", "user", userID, "platform", req.Platform)

	writeUser(w, user)
}

// Unregister removes {token} from the caller's profile. Unknown tokens are
// not an error.
func (api *RegistrationAPI) Unregister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := api.userFromRequest(w, r)
	if !ok {
		return
	}

	token := r.PathValue("token")
	if token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	user, err := api.Store.Remove(ctx, userID, token)
	if err != nil {
		api.Logger.Error("failed to unregister token", "user", userID, "err", err)
		api.Metrics.Registration("unregister", "error")
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Metrics.Registration("unregister", "ok")
	api.Logger.Info("Unregister: Token removed", "user", userID)

	writeUser(w, user)
}

// userFromRequest returns the caller's subject. URN subjects are normalized;
// any other subject is used as is.
func (api *RegistrationAPI) userFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok || userID == "" {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	if userURN, err := urn.Parse(userID); err == nil {
		return userURN.String(), true
	}
	return userID, true
}

func writeUser(w http.ResponseWriter, user *push.User) {
	out := push.UserResponse{}
	if user != nil {
		out.User = user.Clone()
	}
	if out.User.PushRegistrations == nil {
		out.User.PushRegistrations = []push.Registration{}
	}
	response.WriteJSON(w, http.StatusOK, out)
}

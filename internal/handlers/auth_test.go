package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-workorders/internal/auth"
	"github.com/ukydev/fleet-workorders/internal/db"
	"github.com/ukydev/fleet-workorders/internal/middleware"
	"github.com/ukydev/fleet-workorders/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MockUserCollection is a mock implementation of UserCollection
type MockUserCollection struct {
	mock.Mock
}

func (m *MockUserCollection) InsertUser(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserCollection) FindUserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserCollection) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserCollection) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserCollection) UpdateLastLogin(ctx context.Context, id primitive.ObjectID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func newAuthService(t *testing.T) *auth.Service {
	t.Helper()
	authService, err := auth.NewService("handler-test-secret", time.Hour)
	require.NoError(t, err)
	return authService
}

func postJSON(t *testing.T, path string, v interface{}) *http.Request {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return httptest.NewRequest(http.MethodPost, path, bytes.NewBuffer(body))
}

func TestAuthHandler_Login(t *testing.T) {
	authService := newAuthService(t)
	passwordHash, err := authService.HashPassword("password123")
	require.NoError(t, err)

	newUser := func(active bool) *models.User {
		return &models.User{
			ID:           primitive.NewObjectID(),
			Username:     "testuser",
			Email:        "test@example.com",
			PasswordHash: passwordHash,
			Role:         models.RoleTechnician,
			IsActive:     active,
		}
	}

	t.Run("successful login", func(t *testing.T) {
		mockUserCollection := new(MockUserCollection)
		handler := NewAuthHandler(authService, mockUserCollection, log.New())
		user := newUser(true)

		mockUserCollection.On("FindUserByUsername", mock.Anything, "testuser").Return(user, nil)
		mockUserCollection.On("UpdateLastLogin", mock.Anything, user.ID).Return(nil)

		w := httptest.NewRecorder()
		handler.Login(w, postJSON(t, "/api/auth/login", models.LoginRequest{Username: "testuser", Password: "password123"}))

		require.Equal(t, http.StatusOK, w.Code)
		var response models.LoginResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.NotEmpty(t, response.Token)
		assert.NotEmpty(t, response.RefreshToken)
		assert.Equal(t, user.Username, response.User.Username)
		assert.NotContains(t, w.Body.String(), passwordHash)

		claims, err := authService.ValidateToken(response.Token)
		require.NoError(t, err)
		assert.Equal(t, user.ID.Hex(), claims.UserID)
		mockUserCollection.AssertExpectations(t)
	})

	t.Run("last login failure does not fail the login", func(t *testing.T) {
		mockUserCollection := new(MockUserCollection)
		handler := NewAuthHandler(authService, mockUserCollection, log.New())
		user := newUser(true)

		mockUserCollection.On("FindUserByUsername", mock.Anything, "testuser").Return(user, nil)
		mockUserCollection.On("UpdateLastLogin", mock.Anything, user.ID).Return(assert.AnError)

		w := httptest.NewRecorder()
		handler.Login(w, postJSON(t, "/api/auth/login", models.LoginRequest{Username: "testuser", Password: "password123"}))

		assert.Equal(t, http.StatusOK, w.Code)
	})

	tests := []struct {
		name     string
		user     *models.User
		findErr  error
		password string
		status   int
		message  string
	}{
		{"unknown user", nil, db.ErrNotFound, "password123", http.StatusUnauthorized, "Invalid credentials"},
		{"wrong password", newUser(true), nil, "wrongpassword", http.StatusUnauthorized, "Invalid credentials"},
		{"inactive user", newUser(false), nil, "password123", http.StatusUnauthorized, "Account is deactivated"},
		{"store failure", nil, assert.AnError, "password123", http.StatusInternalServerError, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockUserCollection := new(MockUserCollection)
			handler := NewAuthHandler(authService, mockUserCollection, log.New())

			if tt.user != nil {
				mockUserCollection.On("FindUserByUsername", mock.Anything, "testuser").Return(tt.user, nil)
			} else {
				mockUserCollection.On("FindUserByUsername", mock.Anything, "testuser").Return(nil, tt.findErr)
			}

			w := httptest.NewRecorder()
			handler.Login(w, postJSON(t, "/api/auth/login", models.LoginRequest{Username: "testuser", Password: tt.password}))

			assert.Equal(t, tt.status, w.Code)
			var resp errorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.message, resp.Error.Message)
			mockUserCollection.AssertNotCalled(t, "UpdateLastLogin", mock.Anything, mock.Anything)
		})
	}

	t.Run("missing password", func(t *testing.T) {
		mockUserCollection := new(MockUserCollection)
		handler := NewAuthHandler(authService, mockUserCollection, log.New())

		w := httptest.NewRecorder()
		handler.Login(w, postJSON(t, "/api/auth/login", map[string]string{"username": "testuser"}))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockUserCollection.AssertNotCalled(t, "FindUserByUsername", mock.Anything, mock.Anything)
	})
}

func TestAuthHandler_Register(t *testing.T) {
	authService := newAuthService(t)
	registerReq := models.RegisterRequest{
		Username:  "newuser",
		Email:     "new@example.com",
		Password:  "password123",
		FirstName: "New",
		LastName:  "User",
		Role:      models.RoleTechnician,
	}

	t.Run("successful registration", func(t *testing.T) {
		mockUserCollection := new(MockUserCollection)
		handler := NewAuthHandler(authService, mockUserCollection, log.New())

		mockUserCollection.On("InsertUser", mock.Anything, mock.MatchedBy(func(u *models.User) bool {
			return u.Username == "newuser" && u.Role == models.RoleViewer &&
				authService.CheckPassword("password123", u.PasswordHash)
		})).Return(nil)

		anonymous := registerReq
		anonymous.Role = ""
		w := httptest.NewRecorder()
		handler.Register(w, postJSON(t, "/api/auth/register", anonymous))

		require.Equal(t, http.StatusCreated, w.Code)
		var response models.LoginResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.NotEmpty(t, response.Token)
		assert.Equal(t, "newuser", response.User.Username)
		assert.Equal(t, models.RoleViewer, response.User.Role)
		mockUserCollection.AssertExpectations(t)
	})

	for _, requested := range []models.Role{models.RoleAdmin, models.RoleManager, models.RoleTechnician} {
		t.Run("anonymous request for "+string(requested)+" gets viewer", func(t *testing.T) {
			mockUserCollection := new(MockUserCollection)
			handler := NewAuthHandler(authService, mockUserCollection, log.New())

			var stored *models.User
			mockUserCollection.On("InsertUser", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
				stored = args.Get(1).(*models.User)
			}).Return(nil)

			req := registerReq
			req.Role = requested
			w := httptest.NewRecorder()
			handler.Register(w, postJSON(t, "/api/auth/register", req))

			require.Equal(t, http.StatusCreated, w.Code)
			require.NotNil(t, stored)
			assert.Equal(t, models.RoleViewer, stored.Role)

			var response models.LoginResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			claims, err := authService.ValidateToken(response.Token)
			require.NoError(t, err)
			assert.Equal(t, models.RoleViewer, claims.Role)
		})
	}

	callerTests := []struct {
		name   string
		caller models.Role
		want   int
	}{
		{"admin assigns role", models.RoleAdmin, http.StatusCreated},
		{"manager cannot assign role", models.RoleManager, http.StatusForbidden},
		{"technician cannot assign role", models.RoleTechnician, http.StatusForbidden},
	}
	for _, tt := range callerTests {
		t.Run(tt.name, func(t *testing.T) {
			mockUserCollection := new(MockUserCollection)
			handler := NewAuthHandler(authService, mockUserCollection, log.New())
			if tt.want == http.StatusCreated {
				mockUserCollection.On("InsertUser", mock.Anything, mock.MatchedBy(func(u *models.User) bool {
					return u.Role == models.RoleTechnician
				})).Return(nil)
			}

			req := postJSON(t, "/api/auth/register", registerReq)
			req = req.WithContext(middleware.WithUser(req.Context(), &models.Claims{UserID: primitive.NewObjectID().Hex(), Role: tt.caller}))
			w := httptest.NewRecorder()
			handler.Register(w, req)

			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusForbidden {
				var resp errorResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, CodeForbidden, resp.Error.Code)
				mockUserCollection.AssertNotCalled(t, "InsertUser", mock.Anything, mock.Anything)
			}
			mockUserCollection.AssertExpectations(t)
		})
	}

	t.Run("viewer role needs no permission", func(t *testing.T) {
		mockUserCollection := new(MockUserCollection)
		handler := NewAuthHandler(authService, mockUserCollection, log.New())
		mockUserCollection.On("InsertUser", mock.Anything, mock.MatchedBy(func(u *models.User) bool {
			return u.Role == models.RoleViewer
		})).Return(nil)

		viewer := registerReq
		viewer.Role = models.RoleViewer
		req := postJSON(t, "/api/auth/register", viewer)
		req = req.WithContext(middleware.WithUser(req.Context(), &models.Claims{UserID: primitive.NewObjectID().Hex(), Role: models.RoleTechnician}))
		w := httptest.NewRecorder()
		handler.Register(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		mockUserCollection.AssertExpectations(t)
	})

	t.Run("username already exists", func(t *testing.T) {
		mockUserCollection := new(MockUserCollection)
		handler := NewAuthHandler(authService, mockUserCollection, log.New())

		mockUserCollection.On("InsertUser", mock.Anything, mock.Anything).Return(db.ErrDuplicate)

		w := httptest.NewRecorder()
		handler.Register(w, postJSON(t, "/api/auth/register", registerReq))

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("invalid role", func(t *testing.T) {
		mockUserCollection := new(MockUserCollection)
		handler := NewAuthHandler(authService, mockUserCollection, log.New())

		bad := registerReq
		bad.Role = "superuser"
		w := httptest.NewRecorder()
		handler.Register(w, postJSON(t, "/api/auth/register", bad))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var resp errorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, CodeValidation, resp.Error.Code)
		assert.Contains(t, resp.Error.Message, "role")
		mockUserCollection.AssertNotCalled(t, "InsertUser", mock.Anything, mock.Anything)
	})

	t.Run("unknown field", func(t *testing.T) {
		mockUserCollection := new(MockUserCollection)
		handler := NewAuthHandler(authService, mockUserCollection, log.New())

		w := httptest.NewRecorder()
		handler.Register(w, postJSON(t, "/api/auth/register", map[string]string{"username": "newuser", "is_admin": "yes"}))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAuthHandler_GetProfile(t *testing.T) {
	authService := newAuthService(t)

	t.Run("successful profile retrieval", func(t *testing.T) {
		mockUserCollection := new(MockUserCollection)
		handler := NewAuthHandler(authService, mockUserCollection, log.New())
		user := &models.User{ID: primitive.NewObjectID(), Username: "testuser", Role: models.RoleViewer, IsActive: true}

		mockUserCollection.On("FindUserByID", mock.Anything, user.ID).Return(user, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/auth/profile", nil)
		req = req.WithContext(middleware.WithUser(req.Context(), &models.Claims{UserID: user.ID.Hex(), Username: user.Username, Role: user.Role}))
		w := httptest.NewRecorder()
		handler.GetProfile(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var got models.User
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, "testuser", got.Username)
	})

	t.Run("user not found", func(t *testing.T) {
		mockUserCollection := new(MockUserCollection)
		handler := NewAuthHandler(authService, mockUserCollection, log.New())
		id := primitive.NewObjectID()

		mockUserCollection.On("FindUserByID", mock.Anything, id).Return(nil, db.ErrNotFound)

		req := httptest.NewRequest(http.MethodGet, "/api/auth/profile", nil)
		req = req.WithContext(middleware.WithUser(req.Context(), &models.Claims{UserID: id.Hex(), Role: models.RoleViewer}))
		w := httptest.NewRecorder()
		handler.GetProfile(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("no user in context", func(t *testing.T) {
		handler := NewAuthHandler(authService, new(MockUserCollection), log.New())

		w := httptest.NewRecorder()
		handler.GetProfile(w, httptest.NewRequest(http.MethodGet, "/api/auth/profile", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestAuthRoutes_RegisterThenLogin(t *testing.T) {
	api := newTestAPI(t)

	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, postJSON(t, "/api/auth/register", models.RegisterRequest{
		Username: "dispatcher",
		Email:    "dispatcher@example.com",
		Password: "s3cret-pass",
	}))
	require.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	api.router.ServeHTTP(w, postJSON(t, "/api/auth/login", models.LoginRequest{Username: "dispatcher", Password: "s3cret-pass"}))
	require.Equal(t, http.StatusOK, w.Code)
	var login models.LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))

	profile := api.do(t, http.MethodGet, "/api/auth/profile", login.Token, nil)
	assert.Equal(t, http.StatusOK, profile.Code)
	assert.Contains(t, profile.Body.String(), `"username":"dispatcher"`)
	assert.Contains(t, profile.Body.String(), `"last_login"`)
}

func TestAuthRoutes_RegisterRoleNeedsManageUsers(t *testing.T) {
	api := newTestAPI(t)
	signup := func(token, username string, role models.Role) *httptest.ResponseRecorder {
		return api.do(t, http.MethodPost, "/api/auth/register", token, models.RegisterRequest{
			Username: username,
			Email:    username + "@example.com",
			Password: "s3cret-pass",
			Role:     role,
		})
	}

	w := signup("", "intruder", models.RoleAdmin)
	require.Equal(t, http.StatusCreated, w.Code)
	var anon models.LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &anon))
	assert.Equal(t, models.RoleViewer, anon.User.Role)

	stored, err := api.store.Users().FindUserByUsername(context.Background(), "intruder")
	require.NoError(t, err)
	assert.Equal(t, models.RoleViewer, stored.Role)

	w = api.do(t, http.MethodPost, "/api/assets", anon.Token, map[string]string{"code": "EXC-9", "name": "Excavator", "category": "machine"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	managerToken, _ := api.token(t, models.RoleManager)
	w = signup(managerToken, "escalated", models.RoleAdmin)
	assert.Equal(t, http.StatusForbidden, w.Code)
	_, err = api.store.Users().FindUserByUsername(context.Background(), "escalated")
	assert.ErrorIs(t, err, db.ErrNotFound)

	adminToken, _ := api.token(t, models.RoleAdmin)
	w = signup(adminToken, "dispatcher", models.RoleManager)
	require.Equal(t, http.StatusCreated, w.Code)
	stored, err = api.store.Users().FindUserByUsername(context.Background(), "dispatcher")
	require.NoError(t, err)
	assert.Equal(t, models.RoleManager, stored.Role)

	w = signup("garbage", "anon2", models.RoleManager)
	require.Equal(t, http.StatusCreated, w.Code)
	stored, err = api.store.Users().FindUserByUsername(context.Background(), "anon2")
	require.NoError(t, err)
	assert.Equal(t, models.RoleViewer, stored.Role)
}

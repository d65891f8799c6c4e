package handlers

import (
	"errors"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-workorders/internal/auth"
	"github.com/ukydev/fleet-workorders/internal/db"
	"github.com/ukydev/fleet-workorders/internal/middleware"
	"github.com/ukydev/fleet-workorders/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AuthHandler handles authentication requests
type AuthHandler struct {
	authService    *auth.Service
	userCollection db.UserCollection
	log            *log.Logger
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(authService *auth.Service, userCollection db.UserCollection, logger *log.Logger) *AuthHandler {
	return &AuthHandler{
		authService:    authService,
		userCollection: userCollection,
		log:            logger,
	}
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var loginReq models.LoginRequest
	if err := decode(r, &loginReq); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	user, err := h.userCollection.FindUserByUsername(r.Context(), loginReq.Username)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			writeError(w, r, h.log, err)
			return
		}
		writeErrorCode(w, CodeUnauthorized, "Invalid credentials")
		return
	}

	switch err := h.authService.Authenticate(user, loginReq.Password); {
	case errors.Is(err, auth.ErrUserInactive):
		writeErrorCode(w, CodeUnauthorized, "Account is deactivated")
		return
	case err != nil:
		writeErrorCode(w, CodeUnauthorized, "Invalid credentials")
		return
	}

	response, err := h.issueTokens(user)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	if err := h.userCollection.UpdateLastLogin(r.Context(), user.ID); err != nil {
		h.log.WithError(err).WithField("user_id", user.ID.Hex()).Warn("failed to update last login")
	}

	writeJSON(w, http.StatusOK, response)
}

// Register handles POST /api/auth/register. Anonymous sign-ups always get the
// viewer role; any other role needs a caller with manage_users.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var registerReq models.RegisterRequest
	if err := decode(r, &registerReq); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	role := models.RoleViewer
	if registerReq.Role != "" && registerReq.Role != models.RoleViewer {
		claims, ok := middleware.GetUserFromContext(r.Context())
		switch {
		case !ok:
			h.log.WithField("requested_role", registerReq.Role).Debug("ignoring role on anonymous registration")
		case !(&models.User{Role: claims.Role}).HasPermission(models.PermManageUsers):
			writeErrorCode(w, CodeForbidden, "Assigning a role requires the manage_users permission")
			return
		default:
			role = registerReq.Role
		}
	}

	passwordHash, err := h.authService.HashPassword(registerReq.Password)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	user := &models.User{
		ID:           primitive.NewObjectID(),
		Username:     registerReq.Username,
		Email:        registerReq.Email,
		PasswordHash: passwordHash,
		Role:         role,
		FirstName:    registerReq.FirstName,
		LastName:     registerReq.LastName,
	}
	if err := h.userCollection.InsertUser(r.Context(), user); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			writeErrorCode(w, CodeConflict, "Username or email already exists")
			return
		}
		writeError(w, r, h.log, err)
		return
	}

	response, err := h.issueTokens(user)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	h.log.WithFields(log.Fields{"user_id": user.ID.Hex(), "role": user.Role}).Info("user registered")
	writeJSON(w, http.StatusCreated, response)
}

// GetProfile returns the current user's profile
func (h *AuthHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeErrorCode(w, CodeUnauthorized, "User context not found")
		return
	}
	id, err := primitive.ObjectIDFromHex(claims.UserID)
	if err != nil {
		writeErrorCode(w, CodeUnauthorized, "Invalid token subject")
		return
	}

	user, err := h.userCollection.FindUserByID(r.Context(), id)
	if err != nil {
		writeError(w, r, h.log, fmt.Errorf("user %s: %w", claims.UserID, err))
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) issueTokens(user *models.User) (*models.LoginResponse, error) {
	token, err := h.authService.GenerateToken(user)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	refreshToken, err := h.authService.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	return &models.LoginResponse{
		Token:        token,
		RefreshToken: refreshToken,
		User:         *user,
	}, nil
}

package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/pagemark-io/pagemark/internal/api/httputil"
	middleware "github.com/pagemark-io/pagemark/internal/api/middlewares"
	"github.com/pagemark-io/pagemark/internal/core"
	"github.com/pagemark-io/pagemark/internal/models"
	"github.com/pagemark-io/pagemark/internal/platform/apierr"
	"github.com/pagemark-io/pagemark/internal/platform/logger"
)

const tokenTTL = 24 * time.Hour

type AuthHandler struct {
	db        core.DbClient
	jwtSecret string
	log       *logger.Logger
}

func NewAuthHandler(db core.DbClient, jwtSecret string, log *logger.Logger) *AuthHandler {
	return &AuthHandler{db: db, jwtSecret: jwtSecret, log: log}
}

type credentialsRequest struct {
	FirstName string `json:"firstName,omitempty"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := httputil.DecodeJSON(w, r, 1<<20, &req); err != nil {
		httputil.WriteError(w, apierr.Validation("invalid request body"))
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || len(req.Password) < 8 {
		httputil.WriteError(w, apierr.Validation("email and a password of at least 8 characters are required"))
		return
	}

	if existing, err := h.db.GetUserByEmail(r.Context(), req.Email); err != nil {
		h.log.Error("signup lookup failed", "error", err)
		httputil.WriteError(w, apierr.Persistence(err))
		return
	} else if existing != nil {
		httputil.WriteJSON(w, http.StatusConflict, map[string]string{"error": "account already exists"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	now := time.Now()
	user := &models.User{
		ID:           uuid.NewString(),
		FirstName:    strings.TrimSpace(req.FirstName),
		Email:        req.Email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.db.CreateUser(r.Context(), user); err != nil {
		h.log.Error("signup insert failed", "email", req.Email, "error", err)
		httputil.WriteError(w, apierr.Persistence(err))
		return
	}

	h.issueToken(w, user.ID)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := httputil.DecodeJSON(w, r, 1<<20, &req); err != nil {
		httputil.WriteError(w, apierr.Validation("invalid request body"))
		return
	}

	user, err := h.db.GetUserByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		h.log.Error("login lookup failed", "error", err)
		httputil.WriteError(w, apierr.Persistence(err))
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		httputil.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}

	h.issueToken(w, user.ID)
}

func (h *AuthHandler) issueToken(w http.ResponseWriter, userID string) {
	token, err := middleware.IssueToken(h.jwtSecret, userID, tokenTTL)
	if err != nil {
		h.log.Error("token signing failed", "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tokenResponse{Token: token})
}

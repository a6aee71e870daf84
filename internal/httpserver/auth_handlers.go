package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/auth"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/userstore"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userPayload struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		s.respondError(w, http.StatusBadRequest, errors.New("valid email required"))
		return
	}
	if req.Password == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("password required"))
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	user, err := s.users.Create(r.Context(), email, hashed)
	if err != nil {
		if errors.Is(err, userstore.ErrEmailTaken) {
			s.respondError(w, http.StatusBadRequest, errors.New("email already registered"))
			return
		}
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	s.debugf("signup: created user %d (%s)", user.ID, user.Email)
	s.respondJSON(w, http.StatusCreated, userPayload{ID: user.ID, Email: user.Email})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))

	user, err := s.users.FindByEmail(r.Context(), email)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if user == nil || !auth.VerifyPassword(user.HashedPassword, req.Password) {
		s.respondError(w, http.StatusUnauthorized, errors.New("incorrect email or password"))
		return
	}

	token, err := s.auth.IssueToken(user.ID, user.Email, sessionTTL)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   false,
		Expires:  time.Now().Add(sessionTTL),
	})

	s.debugf("login: session issued for user %d", user.ID)
	s.respondJSON(w, http.StatusOK, map[string]any{
		"message": "Login successful",
		"user_id": user.ID,
		"email":   user.Email,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
	s.respondJSON(w, http.StatusOK, map[string]any{"message": "Logout successful"})
}

func (s *Server) handleUsersMe(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFromContext(r.Context())
	if !ok {
		s.respondError(w, http.StatusUnauthorized, errors.New("not authenticated"))
		return
	}
	user, err := s.users.FindByID(r.Context(), sess.UserID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if user == nil {
		s.respondError(w, http.StatusUnauthorized, errors.New("user not found"))
		return
	}
	s.respondJSON(w, http.StatusOK, userPayload{ID: user.ID, Email: user.Email})
}

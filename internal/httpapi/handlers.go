package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"botdeck/internal/auth"
	"botdeck/internal/storage"
)

type registerRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	FirstName string `json:"firstName" validate:"max=100"`
	LastName  string `json:"lastName" validate:"max=100"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type userResponse struct {
	ID              string    `json:"id"`
	Email           *string   `json:"email"`
	FirstName       *string   `json:"firstName"`
	LastName        *string   `json:"lastName"`
	ProfileImageURL *string   `json:"profileImageUrl"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type tokenResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

func toUserResponse(u storage.User) userResponse {
	return userResponse{
		ID:              u.ID,
		Email:           u.Email,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		ProfileImageURL: u.ProfileImageURL,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.respondError(w, r, err)
		return
	}

	if _, err := s.store.GetUserByEmail(r.Context(), req.Email); err == nil {
		s.respondError(w, r, badRequestf("email already registered"))
		return
	} else if !errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, r, err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	u := storage.User{
		ID:           uuid.NewString(),
		Email:        &req.Email,
		PasswordHash: &hash,
	}
	if req.FirstName != "" {
		u.FirstName = &req.FirstName
	}
	if req.LastName != "" {
		u.LastName = &req.LastName
	}
	if err := s.store.UpsertUser(r.Context(), u); err != nil {
		s.respondError(w, r, err)
		return
	}
	created, err := s.store.GetUser(r.Context(), u.ID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	token, err := s.sessions.Issue(r.Context(), u.ID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, tokenResponse{Token: token, User: toUserResponse(created)})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.respondError(w, r, err)
		return
	}

	u, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondJSON(w, http.StatusUnauthorized, errorResponse{Message: "invalid email or password"})
			return
		}
		s.respondError(w, r, err)
		return
	}
	if u.PasswordHash == nil || !auth.CheckPassword(*u.PasswordHash, req.Password) {
		s.respondJSON(w, http.StatusUnauthorized, errorResponse{Message: "invalid email or password"})
		return
	}

	token, err := s.sessions.Issue(r.Context(), u.ID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, tokenResponse{Token: token, User: toUserResponse(u)})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, _ string) {
	if err := s.sessions.Revoke(r.Context(), bearerToken(r)); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request, userID string) {
	u, err := s.store.GetUser(r.Context(), userID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toUserResponse(u))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, userID string) {
	summary, err := s.stats.Summary(r.Context(), userID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}

type activityEntry struct {
	ID             int64     `json:"id"`
	Platform       string    `json:"platform"`
	SenderID       *string   `json:"senderId"`
	MessageText    *string   `json:"messageText"`
	IsAutoResponse bool      `json:"isAutoResponse"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (s *Server) handleRecentActivity(w http.ResponseWriter, r *http.Request, userID string) {
	logs, err := s.stats.Recent(r.Context(), userID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	out := make([]activityEntry, 0, len(logs))
	for _, l := range logs {
		out = append(out, activityEntry{
			ID:             l.ID,
			Platform:       l.Platform,
			SenderID:       l.SenderID,
			MessageText:    l.MessageText,
			IsAutoResponse: l.IsAutoResponse,
			CreatedAt:      l.CreatedAt,
		})
	}
	s.respondJSON(w, http.StatusOK, out)
}

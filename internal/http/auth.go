package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/ride-coordination/internal/auth"
	"github.com/example/ride-coordination/internal/models"
)

type otpRequest struct {
	Phone string `json:"phone"`
}

type verifyRequest struct {
	Phone string      `json:"phone"`
	OTP   string      `json:"otp"`
	Name  string      `json:"name"`
	Role  models.Role `json:"role"`
}

type sessionResponse struct {
	Message string      `json:"message"`
	Token   string      `json:"token"`
	User    models.User `json:"user"`
}

func (s *Server) handleRequestOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.auth.RequestCode(r.Context(), req.Phone); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "code sent"})
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := s.auth.Verify(r.Context(), auth.VerifyRequest{Phone: req.Phone, Code: req.OTP, Name: req.Name, Role: req.Role})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status, msg := http.StatusOK, "logged in"
	if sess.Created {
		status, msg = http.StatusCreated, "registered"
	}
	writeJSON(w, status, sessionResponse{Message: msg, Token: sess.Token, User: sess.User})
}

func (s *Server) handleCheckPhone(w http.ResponseWriter, r *http.Request) {
	ok, err := s.auth.PhoneRegistered(r.Context(), mux.Vars(r)["phone"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": ok})
}

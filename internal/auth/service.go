// Package auth is the front door: one-time codes by phone, login or
// registration, and session tokens carrying the principal.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-coordination/internal/challenge"
	"github.com/example/ride-coordination/internal/models"
	"github.com/example/ride-coordination/internal/observability"
	"github.com/example/ride-coordination/internal/storage"
)

var (
	ErrInvalidPhone         = errors.New("invalid phone number")
	ErrInvalidCode          = errors.New("invalid or expired code")
	ErrRegistrationRequired = errors.New("name and role are required for new users")
	ErrInvalidRole          = errors.New("invalid role")
	ErrUnavailable          = errors.New("auth backend unavailable")
)

var phonePattern = regexp.MustCompile(`^\d{10,15}$`)

func ValidPhone(phone string) bool { return phonePattern.MatchString(phone) }

// CodeSender delivers an issued code to the phone's owner.
type CodeSender interface {
	SendCode(ctx context.Context, phone, code string) error
}

// LogSender writes codes to the log at debug level. Development only.
type LogSender struct{ Log *slog.Logger }

func (s LogSender) SendCode(_ context.Context, phone, code string) error {
	s.Log.Debug("otp_issued", "phone", phone, "code", code)
	return nil
}

type Service struct {
	users      storage.UserStore
	challenges challenge.Store
	tokens     *TokenManager
	sender     CodeSender
	now        func() time.Time
}

func NewService(users storage.UserStore, challenges challenge.Store, tokens *TokenManager, sender CodeSender) *Service {
	return &Service{users: users, challenges: challenges, tokens: tokens, sender: sender, now: time.Now}
}

// RequestCode issues a challenge for phone and hands it to the sender.
func (s *Service) RequestCode(ctx context.Context, phone string) error {
	phone = strings.TrimSpace(phone)
	if !ValidPhone(phone) {
		return ErrInvalidPhone
	}
	code, err := s.challenges.Issue(ctx, phone)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	observability.OTPIssuedTotal.Inc()
	if err := s.sender.SendCode(ctx, phone, code); err != nil {
		return fmt.Errorf("%w: send code: %v", ErrUnavailable, err)
	}
	return nil
}

type VerifyRequest struct {
	Phone string
	Code  string
	Name  string
	Role  models.Role
}

type Session struct {
	Token   string
	User    models.User
	Created bool
}

// Verify checks the code, then logs in the existing user or registers a new
// one. Name and role are only read for new users.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (Session, error) {
	phone := strings.TrimSpace(req.Phone)
	ok, err := s.challenges.Verify(ctx, phone, strings.TrimSpace(req.Code))
	if err != nil {
		observability.OTPVerificationsTotal.WithLabelValues("error").Inc()
		return Session{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ok {
		observability.OTPVerificationsTotal.WithLabelValues("rejected").Inc()
		return Session{}, ErrInvalidCode
	}
	observability.OTPVerificationsTotal.WithLabelValues("accepted").Inc()

	u, err := s.users.GetUserByPhone(ctx, phone)
	switch {
	case err == nil:
		return s.session(*u, false)
	case !errors.Is(err, storage.ErrNotFound):
		return Session{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" || req.Role == "" {
		return Session{}, ErrRegistrationRequired
	}
	if !req.Role.Valid() {
		return Session{}, ErrInvalidRole
	}
	nu := models.User{ID: uuid.NewString(), Phone: phone, Name: name, Role: req.Role, Verified: true, CreatedAt: s.now()}
	if err := s.users.CreateUser(ctx, &nu); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			// lost a race with a concurrent registration for the same phone
			existing, gerr := s.users.GetUserByPhone(ctx, phone)
			if gerr == nil {
				return s.session(*existing, false)
			}
		}
		return Session{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return s.session(nu, true)
}

func (s *Service) session(u models.User, created bool) (Session, error) {
	tok, err := s.tokens.Issue(u)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{Token: tok, User: u, Created: created}, nil
}

// PhoneRegistered reports whether a user exists for phone.
func (s *Service) PhoneRegistered(ctx context.Context, phone string) (bool, error) {
	if !ValidPhone(phone) {
		return false, ErrInvalidPhone
	}
	_, err := s.users.GetUserByPhone(ctx, phone)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

// ParseToken exposes the token manager to transports.
func (s *Service) ParseToken(token string) (models.Principal, error) { return s.tokens.Parse(token) }

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(models.Principal)
	return p, ok
}

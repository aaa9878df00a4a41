package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"gracelog/internal/metrics"
	"gracelog/internal/session"
)

var (
	ErrInvalidCredentials  = errors.New("invalid login credentials")
	ErrEmailTaken          = errors.New("user already registered")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrInvalidEmail        = errors.New("unable to validate email address: invalid format")
	ErrWeakPassword        = errors.New("password should be at least 6 characters")
)

// User is an account able to sign in.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store is the persistence accounts need. *Repository implements it.
type Store interface {
	CreateUser(ctx context.Context, u User) error
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	SaveRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	ConsumeRefreshToken(ctx context.Context, token string, now time.Time) (bool, error)
	RevokeUserTokens(ctx context.Context, userID string) error
}

// Options configures token issuance.
type Options struct {
	Issuer     string
	SigningKey string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Service handles sign-up, sign-in, token refresh and sign-out, and
// announces session transitions on the bus.
type Service struct {
	repo     Store
	bus      session.Bus
	opts     Options
	log      *zap.Logger
	metrics  *metrics.Metrics
	validate *validator.Validate
	cost     int
	now      func() time.Time
}

// NewService creates an account service. bus, log and m may be nil.
func NewService(repo Store, bus session.Bus, opts Options, log *zap.Logger, m *metrics.Metrics) *Service {
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = time.Hour
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 7 * 24 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		bus:      bus,
		opts:     opts,
		log:      log,
		metrics:  m,
		validate: validator.New(),
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp creates an account. No session is issued; the caller signs in next.
func (s *Service) SignUp(ctx context.Context, email, password string) (User, error) {
	email = normalizeEmail(email)
	if err := s.validate.Var(email, "required,email"); err != nil {
		return User{}, ErrInvalidEmail
	}
	if err := s.validate.Var(password, "required,min=6"); err != nil {
		return User{}, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return User{}, err
	}
	u := User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		return User{}, err
	}
	s.metrics.Auth("signed_up")
	s.log.Info("account created", zap.String("user_id", u.ID))
	return u, nil
}

// SignIn verifies the password and issues a session.
func (s *Service) SignIn(ctx context.Context, email, password string) (session.Session, error) {
	u, err := s.repo.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return session.Session{}, err
	}
	if u == nil || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		s.metrics.Auth("signin_failed")
		return session.Session{}, ErrInvalidCredentials
	}
	sess, err := s.issue(ctx, u.ID, u.Email)
	if err != nil {
		return session.Session{}, err
	}
	s.announce(ctx, session.SignedIn, u.ID, u.Email)
	return sess, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued. A token can be redeemed at most once.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (session.Session, error) {
	claims, err := Parse(refreshToken, s.opts.SigningKey, s.opts.Issuer, UseRefresh)
	if err != nil {
		return session.Session{}, ErrInvalidRefreshToken
	}
	ok, err := s.repo.ConsumeRefreshToken(ctx, refreshToken, s.now().UTC())
	if err != nil {
		return session.Session{}, err
	}
	if !ok {
		return session.Session{}, ErrInvalidRefreshToken
	}
	sess, err := s.issue(ctx, claims.Subject, claims.Email)
	if err != nil {
		return session.Session{}, err
	}
	s.announce(ctx, session.TokenRefreshed, claims.Subject, claims.Email)
	return sess, nil
}

// SignOut revokes every refresh token the user holds.
func (s *Service) SignOut(ctx context.Context, userID, email string) error {
	if userID == "" {
		return errors.New("user id required")
	}
	if err := s.repo.RevokeUserTokens(ctx, userID); err != nil {
		return err
	}
	s.announce(ctx, session.SignedOut, userID, email)
	return nil
}

func (s *Service) issue(ctx context.Context, userID, email string) (session.Session, error) {
	tokens, err := Issue(userID, email, s.opts.Issuer, s.opts.SigningKey, s.now(), s.opts.AccessTTL, s.opts.RefreshTTL)
	if err != nil {
		return session.Session{}, err
	}
	if err := s.repo.SaveRefreshToken(ctx, userID, tokens.RefreshToken, tokens.RefreshExp.UTC()); err != nil {
		return session.Session{}, err
	}
	return session.Session{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.AccessExp.UTC(),
		User:         session.User{ID: userID, Email: email},
	}, nil
}

// announce publishes a session event. Delivery failures are logged only: the
// transition itself already happened.
func (s *Service) announce(ctx context.Context, typ session.EventType, userID, email string) {
	s.metrics.Auth(string(typ))
	if s.bus == nil {
		return
	}
	evt := session.Event{Type: typ, UserID: userID, Email: email, At: s.now().UTC()}
	if err := s.bus.Publish(ctx, evt); err != nil {
		s.log.Warn("session event publish failed", zap.String("type", string(typ)), zap.Error(err))
	}
}

package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/2beens/fitcoach/internal/telemetry/metrics"
	"github.com/2beens/fitcoach/pkg"
)

type sessions interface {
	Login(ctx context.Context, userID string, createdAt time.Time) (string, error)
	Logout(ctx context.Context, token string) error
}

type SignupParams struct {
	Name     string
	Email    string
	Password string
}

type Service struct {
	repo         Repo
	sessions     sessions
	metrics      *metrics.Manager
	passwordCost int
	// injectable for tests
	now func() time.Time
}

func NewService(repo Repo, sessions sessions, metricsManager *metrics.Manager, passwordCost int) *Service {
	if passwordCost == 0 {
		passwordCost = pkg.DefaultPasswordCost
	}
	return &Service{
		repo:         repo,
		sessions:     sessions,
		metrics:      metricsManager,
		passwordCost: passwordCost,
		now:          time.Now,
	}
}

func (s *Service) Signup(ctx context.Context, params SignupParams) (*User, error) {
	passwordHash, err := pkg.HashPasswordWithCost(params.Password, s.passwordCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &User{
		ID:           uuid.New(),
		Name:         params.Name,
		Email:        params.Email,
		PasswordHash: passwordHash,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.Add(ctx, user); err != nil {
		return nil, err
	}

	s.metrics.CounterSignups.Inc()
	log.Debugf("new user signed up: %s", user.ID)
	return user, nil
}

// Login checks the credentials and starts a session. Unknown emails and
// wrong passwords both yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (_ *User, token string, err error) {
	defer func() {
		result := "ok"
		if err != nil {
			result = "failed"
		}
		s.metrics.CounterLogins.WithLabelValues(result).Inc()
	}()

	user, err := s.repo.GetByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", err
	}

	if !pkg.CheckPasswordHash(password, user.PasswordHash) {
		return nil, "", ErrInvalidCredentials
	}

	token, err = s.sessions.Login(ctx, user.ID.String(), s.now())
	if err != nil {
		return nil, "", fmt.Errorf("start session: %w", err)
	}

	return user, token, nil
}

func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.Logout(ctx, token)
}

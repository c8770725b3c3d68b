package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks UserStore,UserDetacher,TokenIssuer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"lagerkoll/internal/platform/metrics"
	"lagerkoll/internal/realtime"
	"lagerkoll/internal/users/models"
	dErrors "lagerkoll/pkg/domain-errors"
	"lagerkoll/pkg/platform/sentinel"
	"lagerkoll/pkg/platform/tracing"
	"lagerkoll/pkg/platform/tx"
	"lagerkoll/pkg/requestcontext"
	"lagerkoll/pkg/secrets"
)

type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	List(ctx context.Context) ([]*models.User, error)
	CountByRole(ctx context.Context, role models.Role) (int, error)
	Count(ctx context.Context) (int, error)
}

// UserDetacher clears references to a user from other records before the
// user is deleted.
type UserDetacher interface {
	DetachUser(ctx context.Context, userID uuid.UUID) error
}

type TokenIssuer interface {
	GenerateAccessToken(userID uuid.UUID, username, role string) (string, time.Time, error)
}

// Service manages accounts and sign-in. Every committed account change is
// published as one realtime event.
type Service struct {
	users     UserStore
	tokens    TokenIssuer
	publisher realtime.Publisher
	tx        tx.Runner
	detacher  UserDetacher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithPublisher(p realtime.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithTx sets the unit-of-work runner. Defaults to an in-memory runner.
func WithTx(r tx.Runner) Option {
	return func(s *Service) { s.tx = r }
}

func WithUserDetacher(d UserDetacher) Option {
	return func(s *Service) { s.detacher = d }
}

func New(users UserStore, tokens TokenIssuer, opts ...Option) *Service {
	s := &Service{
		users:     users,
		tokens:    tokens,
		publisher: realtime.PublisherFunc(func(context.Context, realtime.Event) {}),
		logger:    slog.Default(),
		tracer:    tracing.Tracer("lagerkoll/users"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tx == nil {
		s.tx = tx.NewMemoryRunner()
	}
	return s
}

// Login checks credentials and issues an access token. Unknown users and
// wrong passwords produce the same error.
func (s *Service) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResult, error) {
	user, err := s.users.FindByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.logger.WarnContext(ctx, "login failed", "reason", "unknown_user")
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}
	if err := secrets.Verify(req.Password, user.PasswordHash); err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			s.logger.WarnContext(ctx, "login failed", "reason", "bad_password", "user_id", user.ID)
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify password")
	}

	token, expiresAt, err := s.tokens.GenerateAccessToken(user.ID, user.Username, string(user.Role))
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "user_logged_in", "user_id", user.ID)
	return &models.LoginResult{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, wrapUserErr(err)
	}
	return user, nil
}

func (s *Service) List(ctx context.Context) ([]*models.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list users")
	}
	return users, nil
}

func (s *Service) Create(ctx context.Context, req models.CreateUserRequest) (user *models.User, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "users.Create")
	defer func() { tracing.End(span, err) }()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	hash, err := secrets.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		u, err := models.NewUser(uuid.New(), req.Username, hash, req.Role, requestcontext.Now(ctx))
		if err != nil {
			return toValidation(err)
		}
		if err := s.users.Create(ctx, u); err != nil {
			return wrapUserErr(err)
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.published(ctx, realtime.Created(realtime.ResourceUser, user), "user_created", "user_id", user.ID, "role", user.Role)
	return user, nil
}

// Update applies a partial update. Demoting the last admin is refused.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req models.UpdateUserRequest) (user *models.User, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "users.Update", attribute.String("user_id", id.String()))
	defer func() { tracing.End(span, err) }()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var hash string
	if req.Password != nil {
		if hash, err = secrets.Hash(*req.Password); err != nil {
			return nil, err
		}
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		u, err := s.users.FindByID(ctx, id)
		if err != nil {
			return wrapUserErr(err)
		}
		if req.Role != nil && u.IsAdmin() && *req.Role != models.RoleAdmin {
			if err := s.requireAnotherAdmin(ctx); err != nil {
				return err
			}
		}
		if req.Username != nil {
			u.Username = *req.Username
		}
		if req.Role != nil {
			u.Role = *req.Role
		}
		if hash != "" {
			u.PasswordHash = hash
		}
		u.UpdatedAt = requestcontext.Now(ctx)
		if err := s.users.Update(ctx, u); err != nil {
			return wrapUserErr(err)
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.published(ctx, realtime.Updated(realtime.ResourceUser, user), "user_updated", "user_id", user.ID)
	return user, nil
}

// Delete removes an account. Inventory counts it logged keep their values and
// lose the reference. The last admin cannot be deleted.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "users.Delete", attribute.String("user_id", id.String()))
	defer func() { tracing.End(span, err) }()

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		u, err := s.users.FindByID(ctx, id)
		if err != nil {
			return wrapUserErr(err)
		}
		if u.IsAdmin() {
			if err := s.requireAnotherAdmin(ctx); err != nil {
				return err
			}
		}
		if s.detacher != nil {
			if err := s.detacher.DetachUser(ctx, id); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to detach user references")
			}
		}
		return wrapUserErr(s.users.Delete(ctx, id))
	})
	if err != nil {
		return err
	}

	s.published(ctx, realtime.Deleted(realtime.ResourceUser, id), "user_deleted", "user_id", id)
	return nil
}

// VerifyPassword re-checks the password of the signed-in user before a
// destructive admin action.
func (s *Service) VerifyPassword(ctx context.Context, userID uuid.UUID, password string) error {
	if userID == uuid.Nil {
		return dErrors.New(dErrors.CodeUnauthorized, "password confirmation requires a signed-in user")
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}
	if err := secrets.Verify(password, user.PasswordHash); err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			s.logAudit(ctx, "password_verification_failed", "user_id", userID)
			return dErrors.New(dErrors.CodeUnauthorized, "incorrect password")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify password")
	}
	return nil
}

// ImportUsers creates every account in one unit of work and publishes a
// single users_imported event. Any invalid or duplicate row aborts the import.
func (s *Service) ImportUsers(ctx context.Context, reqs []models.CreateUserRequest) (created []*models.User, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, "users.Import", attribute.Int("rows", len(reqs)))
	defer func() { tracing.End(span, err) }()

	if len(reqs) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "no users to import")
	}
	hashes := make([]string, len(reqs))
	for i := range reqs {
		reqs[i].Normalize()
		if err := reqs[i].Validate(); err != nil {
			return nil, rowError(i, err)
		}
		if hashes[i], err = secrets.Hash(reqs[i].Password); err != nil {
			return nil, rowError(i, err)
		}
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		now := requestcontext.Now(ctx)
		seen := make(map[string]bool, len(reqs))
		users := make([]*models.User, 0, len(reqs))
		for i, req := range reqs {
			key := normalizeUsername(req.Username)
			if seen[key] {
				return rowError(i, dErrors.New(dErrors.CodeConflict, "duplicate username in file"))
			}
			seen[key] = true
			if _, err := s.users.FindByUsername(ctx, req.Username); err == nil {
				return rowError(i, dErrors.New(dErrors.CodeConflict, "username already exists"))
			} else if !errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check username")
			}
			u, err := models.NewUser(uuid.New(), req.Username, hashes[i], req.Role, now)
			if err != nil {
				return rowError(i, toValidation(err))
			}
			users = append(users, u)
		}
		for i, u := range users {
			if err := s.users.Create(ctx, u); err != nil {
				return rowError(i, wrapUserErr(err))
			}
		}
		created = users
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.published(ctx, realtime.Imported(realtime.ResourceUser, created, len(created)), "users_imported", "count", len(created))
	return created, nil
}

// EnsureBootstrapAdmin creates the first admin when no accounts exist. When
// password is empty one is generated and returned so the caller can show it
// once.
func (s *Service) EnsureBootstrapAdmin(ctx context.Context, username, password string) (created bool, generated string, err error) {
	n, err := s.users.Count(ctx)
	if err != nil {
		return false, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to count users")
	}
	if n > 0 {
		return false, "", nil
	}
	if password == "" {
		if generated, err = secrets.Generate(); err != nil {
			return false, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate admin password")
		}
		password = generated
	}
	user, err := s.Create(ctx, models.CreateUserRequest{Username: username, Password: password, Role: models.RoleAdmin})
	if err != nil {
		return false, "", err
	}
	s.logger.InfoContext(ctx, "bootstrap admin created", "user_id", user.ID, "username", user.Username)
	return true, generated, nil
}

func (s *Service) requireAnotherAdmin(ctx context.Context) error {
	n, err := s.users.CountByRole(ctx, models.RoleAdmin)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to count admins")
	}
	if n <= 1 {
		return dErrors.New(dErrors.CodeConflict, "at least one admin must remain")
	}
	return nil
}

// published runs after commit: one event, one audit line, one metric.
func (s *Service) published(ctx context.Context, ev realtime.Event, action string, attrs ...any) {
	s.publisher.Publish(ctx, ev)
	s.metrics.IncrementMutation(string(realtime.ResourceUser), ev.Kind().String())
	s.logAudit(ctx, action, attrs...)
}

func (s *Service) logAudit(ctx context.Context, event string, attrs ...any) {
	args := append([]any{
		"log_type", "audit",
		"event", event,
		"actor_id", requestcontext.UserID(ctx),
		"request_id", requestcontext.RequestID(ctx),
	}, attrs...)
	s.logger.InfoContext(ctx, event, args...)
}

func wrapUserErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "user not found")
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.New(dErrors.CodeConflict, "username is already taken")
	case dErrors.CodeOf(err) != dErrors.CodeInternal:
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "user store failure")
	}
}

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"lagerkoll/internal/platform/logger"
	"lagerkoll/internal/realtime"
	realtimemocks "lagerkoll/internal/realtime/mocks"
	"lagerkoll/internal/users/models"
	"lagerkoll/internal/users/service/mocks"
	dErrors "lagerkoll/pkg/domain-errors"
	"lagerkoll/pkg/platform/sentinel"
	"lagerkoll/pkg/requestcontext"
	"lagerkoll/pkg/secrets"
)

type ServiceSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	store     *mocks.MockUserStore
	tokens    *mocks.MockTokenIssuer
	detacher  *mocks.MockUserDetacher
	publisher *realtimemocks.MockPublisher
	service   *Service
	ctx       context.Context
	now       time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = mocks.NewMockUserStore(s.ctrl)
	s.tokens = mocks.NewMockTokenIssuer(s.ctrl)
	s.detacher = mocks.NewMockUserDetacher(s.ctrl)
	s.publisher = realtimemocks.NewMockPublisher(s.ctrl)
	s.service = New(s.store, s.tokens,
		WithPublisher(s.publisher),
		WithUserDetacher(s.detacher),
		WithLogger(logger.Discard()),
	)
	s.now = time.Date(2024, 11, 4, 8, 30, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *ServiceSuite) user(role models.Role, password string) *models.User {
	hash, err := secrets.Hash(password)
	s.Require().NoError(err)
	u, err := models.NewUser(uuid.New(), "anna", hash, role, s.now)
	s.Require().NoError(err)
	return u
}

func (s *ServiceSuite) TestCreate() {
	s.Run("publishes one user_created event after the store accepts the user", func() {
		var stored *models.User
		s.store.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, u *models.User) error {
				stored = u
				return nil
			})
		s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Do(
			func(_ context.Context, ev realtime.Event) {
				s.Equal("user_created", ev.Type())
				s.Same(stored, ev.Data())
			}).Times(1)

		user, err := s.service.Create(s.ctx, models.CreateUserRequest{Username: "  Erik ", Password: "lager-2024"})
		s.Require().NoError(err)
		s.Equal("Erik", user.Username)
		s.Equal(models.RoleWorker, user.Role)
		s.Equal(s.now, user.CreatedAt)
		s.NotEqual("lager-2024", user.PasswordHash)
	})

	s.Run("duplicate username is a conflict and publishes nothing", func() {
		s.store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(sentinel.ErrAlreadyUsed)

		_, err := s.service.Create(s.ctx, models.CreateUserRequest{Username: "erik", Password: "lager-2024"})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("validation fails before touching the store", func() {
		_, err := s.service.Create(s.ctx, models.CreateUserRequest{Username: "erik", Password: "lager-2024", Role: "boss"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		_, err = s.service.Create(s.ctx, models.CreateUserRequest{Username: "erik", Password: "short"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestUpdate() {
	s.Run("demoting the last admin is refused", func() {
		admin := s.user(models.RoleAdmin, "lager-2024")
		worker := models.RoleWorker
		s.store.EXPECT().FindByID(gomock.Any(), admin.ID).Return(admin, nil)
		s.store.EXPECT().CountByRole(gomock.Any(), models.RoleAdmin).Return(1, nil)

		_, err := s.service.Update(s.ctx, admin.ID, models.UpdateUserRequest{Role: &worker})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("demoting one of two admins publishes user_updated", func() {
		admin := s.user(models.RoleAdmin, "lager-2024")
		worker := models.RoleWorker
		s.store.EXPECT().FindByID(gomock.Any(), admin.ID).Return(admin, nil)
		s.store.EXPECT().CountByRole(gomock.Any(), models.RoleAdmin).Return(2, nil)
		s.store.EXPECT().Update(gomock.Any(), gomock.Any()).Return(nil)
		s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Do(
			func(_ context.Context, ev realtime.Event) {
				s.Equal("user_updated", ev.Type())
			})

		user, err := s.service.Update(s.ctx, admin.ID, models.UpdateUserRequest{Role: &worker})
		s.Require().NoError(err)
		s.Equal(models.RoleWorker, user.Role)
		s.Equal(s.now, user.UpdatedAt)
	})

	s.Run("unknown user is not found", func() {
		name := "someone"
		id := uuid.New()
		s.store.EXPECT().FindByID(gomock.Any(), id).Return(nil, sentinel.ErrNotFound)

		_, err := s.service.Update(s.ctx, id, models.UpdateUserRequest{Username: &name})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestDelete() {
	s.Run("detaches references, deletes, then publishes user_deleted", func() {
		worker := s.user(models.RoleWorker, "lager-2024")
		gomock.InOrder(
			s.store.EXPECT().FindByID(gomock.Any(), worker.ID).Return(worker, nil),
			s.detacher.EXPECT().DetachUser(gomock.Any(), worker.ID).Return(nil),
			s.store.EXPECT().Delete(gomock.Any(), worker.ID).Return(nil),
			s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Do(
				func(_ context.Context, ev realtime.Event) {
					s.Equal("user_deleted", ev.Type())
					s.Equal(realtime.DeletedData{ID: worker.ID}, ev.Data())
				}),
		)

		s.Require().NoError(s.service.Delete(s.ctx, worker.ID))
	})

	s.Run("last admin cannot be deleted", func() {
		admin := s.user(models.RoleAdmin, "lager-2024")
		s.store.EXPECT().FindByID(gomock.Any(), admin.ID).Return(admin, nil)
		s.store.EXPECT().CountByRole(gomock.Any(), models.RoleAdmin).Return(1, nil)

		err := s.service.Delete(s.ctx, admin.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("store failure publishes nothing", func() {
		worker := s.user(models.RoleWorker, "lager-2024")
		s.store.EXPECT().FindByID(gomock.Any(), worker.ID).Return(worker, nil)
		s.detacher.EXPECT().DetachUser(gomock.Any(), worker.ID).Return(nil)
		s.store.EXPECT().Delete(gomock.Any(), worker.ID).Return(errors.New("connection reset"))

		err := s.service.Delete(s.ctx, worker.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

func (s *ServiceSuite) TestLogin() {
	user := s.user(models.RoleWorker, "lager-2024")
	expires := s.now.Add(time.Hour)

	s.Run("valid credentials issue a token", func() {
		s.store.EXPECT().FindByUsername(gomock.Any(), "anna").Return(user, nil)
		s.tokens.EXPECT().GenerateAccessToken(user.ID, "anna", "worker").Return("tok", expires, nil)

		res, err := s.service.Login(s.ctx, models.LoginRequest{Username: "anna", Password: "lager-2024"})
		s.Require().NoError(err)
		s.Equal("tok", res.Token)
		s.Equal(expires, res.ExpiresAt)
		s.Equal(user.ID, res.User.ID)
	})

	s.Run("wrong password and unknown user look the same", func() {
		s.store.EXPECT().FindByUsername(gomock.Any(), "anna").Return(user, nil)
		_, wrongPassword := s.service.Login(s.ctx, models.LoginRequest{Username: "anna", Password: "not-the-one"})

		s.store.EXPECT().FindByUsername(gomock.Any(), "ghost").Return(nil, sentinel.ErrNotFound)
		_, unknown := s.service.Login(s.ctx, models.LoginRequest{Username: "ghost", Password: "lager-2024"})

		s.True(dErrors.HasCode(wrongPassword, dErrors.CodeUnauthorized))
		s.True(dErrors.HasCode(unknown, dErrors.CodeUnauthorized))
		s.Equal(dErrors.MessageOf(wrongPassword), dErrors.MessageOf(unknown))
	})
}

func (s *ServiceSuite) TestVerifyPassword() {
	admin := s.user(models.RoleAdmin, "lager-2024")

	s.Run("correct password", func() {
		s.store.EXPECT().FindByID(gomock.Any(), admin.ID).Return(admin, nil)
		s.NoError(s.service.VerifyPassword(s.ctx, admin.ID, "lager-2024"))
	})

	s.Run("incorrect password", func() {
		s.store.EXPECT().FindByID(gomock.Any(), admin.ID).Return(admin, nil)
		err := s.service.VerifyPassword(s.ctx, admin.ID, "guess-guess")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("no signed-in user", func() {
		err := s.service.VerifyPassword(s.ctx, uuid.Nil, "lager-2024")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *ServiceSuite) TestImportUsers() {
	s.Run("creates every row and publishes a single users_imported event", func() {
		s.store.EXPECT().FindByUsername(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrNotFound).Times(2)
		s.store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil).Times(2)
		s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Do(
			func(_ context.Context, ev realtime.Event) {
				s.Equal("users_imported", ev.Type())
				data, ok := ev.Data().(realtime.ImportedData)
				s.Require().True(ok)
				s.Equal(2, data.Count)
			}).Times(1)

		created, err := s.service.ImportUsers(s.ctx, []models.CreateUserRequest{
			{Username: "erik", Password: "lager-2024"},
			{Username: "maja", Password: "lager-2024", Role: models.RoleAdmin},
		})
		s.Require().NoError(err)
		s.Len(created, 2)
	})

	s.Run("duplicate row aborts before any write", func() {
		s.store.EXPECT().FindByUsername(gomock.Any(), "erik").Return(nil, sentinel.ErrNotFound)

		_, err := s.service.ImportUsers(s.ctx, []models.CreateUserRequest{
			{Username: "erik", Password: "lager-2024"},
			{Username: "ERIK", Password: "lager-2024"},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Contains(dErrors.MessageOf(err), "row 2")
	})

	s.Run("invalid row names its position", func() {
		_, err := s.service.ImportUsers(s.ctx, []models.CreateUserRequest{
			{Username: "erik", Password: "lager-2024"},
			{Username: "", Password: "lager-2024"},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Contains(dErrors.MessageOf(err), "row 2")
	})

	s.Run("empty import is rejected", func() {
		_, err := s.service.ImportUsers(s.ctx, nil)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestEnsureBootstrapAdmin() {
	s.Run("existing accounts leave everything alone", func() {
		s.store.EXPECT().Count(gomock.Any()).Return(3, nil)

		created, generated, err := s.service.EnsureBootstrapAdmin(s.ctx, "admin", "")
		s.Require().NoError(err)
		s.False(created)
		s.Empty(generated)
	})

	s.Run("empty store gets an admin with a generated password", func() {
		var stored *models.User
		s.store.EXPECT().Count(gomock.Any()).Return(0, nil)
		s.store.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, u *models.User) error {
				stored = u
				return nil
			})
		s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any())

		created, generated, err := s.service.EnsureBootstrapAdmin(s.ctx, "admin", "")
		s.Require().NoError(err)
		s.True(created)
		s.NotEmpty(generated)
		s.Require().NotNil(stored)
		s.Equal(models.RoleAdmin, stored.Role)
		s.NoError(secrets.Verify(generated, stored.PasswordHash))
	})

	s.Run("configured password is used and not echoed back", func() {
		s.store.EXPECT().Count(gomock.Any()).Return(0, nil)
		s.store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
		s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any())

		created, generated, err := s.service.EnsureBootstrapAdmin(s.ctx, "admin", "configured-secret")
		s.Require().NoError(err)
		s.True(created)
		s.Empty(generated)
	})
}

func TestServiceDefaults(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockUserStore(ctrl)
	store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)

	svc := New(store, mocks.NewMockTokenIssuer(ctrl), WithLogger(logger.Discard()))
	user, err := svc.Create(context.Background(), models.CreateUserRequest{Username: "erik", Password: "lager-2024"})

	require.NoError(t, err)
	assert.Equal(t, "erik", user.Username)
}

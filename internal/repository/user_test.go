package repository_test

import (
	"context"

	"github.com/google/uuid"

	"github.com/mtlprog/deepflow/internal/domain"
	"github.com/mtlprog/deepflow/internal/repository"
)

func (s *QueueRepositoryTestSuite) TestUser_CreateAndLookupByToken() {
	ctx := context.Background()
	users := repository.NewUserRepository(s.pool)

	user := &domain.User{Name: "carol", Token: uuid.NewString(), IsActive: true}
	s.Require().NoError(users.Create(ctx, user))
	s.NotEmpty(user.ID)
	s.False(user.CreatedAt.IsZero())
	defer func() {
		_, err := s.pool.Exec(ctx, "DELETE FROM users WHERE id = $1", user.ID)
		s.NoError(err)
	}()

	found, err := users.GetByToken(ctx, user.Token)
	s.Require().NoError(err)
	s.Equal(user.ID, found.ID)
	s.True(found.IsActive)

	_, err = users.GetByToken(ctx, "no-such-token")
	s.ErrorIs(err, domain.ErrUserNotFound)
}

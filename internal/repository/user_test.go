package repository

import (
	"context"
	"testing"
	"time"

	"github.com/AlexandrGonin/QuantumTTT3D/internal/entity"
	"github.com/AlexandrGonin/QuantumTTT3D/testing/suite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRepository_Save(t *testing.T) {
	ctx, st := suite.New(t)

	userRepo := NewUserRepository(st.Storage, time.Hour)

	// Given: a verified user
	user := &entity.User{ID: "123", DisplayName: "Alice", Handle: "alice"}

	// When: Save is called
	err := userRepo.Save(ctx, user)

	// Then: no error should be returned, and user is stored
	require.NoError(t, err)
}

func TestUserRepository_GetByID(t *testing.T) {
	t.Run("GetByID_Success", func(t *testing.T) {
		ctx, st := suite.New(t)

		userRepo := NewUserRepository(st.Storage, time.Hour)

		// Given: a stored user
		user := &entity.User{ID: "123", DisplayName: "Alice", Handle: "alice"}
		require.NoError(t, userRepo.Save(ctx, user))

		// When: GetByID is called with existing ID
		retrievedUser, err := userRepo.GetByID(ctx, user.ID)

		// Then: the retrieved user should match the saved user
		require.NoError(t, err)
		require.Equal(t, user, retrievedUser)
	})

	t.Run("GetByID_NotFound", func(t *testing.T) {
		ctx, st := suite.New(t)

		userRepo := NewUserRepository(st.Storage, time.Hour)

		// When: GetByID is called with non-existent ID
		retrievedUser, err := userRepo.GetByID(ctx, "9999999")

		// Then: an ErrUserNotFound error should be returned
		require.ErrorIs(t, err, ErrUserNotFound)
		assert.Nil(t, retrievedUser)
	})

	t.Run("GetByID_Expired", func(t *testing.T) {
		ctx, st := suite.New(t)

		userRepo := NewUserRepository(st.Storage, time.Minute)

		// Given: a stored user whose TTL has passed
		require.NoError(t, userRepo.Save(ctx, &entity.User{ID: "123"}))
		st.FastForward(2 * time.Minute)

		// When: GetByID is called
		_, err := userRepo.GetByID(ctx, "123")

		// Then: the user is gone
		require.ErrorIs(t, err, ErrUserNotFound)
	})
}

func TestMemoryUserRepository(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	userRepo := NewMemoryUserRepository()

	// Given: a stored user
	user := &entity.User{ID: "123", DisplayName: "Alice"}
	require.NoError(t, userRepo.Save(ctx, user))

	// Then: it can be read back and unknown ids are reported
	retrievedUser, err := userRepo.GetByID(ctx, "123")
	require.NoError(t, err)
	assert.Equal(t, user, retrievedUser)

	_, err = userRepo.GetByID(ctx, "456")
	require.ErrorIs(t, err, ErrUserNotFound)
}

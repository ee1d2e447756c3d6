package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AlexandrGonin/QuantumTTT3D/internal/entity"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository is the directory of verified identities, keyed by user id.
type UserRepository interface {
	Save(ctx context.Context, user *entity.User) error
	GetByID(ctx context.Context, id string) (*entity.User, error)
}

type dbUser struct {
	client *redis.Client
	ttl    time.Duration
}

func NewUserRepository(client *redis.Client, ttl time.Duration) UserRepository {
	return &dbUser{
		client: client,
		ttl:    ttl,
	}
}

func (that *dbUser) Save(ctx context.Context, user *entity.User) error {
	userJSON, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	userKey := "user:" + user.ID
	if err = that.client.Set(ctx, userKey, userJSON, that.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set user: %w", err)
	}

	return nil
}

func (that *dbUser) GetByID(ctx context.Context, id string) (*entity.User, error) {
	userKey := "user:" + id

	response, err := that.client.Get(ctx, userKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrUserNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}

	var user entity.User
	if err = json.Unmarshal([]byte(response), &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}

	return &user, nil
}

type memoryUser struct {
	mu    sync.RWMutex
	users map[string]entity.User
}

// NewMemoryUserRepository - is used when Redis is disabled. Entries live as long as the process.
func NewMemoryUserRepository() UserRepository {
	return &memoryUser{users: make(map[string]entity.User)}
}

func (that *memoryUser) Save(_ context.Context, user *entity.User) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.users[user.ID] = *user

	return nil
}

func (that *memoryUser) GetByID(_ context.Context, id string) (*entity.User, error) {
	that.mu.RLock()
	defer that.mu.RUnlock()

	user, ok := that.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}

	return &user, nil
}

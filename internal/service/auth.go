package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/AlexandrGonin/QuantumTTT3D/internal/apperror"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/entity"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/pkg"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/repository"
)

const webAppDataKey = "WebAppData"

// IdentityVerifier turns a signed credential into a user identity.
type IdentityVerifier interface {
	Verify(ctx context.Context, credential string) (*entity.User, error)
}

// TelegramVerifier validates Telegram WebApp init data.
type TelegramVerifier struct {
	botToken string
	maxAge   time.Duration
	clock    pkg.Clock
}

func NewTelegramVerifier(botToken string, maxAge time.Duration, clock pkg.Clock) *TelegramVerifier {
	return &TelegramVerifier{
		botToken: botToken,
		maxAge:   maxAge,
		clock:    clock,
	}
}

type telegramUser struct {
	ID        json.Number `json:"id"`
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
	Username  string      `json:"username"`
}

func (that *TelegramVerifier) Verify(_ context.Context, initData string) (*entity.User, error) {
	if that.botToken == "" {
		return nil, fmt.Errorf("%w: bot token is not configured", apperror.ErrInvalidCredential)
	}

	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperror.ErrInvalidCredential, err)
	}

	hash := values.Get("hash")
	if hash == "" {
		return nil, fmt.Errorf("%w: hash is missing", apperror.ErrInvalidCredential)
	}

	expected := signature(that.botToken, values)
	if !hmac.Equal([]byte(strings.ToLower(hash)), []byte(expected)) {
		return nil, fmt.Errorf("%w: signature mismatch", apperror.ErrInvalidCredential)
	}

	if err = that.checkAuthDate(values.Get("auth_date")); err != nil {
		return nil, err
	}

	var tgUser telegramUser
	if err = json.Unmarshal([]byte(values.Get("user")), &tgUser); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal user: %w", apperror.ErrInvalidCredential, err)
	}

	if tgUser.ID == "" {
		return nil, fmt.Errorf("%w: user id is missing", apperror.ErrInvalidCredential)
	}

	return &entity.User{
		ID:          tgUser.ID.String(),
		DisplayName: displayName(tgUser),
		Handle:      tgUser.Username,
	}, nil
}

func (that *TelegramVerifier) checkAuthDate(raw string) error {
	if that.maxAge <= 0 {
		return nil
	}

	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad auth_date", apperror.ErrInvalidCredential)
	}

	if that.clock.Now().Sub(time.Unix(seconds, 0)) > that.maxAge {
		return fmt.Errorf("%w: init data expired", apperror.ErrInvalidCredential)
	}

	return nil
}

// SignInitData - returns values encoded as init data signed for botToken.
func SignInitData(botToken string, values url.Values) string {
	signed := url.Values{}
	for key, vals := range values {
		if key != "hash" {
			signed[key] = vals
		}
	}

	signed.Set("hash", signature(botToken, signed))

	return signed.Encode()
}

func signature(botToken string, values url.Values) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		if key != "hash" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+values.Get(key))
	}

	secret := hmacSHA256([]byte(webAppDataKey), []byte(botToken))

	return hex.EncodeToString(hmacSHA256(secret, []byte(strings.Join(pairs, "\n"))))
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)

	return mac.Sum(nil)
}

func displayName(user telegramUser) string {
	name := strings.TrimSpace(user.FirstName + " " + user.LastName)

	switch {
	case name != "":
		return name
	case user.Username != "":
		return user.Username
	default:
		return "Player " + user.ID.String()
	}
}

// AuthService verifies credentials and keeps the directory of known users.
type AuthService struct {
	logger   *slog.Logger
	verifier IdentityVerifier
	users    repository.UserRepository
}

func NewAuthService(logger *slog.Logger, verifier IdentityVerifier, users repository.UserRepository) *AuthService {
	return &AuthService{
		logger:   logger,
		verifier: verifier,
		users:    users,
	}
}

func (that *AuthService) Authenticate(ctx context.Context, credential string) (*entity.User, error) {
	log := that.logger.With("method", "Authenticate")

	user, err := that.verifier.Verify(ctx, credential)
	if err != nil {
		log.Info("credential rejected", "error", err)
		return nil, err
	}

	if err = that.users.Save(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to save user: %w", err)
	}

	log.Info("user authenticated", "userID", user.ID)

	return user, nil
}

// Resolve - returns the identity of a user that authenticated earlier.
func (that *AuthService) Resolve(ctx context.Context, userID string) (*entity.User, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: userId is required", apperror.ErrValidation)
	}

	user, err := that.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, apperror.ErrUnauthorized
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	customerrors "github.com/axellelanca/linkcloak/internal/errors"
)

// CodeStore holds one-time extension codes. Consume succeeds at most once per
// code; unknown, expired and replayed codes all return ErrCodeInvalid.
type CodeStore interface {
	Issue(ctx context.Context, subject string, ttl time.Duration) (string, error)
	Consume(ctx context.Context, code string) (string, error)
}

// NewCode returns an opaque random code.
func NewCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CodeRepository is the persistence the SQL store needs; repository.GormCodeRepository satisfies it.
type CodeRepository interface {
	Save(ctx context.Context, code, subject string, ttl time.Duration) error
	Consume(ctx context.Context, code string) (string, error)
}

// SQLCodeStore keeps codes in the relational store through the code repository.
type SQLCodeStore struct {
	repo CodeRepository
}

func NewSQLCodeStore(repo CodeRepository) *SQLCodeStore {
	return &SQLCodeStore{repo: repo}
}

func (s *SQLCodeStore) Issue(ctx context.Context, subject string, ttl time.Duration) (string, error) {
	code := NewCode()
	if err := s.repo.Save(ctx, code, subject, ttl); err != nil {
		return "", err
	}
	return code, nil
}

func (s *SQLCodeStore) Consume(ctx context.Context, code string) (string, error) {
	if code == "" {
		return "", customerrors.ErrCodeInvalid
	}
	return s.repo.Consume(ctx, code)
}

// RedisCodeStore keeps codes as expiring keys; GETDEL makes the read and the
// delete one atomic step.
type RedisCodeStore struct {
	client *redis.Client
	prefix string
}

func NewRedisCodeStore(client *redis.Client) *RedisCodeStore {
	return &RedisCodeStore{client: client, prefix: "extension:code:"}
}

func (s *RedisCodeStore) Issue(ctx context.Context, subject string, ttl time.Duration) (string, error) {
	code := NewCode()
	if err := s.client.Set(ctx, s.prefix+code, subject, ttl).Err(); err != nil {
		return "", fmt.Errorf("store extension code: %w", err)
	}
	return code, nil
}

func (s *RedisCodeStore) Consume(ctx context.Context, code string) (string, error) {
	if code == "" {
		return "", customerrors.ErrCodeInvalid
	}
	subject, err := s.client.GetDel(ctx, s.prefix+code).Result()
	if errors.Is(err, redis.Nil) {
		return "", customerrors.ErrCodeInvalid
	}
	if err != nil {
		return "", fmt.Errorf("consume extension code: %w", err)
	}
	return subject, nil
}

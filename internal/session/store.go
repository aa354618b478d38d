// Package session はリフレッシュトークンをRedisに保持するセッションキャッシュを提供する。
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL はリフレッシュトークンの保持期間（7日）。
const DefaultTTL = 7 * 24 * time.Hour

// Store はユーザーごとに1つのリフレッシュトークンを保持する。
type Store interface {
	// Save はリフレッシュトークンを保存する。既存のトークンは上書きされる。
	Save(ctx context.Context, userID, refreshToken string) error
	// Get は保存済みのリフレッシュトークンを返す。存在しない場合は空文字を返す。
	Get(ctx context.Context, userID string) (string, error)
	// Delete はリフレッシュトークンを削除する。存在しない場合もエラーにならない。
	Delete(ctx context.Context, userID string) error
	// Rotate は保存済みのトークンがcurrentと一致する場合のみnextに置き換える。
	// 置き換えた場合はtrueを返す。比較と置き換えは不可分に行う。
	Rotate(ctx context.Context, userID, current, next string) (bool, error)
}

// rotateScript は一致した場合のみ新しいトークンをTTL付きで保存する。
var rotateScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
	return 1
end
return 0
`)

// RedisStore はRedisを使用したStoreの実装。
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStore はRedisStoreを生成する。ttlが0以下の場合はDefaultTTLを使用する。
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// RefreshKey はユーザーIDからリフレッシュトークンのキーを生成する。
func RefreshKey(userID string) string {
	return fmt.Sprintf("user:%s:refresh", userID)
}

// Save はリフレッシュトークンをTTL付きで保存する。
func (s *RedisStore) Save(ctx context.Context, userID, refreshToken string) error {
	if err := s.client.Set(ctx, RefreshKey(userID), refreshToken, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}
	return nil
}

// Get は保存済みのリフレッシュトークンを返す。存在しない場合は空文字を返す。
func (s *RedisStore) Get(ctx context.Context, userID string) (string, error) {
	token, err := s.client.Get(ctx, RefreshKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get refresh token: %w", err)
	}
	return token, nil
}

// Delete はリフレッシュトークンを削除する。
func (s *RedisStore) Delete(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, RefreshKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}

// Rotate はLuaスクリプトでトークンを比較し、一致した場合のみ置き換える。
func (s *RedisStore) Rotate(ctx context.Context, userID, current, next string) (bool, error) {
	replaced, err := rotateScript.Run(ctx, s.client,
		[]string{RefreshKey(userID)},
		current, next, s.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to rotate refresh token: %w", err)
	}
	return replaced == 1, nil
}

// compile-time interface check
var _ Store = (*RedisStore)(nil)

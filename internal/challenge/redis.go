package challenge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps codes in a hash per phone with the expiry instant stored
// alongside. Expiry is checked on read; the key TTL only bounds memory.
type RedisStore struct {
	client *redis.Client
	prefix string
	opts   options
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client, opts ...Option) *RedisStore {
	return &RedisStore{client: client, prefix: "otp:", opts: buildOptions(opts)}
}

func (r *RedisStore) key(phone string) string { return r.prefix + phone }

func (r *RedisStore) Issue(ctx context.Context, phone string) (string, error) {
	code, err := r.opts.generate()
	if err != nil {
		return "", err
	}
	expiresAt := r.opts.now().Add(r.opts.ttl)
	k := r.key(phone)
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, k)
		p.HSet(ctx, k, "code", code, "expires_at", strconv.FormatInt(expiresAt.UnixNano(), 10))
		p.Expire(ctx, k, 2*r.opts.ttl)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("store challenge: %w", err)
	}
	return code, nil
}

// maxVerifyAttempts bounds retries when a concurrent Issue touches the key
// between the read and the delete.
const maxVerifyAttempts = 3

// Verify reads and, when needed, deletes under WATCH so a challenge issued
// concurrently is never evicted or consumed by a check made against the
// entry it replaced.
func (r *RedisStore) Verify(ctx context.Context, phone, code string) (bool, error) {
	k := r.key(phone)
	for attempt := 0; attempt < maxVerifyAttempts; attempt++ {
		var ok bool
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			var err error
			ok, err = r.verifyTx(ctx, tx, k, code)
			return err
		}, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, err
		}
		return ok, nil
	}
	return false, fmt.Errorf("verify challenge: %w", redis.TxFailedErr)
}

func (r *RedisStore) verifyTx(ctx context.Context, tx *redis.Tx, k, code string) (bool, error) {
	vals, err := tx.HGetAll(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("read challenge: %w", err)
	}
	stored, ok := vals["code"]
	if !ok {
		return false, nil
	}
	exp, perr := strconv.ParseInt(vals["expires_at"], 10, 64)
	expired := perr != nil || r.opts.now().After(time.Unix(0, exp))
	matched := !expired && codesEqual(stored, code)
	if !expired && !(matched && r.opts.singleUse) {
		return matched, nil
	}
	// evict the expired entry or consume the matched one; EXEC fails with
	// TxFailedErr if the key changed since WATCH
	if _, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, k)
		return nil
	}); err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return false, err
		}
		return false, fmt.Errorf("delete challenge: %w", err)
	}
	return matched, nil
}

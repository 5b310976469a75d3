package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisEngine keeps the set of database names under <prefix>dbs and each
// database as a hash under <prefix>db:<name>.
type redisEngine struct {
	client *redis.Client
	prefix string
}

// OpenRedis connects to opts.RedisURL and namespaces every key with
// opts.Prefix.
func OpenRedis(ctx context.Context, opts Options) (Backend, error) {
	ropts, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("backend: parse redis url: %w", err)
	}
	ropts.DialTimeout = 5 * time.Second
	client := redis.NewClient(ropts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("backend: redis ping %s: %w", ropts.Addr, err)
	}
	return newDocStore("redis", &redisEngine{client: client, prefix: opts.Prefix}), nil
}

func (r *redisEngine) dbsKey() string          { return r.prefix + "dbs" }
func (r *redisEngine) docsKey(db string) string { return r.prefix + "db:" + db }

func (r *redisEngine) createDB(ctx context.Context, db string) error {
	n, err := r.client.SAdd(ctx, r.dbsKey(), db).Result()
	if err != nil {
		return fmt.Errorf("backend: redis create db: %w", err)
	}
	if n == 0 {
		return ErrDBExists
	}
	return nil
}

func (r *redisEngine) dropDB(ctx context.Context, db string) error {
	n, err := r.client.SRem(ctx, r.dbsKey(), db).Result()
	if err != nil {
		return fmt.Errorf("backend: redis drop db: %w", err)
	}
	if n == 0 {
		return ErrDBNotFound
	}
	return r.client.Del(ctx, r.docsKey(db)).Err()
}

func (r *redisEngine) listDBs(ctx context.Context) ([]string, error) {
	names, err := r.client.SMembers(ctx, r.dbsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("backend: redis list dbs: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (r *redisEngine) exists(ctx context.Context, db string) error {
	ok, err := r.client.SIsMember(ctx, r.dbsKey(), db).Result()
	if err != nil {
		return fmt.Errorf("backend: redis: %w", err)
	}
	if !ok {
		return ErrDBNotFound
	}
	return nil
}

func (r *redisEngine) get(ctx context.Context, db, id string) ([]byte, error) {
	if err := r.exists(ctx, db); err != nil {
		return nil, err
	}
	v, err := r.client.HGet(ctx, r.docsKey(db), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("backend: redis get: %w", err)
	}
	return v, nil
}

func (r *redisEngine) put(ctx context.Context, db, id string, value []byte) error {
	if err := r.exists(ctx, db); err != nil {
		return err
	}
	if err := r.client.HSet(ctx, r.docsKey(db), id, value).Err(); err != nil {
		return fmt.Errorf("backend: redis put: %w", err)
	}
	return nil
}

func (r *redisEngine) scan(ctx context.Context, db string, fn func(string, []byte) error) error {
	if err := r.exists(ctx, db); err != nil {
		return err
	}
	all, err := r.client.HGetAll(ctx, r.docsKey(db)).Result()
	if err != nil {
		return fmt.Errorf("backend: redis scan: %w", err)
	}
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := fn(id, []byte(all[id])); err != nil {
			return err
		}
	}
	return nil
}

func (r *redisEngine) close() error {
	return r.client.Close()
}

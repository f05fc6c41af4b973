// Package redismedium implements a transfer medium shared through Redis, so
// that every host pointed at the same server sees one clipboard.
//
// Layout, for the default prefix "clipxfer":
//
//	clipxfer:lock     session lock, a random token with a TTL
//	clipxfer:formats  list of native names, most preferred first
//	clipxfer:data     hash of native name to payload
//	clipxfer:changes  pub/sub channel, one message per publish
//
// Publishing is eager: every format is rendered before the contents are
// written, in one MULTI/EXEC, under the session lock.
package redismedium

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"go.klb.dev/clipxfer/internal/medium"
	"go.klb.dev/clipxfer/internal/xferr"
)

//go:embed unlock.lua
var unlockScript string

const (
	DefaultPrefix        = "clipxfer"
	DefaultLockTTL       = 10 * time.Second
	DefaultRetryInterval = 25 * time.Millisecond
)

// Medium is a medium.Medium and medium.Watcher backed by Redis.
type Medium struct {
	rdb    redis.UniversalClient
	unlock *redis.Script

	prefix  string
	ttl     time.Duration
	retry   time.Duration
	lockKey string
	fmtKey  string
	dataKey string
	channel string
}

type Option func(*Medium)

// WithPrefix sets the key prefix. Media with different prefixes on one server
// are independent.
func WithPrefix(p string) Option { return func(m *Medium) { m.prefix = p } }

// WithLockTTL bounds how long a session may hold the lock. A session that
// outlives it can be overtaken by another requestor.
func WithLockTTL(d time.Duration) Option { return func(m *Medium) { m.ttl = d } }

// WithRetryInterval sets how often Open retries a held lock.
func WithRetryInterval(d time.Duration) Option { return func(m *Medium) { m.retry = d } }

func New(rdb redis.UniversalClient, opts ...Option) *Medium {
	m := &Medium{
		rdb:    rdb,
		unlock: redis.NewScript(unlockScript),
		prefix: DefaultPrefix,
		ttl:    DefaultLockTTL,
		retry:  DefaultRetryInterval,
	}
	for _, o := range opts {
		o(m)
	}
	m.lockKey = m.prefix + ":lock"
	m.fmtKey = m.prefix + ":formats"
	m.dataKey = m.prefix + ":data"
	m.channel = m.prefix + ":changes"
	return m
}

// acquire takes the lock, retrying until ctx is done, and returns its token.
func (m *Medium) acquire(ctx context.Context, requestor string) (string, error) {
	token := uuid.NewString()
	t := time.NewTicker(m.retry)
	defer t.Stop()
	for {
		ok, err := m.rdb.SetNX(ctx, m.lockKey, token, m.ttl).Result()
		switch {
		case err != nil && ctx.Err() == nil:
			return "", &xferr.Error{Kind: xferr.ErrResourceUnavailable, Err: fmt.Errorf("lock %s: %w", m.lockKey, err)}
		case ok:
			slog.Debug("redis medium locked", "key", m.lockKey, "requestor", requestor)
			return token, nil
		}
		select {
		case <-ctx.Done():
			return "", &xferr.Error{Kind: xferr.ErrResourceUnavailable, Err: ctx.Err()}
		case <-t.C:
		}
	}
}

func (m *Medium) release(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	n, err := m.unlock.Run(ctx, m.rdb, []string{m.lockKey}, token).Int()
	if err != nil {
		return fmt.Errorf("unlock %s: %w", m.lockKey, err)
	}
	if n == 0 {
		slog.Warn("redis medium lock expired before release", "key", m.lockKey, "ttl", m.ttl)
	}
	return nil
}

func (m *Medium) Open(ctx context.Context, requestor string) (medium.Session, error) {
	token, err := m.acquire(ctx, requestor)
	if err != nil {
		return nil, err
	}
	return &session{m: m, ctx: ctx, token: token}, nil
}

func (m *Medium) Publish(ctx context.Context, r medium.Renderer) error {
	items := medium.RenderAll(ctx, r)

	token, err := m.acquire(ctx, "publisher")
	if err != nil {
		return err
	}
	defer func() {
		if err := m.release(ctx, token); err != nil {
			slog.Warn("redis medium release failed", "err", err)
		}
	}()

	var gen *redis.IntCmd
	_, err = m.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, m.fmtKey, m.dataKey)
		if len(items) > 0 {
			names := make([]any, len(items))
			fields := make([]any, 0, 2*len(items))
			for i, it := range items {
				names[i] = it.Name
				fields = append(fields, it.Name, it.Data)
			}
			p.RPush(ctx, m.fmtKey, names...)
			p.HSet(ctx, m.dataKey, fields...)
		}
		gen = p.Incr(ctx, m.prefix+":generation")
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", m.prefix, err)
	}
	medium.LogItems("published to redis", m.prefix, items)

	if err := m.rdb.Publish(ctx, m.channel, strconv.FormatInt(gen.Val(), 10)).Err(); err != nil {
		slog.Warn("redis change notification failed", "channel", m.channel, "err", err)
	}
	return nil
}

func (m *Medium) formats(ctx context.Context) ([]string, error) {
	names, err := m.rdb.LRange(ctx, m.fmtKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", m.fmtKey, err)
	}
	return names, nil
}

// Watch subscribes to the change channel. Each publish is reported with the
// format list read back after the message arrives, so rapid publishes may be
// reported with the same list more than once.
func (m *Medium) Watch(ctx context.Context) (<-chan []string, error) {
	ps := m.rdb.Subscribe(ctx, m.channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", m.channel, err)
	}

	out := make(chan []string, 1)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				names, err := m.formats(ctx)
				if err != nil {
					slog.Warn("redis medium change lookup failed", "generation", msg.Payload, "err", err)
					continue
				}
				select {
				case out <- names:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

var errClosed = errors.New("redis medium session closed")

type session struct {
	m     *Medium
	ctx   context.Context
	token string

	mu     sync.Mutex
	closed bool
}

func (s *session) Formats() ([]string, error) {
	if s.isClosed() {
		return nil, errClosed
	}
	return s.m.formats(s.ctx)
}

func (s *session) Fetch(name string) ([]byte, error) {
	if s.isClosed() {
		return nil, errClosed
	}
	b, err := s.m.rdb.HGet(s.ctx, s.m.dataKey, name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("format %s not available", name)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", name, err)
	}
	return b, nil
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.m.release(s.ctx, s.token)
}

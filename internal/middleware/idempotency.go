package middleware

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/showgrid/seat-reservation/internal/cache"
	"github.com/showgrid/seat-reservation/internal/config"
)

// HeaderIdempotencyKey is the request header that opts a mutating request
// into exactly-once execution.
const HeaderIdempotencyKey = "Idempotency-Key"

// headerReplay marks a response served from the idempotency cache.
const headerReplay = "X-Idempotent-Replay"

// ResponseCache stores encoded responses keyed by user and idempotency
// key.  Satisfied by cache.Redis.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// Locker serializes concurrent requests carrying the same key.  Satisfied
// by lock.RedisLock.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// captureWriter tees the response body and status while forwarding to the
// client, so a successful response can be cached after the handler ran.
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	cw.buf.Write(b)
	return cw.ResponseWriter.Write(b)
}

// encodePayload packs [4 bytes status][4 bytes headerLen][headerJSON][body].
func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
	hdrJSON, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8+len(hdrJSON)+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(status))
	binary.BigEndian.PutUint32(out[4:8], uint32(len(hdrJSON)))
	copy(out[8:8+len(hdrJSON)], hdrJSON)
	copy(out[8+len(hdrJSON):], body)
	return out, nil
}

func decodePayload(bs []byte) (status int, header http.Header, body []byte, ok bool) {
	if len(bs) < 8 {
		return 0, nil, nil, false
	}
	status = int(binary.BigEndian.Uint32(bs[0:4]))
	hlen := int(binary.BigEndian.Uint32(bs[4:8]))
	if hlen < 0 || 8+hlen > len(bs) {
		return 0, nil, nil, false
	}
	hdr := make(http.Header)
	if hlen > 0 {
		if err := json.Unmarshal(bs[8:8+hlen], &hdr); err != nil {
			return 0, nil, nil, false
		}
	}
	return status, hdr, bs[8+hlen:], true
}

// Idempotency makes mutating requests carrying an Idempotency-Key header
// execute at most once per (user, key).  The first request to arrive takes
// a per-key lock, runs the handler and caches a successful response;
// concurrent requests with the same key wait by polling the response cache
// and replay the winner's response when it appears.  If nothing appears
// before the poll timeout the waiter gets 409, telling the client the
// original is still running and the same key may be retried later.
// Requests without the header pass through untouched.
func Idempotency(store ResponseCache, locks Locker, cfg config.IdempotencyConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			idemKey := strings.TrimSpace(c.Request().Header.Get(HeaderIdempotencyKey))
			if idemKey == "" {
				return next(c)
			}
			userID, ok := UserID(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
			}

			ctx := c.Request().Context()
			respKey := cache.KeyIdempotency(userID, idemKey)
			lockKey := cache.KeyIdempotencyLock(userID, idemKey)

			if bs, found, err := store.Get(ctx, respKey); err == nil && found {
				if replay(c, bs) {
					return nil
				}
			}

			acquired, err := locks.Acquire(ctx, lockKey, cfg.LockTTL)
			if err != nil {
				return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "idempotency store unavailable"})
			}
			if !acquired {
				return pollForResult(c, store, respKey, cfg)
			}
			defer func() { _ = locks.Release(ctx, lockKey) }()

			cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK}
			c.Response().Writer = cw
			if err := next(c); err != nil {
				// let the error handler write the response; nothing is
				// cached, so a retry with the same key executes again
				return err
			}

			if cw.status >= 200 && cw.status < 300 {
				hdr := make(http.Header, len(c.Response().Header()))
				for k, vals := range c.Response().Header() {
					vv := make([]string, len(vals))
					copy(vv, vals)
					hdr[k] = vv
				}
				if payload, err := encodePayload(cw.status, hdr, cw.buf.Bytes()); err == nil {
					_ = store.Set(ctx, respKey, payload, cfg.ResponseTTL)
				}
			}
			return nil
		}
	}
}

// pollForResult waits for the lock holder's response to land in the cache.
func pollForResult(c echo.Context, store ResponseCache, respKey string, cfg config.IdempotencyConfig) error {
	ctx := c.Request().Context()
	deadline := time.Now().Add(cfg.PollTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.PollInterval):
		}
		if bs, found, err := store.Get(ctx, respKey); err == nil && found {
			if replay(c, bs) {
				return nil
			}
		}
	}
	return c.JSON(http.StatusConflict, echo.Map{"error": "request with this idempotency key is still in progress, retry later"})
}

// replay writes a cached response to the client.  Returns false when the
// payload does not decode, in which case the caller proceeds as a miss.
func replay(c echo.Context, bs []byte) bool {
	status, hdr, body, ok := decodePayload(bs)
	if !ok {
		return false
	}
	for k, vals := range hdr {
		if strings.EqualFold(k, "Content-Length") {
			continue
		}
		for _, v := range vals {
			c.Response().Header().Add(k, v)
		}
	}
	c.Response().Header().Set(headerReplay, "true")
	c.Response().WriteHeader(status)
	if len(body) > 0 {
		_, _ = c.Response().Write(body)
	}
	return true
}

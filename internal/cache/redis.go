package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RedisConfig captures the minimal connection parameters required by the lightweight Redis client.
type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      bool
	Timeout  time.Duration
}

const defaultRedisTimeout = 5 * time.Second
const redisKeyPrefix = "parley:"

// RedisClient implements the small subset of the Redis protocol the backend
// needs: AUTH, SELECT, INCR, PEXPIRE, PTTL, GET, SET (with PX) and DEL.
// It maintains a single connection guarded by a mutex.
type RedisClient struct {
	cfg    RedisConfig
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// NewRedisClient creates a new Redis client. It eagerly establishes the connection so that
// misconfiguration is surfaced during application startup.
func NewRedisClient(cfg RedisConfig) (*RedisClient, error) {
	cfg.Address = strings.TrimSpace(cfg.Address)
	if cfg.Address == "" {
		return nil, errors.New("redis: address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRedisTimeout
	}

	client := &RedisClient{cfg: cfg}

	client.mu.Lock()
	defer client.mu.Unlock()
	if err := client.connectLocked(context.Background()); err != nil {
		return nil, err
	}
	return client, nil
}

// Close closes the underlying network connection.
func (c *RedisClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		c.reader = nil
		return err
	}
	return nil
}

// IncrementWithTTL increments the supplied key and ensures the TTL is set to the requested window.
func (c *RedisClient) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	prefixed := c.prefixed(key)
	count, err := c.doInt(ctx, "INCR", prefixed)
	if err != nil {
		return 0, 0, err
	}

	if count == 1 {
		if _, err := c.doInt(ctx, "PEXPIRE", prefixed, formatMillis(window)); err != nil {
			return 0, 0, err
		}
	}

	ttlMillis, err := c.doInt(ctx, "PTTL", prefixed)
	if err != nil || ttlMillis < 0 {
		return count, window, nil
	}
	return count, time.Duration(ttlMillis) * time.Millisecond, nil
}

// Set stores a value with PX expiry semantics.
func (c *RedisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := c.do(ctx, "SET", c.prefixed(key), string(value), "PX", formatMillis(ttl))
	return err
}

// Get retrieves the value associated with a key.
func (c *RedisClient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp, err := c.do(ctx, "GET", c.prefixed(key))
	if err != nil {
		return nil, false, err
	}

	switch v := resp.(type) {
	case nil:
		return nil, false, nil
	case []byte:
		return v, true, nil
	default:
		return nil, false, fmt.Errorf("redis: unexpected response type %T", v)
	}
}

// Delete removes one or more keys, ignoring missing keys.
func (c *RedisClient) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	args := make([]string, 0, len(keys)+1)
	args = append(args, "DEL")
	for _, key := range keys {
		args = append(args, c.prefixed(key))
	}
	_, err := c.do(ctx, args...)
	return err
}

func (c *RedisClient) prefixed(key string) string {
	key = strings.TrimSpace(key)
	if strings.HasPrefix(key, redisKeyPrefix) {
		return key
	}
	return redisKeyPrefix + key
}

func (c *RedisClient) doInt(ctx context.Context, args ...string) (int64, error) {
	resp, err := c.do(ctx, args...)
	if err != nil {
		return 0, err
	}
	switch v := resp.(type) {
	case int64:
		return v, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("redis: unexpected integer response %T", v)
	}
}

func (c *RedisClient) do(ctx context.Context, args ...string) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		c.resetLocked()
		return nil, err
	}

	if err := writeCommand(c.conn, args); err != nil {
		c.resetLocked()
		return nil, err
	}

	resp, err := readResponse(c.reader)
	if err != nil {
		c.resetLocked()
		return nil, err
	}
	return resp, nil
}

func (c *RedisClient) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var (
		conn net.Conn
		err  error
	)
	if c.cfg.TLS {
		dialer := &tls.Dialer{NetDialer: &net.Dialer{}}
		conn, err = dialer.DialContext(dialCtx, "tcp", c.cfg.Address)
	} else {
		dialer := &net.Dialer{}
		conn, err = dialer.DialContext(dialCtx, "tcp", c.cfg.Address)
	}
	if err != nil {
		return err
	}

	reader := bufio.NewReader(conn)
	_ = conn.SetDeadline(time.Now().Add(c.cfg.Timeout))

	handshake := func(args ...string) error {
		if err := writeCommand(conn, args); err != nil {
			return err
		}
		resp, err := readResponse(reader)
		if err != nil {
			return err
		}
		if str, ok := resp.(string); !ok || !strings.EqualFold(str, "OK") {
			return fmt.Errorf("redis: %s failed: %v", args[0], resp)
		}
		return nil
	}

	if c.cfg.Password != "" || c.cfg.Username != "" {
		authArgs := []string{"AUTH"}
		if c.cfg.Username != "" {
			authArgs = append(authArgs, c.cfg.Username, c.cfg.Password)
		} else {
			authArgs = append(authArgs, c.cfg.Password)
		}
		if err := handshake(authArgs...); err != nil {
			conn.Close()
			return err
		}
	}

	if c.cfg.DB > 0 {
		if err := handshake("SELECT", strconv.Itoa(c.cfg.DB)); err != nil {
			conn.Close()
			return err
		}
	}

	// Clear deadlines; runtime commands set per-call deadlines
	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return err
	}

	c.conn = conn
	c.reader = reader
	return nil
}

func (c *RedisClient) resetLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
	c.reader = nil
}

func formatMillis(d time.Duration) string {
	millis := d.Milliseconds()
	if millis <= 0 {
		millis = 1
	}
	return strconv.FormatInt(millis, 10)
}

func writeCommand(conn net.Conn, args []string) error {
	var builder strings.Builder
	builder.WriteByte('*')
	builder.WriteString(strconv.Itoa(len(args)))
	builder.WriteString("\r\n")
	for _, arg := range args {
		builder.WriteByte('$')
		builder.WriteString(strconv.Itoa(len(arg)))
		builder.WriteString("\r\n")
		builder.WriteString(arg)
		builder.WriteString("\r\n")
	}
	_, err := conn.Write([]byte(builder.String()))
	return err
}

func readResponse(r *bufio.Reader) (interface{}, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	switch prefix {
	case '+':
		return readLine(r)
	case '-':
		line, err := readLine(r)
		if err != nil {
			return nil, err
		}
		return nil, errors.New(line)
	case ':':
		line, err := readLine(r)
		if err != nil {
			return nil, err
		}
		return strconv.ParseInt(line, 10, 64)
	case '$':
		line, err := readLine(r)
		if err != nil {
			return nil, err
		}
		length, convErr := strconv.Atoi(line)
		if convErr != nil {
			return nil, convErr
		}
		if length == -1 {
			return nil, nil
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		if err := consumeCRLF(r); err != nil {
			return nil, err
		}
		return buf, nil
	case '*':
		line, err := readLine(r)
		if err != nil {
			return nil, err
		}
		count, convErr := strconv.Atoi(line)
		if convErr != nil {
			return nil, convErr
		}
		items := make([]interface{}, count)
		for i := 0; i < count; i++ {
			item, err := readResponse(r)
			if err != nil {
				return nil, err
			}
			items[i] = item
		}
		return items, nil
	default:
		return nil, fmt.Errorf("redis: unexpected prefix %q", prefix)
	}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r"), nil
}

func consumeCRLF(r *bufio.Reader) error {
	_, err := readLine(r)
	return err
}

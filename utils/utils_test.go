package utils

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestJWTManager_RoundTrip(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	tok, err := m.Generate(7, "alice")
	require.NoError(t, err)

	claims, err := m.Parse(tok)
	require.NoError(t, err)
	assert.EqualValues(t, 7, claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, 5*time.Second)
}

func TestJWTManager_RejectsForeignAndExpired(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	other := NewJWTManager("other", time.Hour)
	tok, err := other.Generate(1, "x")
	require.NoError(t, err)
	_, err = m.Parse(tok)
	assert.Error(t, err)

	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := m.Generate(1, "x")
	require.NoError(t, err)
	_, err = m.Parse(old)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	_, err = m.Parse("garbage")
	assert.Error(t, err)
}

func TestBcryptHasher(t *testing.T) {
	h := BcryptHasher{Cost: bcrypt.MinCost}
	hash, err := h.Hash("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", hash)
	assert.True(t, h.Verify(hash, "hunter2"))
	assert.False(t, h.Verify(hash, "hunter3"))
	assert.False(t, h.Verify("not-a-hash", "hunter2"))
}

func TestTokenBlacklist_Memory(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewTokenBlacklist(nil)
	b.now = func() time.Time { return now }

	require.NoError(t, b.Revoke(ctx, "tok", now.Add(time.Minute)))
	assert.True(t, b.IsRevoked(ctx, "tok"))
	assert.False(t, b.IsRevoked(ctx, "other"))

	// already expired tokens are not stored
	require.NoError(t, b.Revoke(ctx, "stale", now.Add(-time.Second)))
	assert.False(t, b.IsRevoked(ctx, "stale"))

	now = now.Add(2 * time.Minute)
	assert.False(t, b.IsRevoked(ctx, "tok"))
	assert.Empty(t, b.mem)
}

func TestGetOrLoad_WithoutRedisCallsLoader(t *testing.T) {
	c := NewCache(nil, 0, nil)
	var calls int32
	load := func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "value", nil
	}
	for i := 0; i < 3; i++ {
		v, err := GetOrLoad(context.Background(), c, "k", load)
		require.NoError(t, err)
		assert.Equal(t, "value", v)
	}
	assert.EqualValues(t, 3, calls)

	_, err := GetOrLoad(context.Background(), c, "k", func(context.Context) (string, error) {
		return "", errors.New("boom")
	})
	assert.EqualError(t, err, "boom")

	var nilCache *Cache
	v, err := GetOrLoad(context.Background(), nilCache, "k", load)
	require.NoError(t, err)
	assert.Equal(t, "value", v)
}

func TestMemoryCache_LoadsOnceUntilEvicted(t *testing.T) {
	c := NewMemoryCache(time.Minute, nil)
	now := time.Now()
	c.now = func() time.Time { return now }

	var calls int32
	load := func(context.Context) (int, error) {
		return int(atomic.AddInt32(&calls, 1)), nil
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		v, err := GetOrLoad(ctx, c, "k", load)
		require.NoError(t, err)
		assert.Equal(t, 1, v)
	}

	c.Delete(ctx, "k")
	v, err := GetOrLoad(ctx, c, "k", load)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	now = now.Add(2 * time.Minute)
	v, err = GetOrLoad(ctx, c, "k", load)
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	c.DeleteLater(10*time.Millisecond, "k")
	assert.Eventually(t, func() bool {
		_, ok := c.GetBytes(ctx, "k")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

type flakySender struct {
	calls int32
	err   error
}

func (f *flakySender) Send(context.Context, string, string) error {
	atomic.AddInt32(&f.calls, 1)
	return f.err
}

func TestBreakerMailer_OpensAfterFailures(t *testing.T) {
	next := &flakySender{err: errors.New("relay down")}
	m := NewBreakerMailer(next, nil)

	for i := 0; i < 3; i++ {
		assert.Error(t, m.Send(context.Background(), "a@x.com", "hi"))
	}
	assert.Equal(t, gobreaker.StateOpen, m.State())

	err := m.Send(context.Background(), "a@x.com", "hi")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.EqualValues(t, 3, atomic.LoadInt32(&next.calls))
}

func TestBreakerMailer_IgnoresMissingConfig(t *testing.T) {
	m := NewBreakerMailer(&SMTPMailer{}, nil)
	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, m.Send(context.Background(), "a@x.com", "hi"), ErrMailerNotConfigured)
	}
	assert.Equal(t, gobreaker.StateClosed, m.State())
}

type stalledSender struct{ delay time.Duration }

// Send ignores ctx on purpose.
func (s stalledSender) Send(context.Context, string, string) error {
	time.Sleep(s.delay)
	return nil
}

func TestBreakerMailer_SlowSenderTimesOut(t *testing.T) {
	m := NewBreakerMailer(stalledSender{delay: 2 * time.Second}, nil).WithTimeout(50 * time.Millisecond)

	start := time.Now()
	err := m.Send(context.Background(), "a@x.com", "hi")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSMTPMailer_PlainRelayHonoursDeadline(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	// accept and never send a greeting
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	m := &SMTPMailer{Host: "127.0.0.1", Port: addr.Port, From: "noreply@x.com"}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	assert.Error(t, m.Send(ctx, "a@x.com", "hi"))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSMTPMailer_BuildMessage(t *testing.T) {
	m := &SMTPMailer{From: "noreply@x.com", FromName: "Jellyfish", Subject: "Change password"}
	msg := string(m.buildMessage("bob@x.com", `<a href="http://h/t">reset password</a>`))

	assert.Contains(t, msg, "To: bob@x.com\r\n")
	assert.Contains(t, msg, "From: Jellyfish <noreply@x.com>\r\n")
	assert.Contains(t, msg, "Content-Type: text/html; charset=UTF-8\r\n")
	assert.True(t, strings.HasSuffix(msg, "\r\n\r\n<a href=\"http://h/t\">reset password</a>"))
}

func TestStripTags(t *testing.T) {
	assert.Equal(t, "hello", StripTags("  <b>hello</b> "))
	assert.Equal(t, "", StripTags("<script>alert(1)</script>"))
	assert.NotContains(t, Sanitize(`<a href="javascript:alert(1)">x</a>`), "javascript")
}

func TestServer_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := NewServer(ln.Addr().String(), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), time.Second, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String())
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusNoContent
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestResponseEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(w)
	Error(ctx, http.StatusNotFound, 40401, "post not found")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"code":40401,"message":"post not found"}`, w.Body.String())
}

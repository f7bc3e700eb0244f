package notify

import (
	"bytes"
	"io"
	"net"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dhatri/internal/config"
)

func TestComposeLockout(t *testing.T) {
	now := time.Date(2026, 2, 3, 4, 5, 0, 0, time.UTC)
	raw, err := ComposeLockout("security@clinic.local", LockoutNotice{
		To: "alice@x.com", Name: "Alice", Until: now.Add(30 * time.Minute), IP: "10.0.0.9",
	}, now)
	require.NoError(t, err)

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)
	subject, err := mr.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Your account has been temporarily locked", subject)

	to, err := mr.Header.AddressList("To")
	require.NoError(t, err)
	require.Len(t, to, 1)
	assert.Equal(t, "alice@x.com", to[0].Address)

	p, err := mr.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(p.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "2026-02-03 04:35")
	assert.Contains(t, string(body), "10.0.0.9")
}

func TestNewSenderSelectsBackend(t *testing.T) {
	_, ok := NewSender(config.Config{NotifySender: "log"}, nil).(LogSender)
	assert.True(t, ok)
	_, ok = NewSender(config.Config{NotifySender: "smtp", SMTPHost: "mx", SMTPPort: 25}, nil).(SMTPSender)
	assert.True(t, ok)
	assert.NoError(t, LogSender{}.SendLockoutNotice(t.Context(), LockoutNotice{To: "a@x.com"}))
}

func listen(t *testing.T) (net.Listener, string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	addr := ln.Addr().(*net.TCPAddr)
	return ln, addr.IP.String(), addr.Port
}

func TestSMTPSenderGivesUpOnSilentServer(t *testing.T) {
	ln, host, port := listen(t)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				_, _ = io.Copy(io.Discard, c)
			}()
		}
	}()

	s := SMTPSender{host: host, port: port, from: "security@clinic.local", timeout: 200 * time.Millisecond,
		now: func() time.Time { return time.Now().UTC() }}
	start := time.Now()
	err := s.SendLockoutNotice(t.Context(), LockoutNotice{To: "alice@x.com", Name: "Alice", Until: time.Now()})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestSMTPSenderDelivers(t *testing.T) {
	ln, host, port := listen(t)
	got := make(chan string, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		tp := textproto.NewConn(c)
		_ = tp.PrintfLine("220 mx ready")
		var rcpt string
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			switch cmd := strings.ToUpper(line); {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				_ = tp.PrintfLine("250 mx")
			case strings.HasPrefix(cmd, "MAIL FROM"):
				_ = tp.PrintfLine("250 ok")
			case strings.HasPrefix(cmd, "RCPT TO"):
				rcpt = line
				_ = tp.PrintfLine("250 ok")
			case cmd == "DATA":
				_ = tp.PrintfLine("354 go ahead")
				body, err := io.ReadAll(tp.DotReader())
				if err != nil {
					return
				}
				got <- rcpt + "\n" + string(body)
				_ = tp.PrintfLine("250 queued")
			case cmd == "QUIT":
				_ = tp.PrintfLine("221 bye")
				return
			default:
				_ = tp.PrintfLine("502 unsupported")
			}
		}
	}()

	s := SMTPSender{host: host, port: port, from: "security@clinic.local", timeout: 5 * time.Second,
		now: func() time.Time { return time.Now().UTC() }}
	require.NoError(t, s.SendLockoutNotice(t.Context(), LockoutNotice{To: "alice@x.com", Name: "Alice", Until: time.Now(), IP: "10.0.0.9"}))

	select {
	case msg := <-got:
		assert.Contains(t, msg, "<alice@x.com>")
		assert.Contains(t, msg, "Your account has been temporarily locked")
		assert.Contains(t, msg, "10.0.0.9")
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}
}

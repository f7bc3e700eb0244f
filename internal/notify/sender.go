package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"

	"dhatri/internal/config"
	"dhatri/internal/logging"
)

// LockoutNotice tells an account owner their account was locked.
type LockoutNotice struct {
	To    string
	Name  string
	Until time.Time
	IP    string
}

type Sender interface {
	SendLockoutNotice(ctx context.Context, n LockoutNotice) error
}

type LogSender struct {
	log *zap.Logger
}

func (s LogSender) SendLockoutNotice(ctx context.Context, n LockoutNotice) error {
	_ = ctx
	logging.OrNop(s.log).Info("account lockout notice",
		zap.String("to", n.To), zap.Time("until", n.Until), zap.String("ip", n.IP))
	return nil
}

const defaultSMTPTimeout = 10 * time.Second

type SMTPSender struct {
	host    string
	port    int
	from    string
	timeout time.Duration
	now     func() time.Time
}

func NewSender(cfg config.Config, log *zap.Logger) Sender {
	switch cfg.NotifySender {
	case "smtp":
		return SMTPSender{
			host:    cfg.SMTPHost,
			port:    cfg.SMTPPort,
			from:    cfg.NotifyFrom,
			timeout: cfg.SMTPTimeout,
			now:     func() time.Time { return time.Now().UTC() },
		}
	default:
		return LogSender{log: log}
	}
}

// SendLockoutNotice delivers the notice within the sender timeout, counting
// the dial and the whole SMTP exchange.
func (s SMTPSender) SendLockoutNotice(ctx context.Context, n LockoutNotice) error {
	msg, err := ComposeLockout(s.from, n, s.now())
	if err != nil {
		return err
	}
	timeout := s.timeout
	if timeout <= 0 {
		timeout = defaultSMTPTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return err
	}

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp greeting: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
			return err
		}
	}
	if err := client.Mail(s.from); err != nil {
		return err
	}
	if err := client.Rcpt(n.To); err != nil {
		return err
	}
	wc, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := wc.Write(msg); err != nil {
		return err
	}
	if err := wc.Close(); err != nil {
		return err
	}
	return client.Quit()
}

// ComposeLockout renders the lockout notice as a plain-text MIME message.
func ComposeLockout(from string, n LockoutNotice, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Name: "Clinic Security", Address: from}})
	h.SetAddressList("To", []*mail.Address{{Name: n.Name, Address: n.To}})
	h.SetSubject("Your account has been temporarily locked")
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	body := fmt.Sprintf("Hello %s,\r\n\r\n"+
		"We locked your account after several failed sign-in attempts.\r\n"+
		"You can try again after %s UTC.\r\n\r\n"+
		"Last attempt came from %s. If this was not you, contact the clinic.\r\n",
		n.Name, n.Until.UTC().Format("2006-01-02 15:04"), n.IP)
	if _, err := io.WriteString(w, body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/http"
	"net/mail"
	"net/smtp"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mysql-auto-backup/internal/config"
	"mysql-auto-backup/internal/logging"
)

const defaultTimeout = 30 * time.Second

// implicitTLSPort is the SMTPS port; other ports upgrade with STARTTLS when offered.
const implicitTLSPort = 465

// Channel delivers a message through one medium.
type Channel interface {
	Send(ctx context.Context, msg Message) error
	GetType() string
	IsEnabled() bool
}

// ParseAddress parses "addr|Display Name" or a bare address.
func ParseAddress(s string) mail.Address {
	addr, name, _ := strings.Cut(s, "|")
	return mail.Address{Name: strings.TrimSpace(name), Address: strings.TrimSpace(addr)}
}

func parseAddresses(list []string) []mail.Address {
	out := make([]mail.Address, 0, len(list))
	for _, s := range list {
		if a := ParseAddress(s); a.Address != "" {
			out = append(out, a)
		}
	}
	return out
}

func joinAddresses(list []mail.Address) string {
	parts := make([]string, len(list))
	for i, a := range list {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}

// EmailChannel sends plain-text mail over SMTP.
type EmailChannel struct {
	logger *logging.Logger
	config config.EmailConfig
}

// NewEmailChannel creates a new email notification channel
func NewEmailChannel(logger *logging.Logger, cfg config.EmailConfig) *EmailChannel {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &EmailChannel{logger: logger, config: cfg}
}

// Compose returns the envelope recipients and the RFC 5322 message.
// additional_to recipients receive the mail without appearing in a header.
func (ec *EmailChannel) Compose(msg Message) ([]string, []byte, error) {
	to := parseAddresses(ec.config.ToAddrs)
	cc := parseAddresses(ec.config.CopyTo)
	bcc := parseAddresses(ec.config.AdditionalTo)

	var recipients []string
	for _, group := range [][]mail.Address{to, cc, bcc} {
		for _, a := range group {
			recipients = append(recipients, a.Address)
		}
	}

	subject := msg.Subject
	if msg.Warning {
		subject = "⚠️ " + subject
	}
	from := mail.Address{Name: ec.config.SenderName, Address: ec.config.FromAddr}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from.String())
	if len(to) > 0 {
		fmt.Fprintf(&buf, "To: %s\r\n", joinAddresses(to))
	}
	if len(cc) > 0 {
		fmt.Fprintf(&buf, "Cc: %s\r\n", joinAddresses(cc))
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", msg.Timestamp.Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")

	qp := quotedprintable.NewWriter(&buf)
	if _, err := qp.Write([]byte(strings.ReplaceAll(msg.Body, "\n", "\r\n"))); err != nil {
		return nil, nil, err
	}
	if err := qp.Close(); err != nil {
		return nil, nil, err
	}
	return recipients, buf.Bytes(), nil
}

// Send sends an email notification
func (ec *EmailChannel) Send(ctx context.Context, msg Message) error {
	recipients, data, err := ec.Compose(msg)
	if err != nil {
		return fmt.Errorf("failed to compose email: %w", err)
	}
	if len(recipients) == 0 {
		return fmt.Errorf("email has no recipients")
	}

	timeout := ec.config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	host := ec.config.SMTPServer
	addr := net.JoinHostPort(host, strconv.Itoa(ec.config.SMTPPort))
	tlsConfig := &tls.Config{ServerName: host}
	dialer := &net.Dialer{Timeout: timeout}

	var conn net.Conn
	implicit := ec.config.SMTPPort == implicitTLSPort
	if implicit {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server %s: %w", addr, err)
	}
	conn.SetDeadline(time.Now().Add(timeout))

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("SMTP handshake failed: %w", err)
	}
	defer client.Close()

	if !implicit {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("STARTTLS failed: %w", err)
			}
		}
	}
	if ec.config.SMTPUser != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", ec.config.SMTPUser, ec.config.SMTPPassword, host)
			if err := client.Auth(auth); err != nil {
				return fmt.Errorf("SMTP authentication failed, check user and password: %w", err)
			}
		}
	}

	if err := client.Mail(ec.config.FromAddr); err != nil {
		return fmt.Errorf("MAIL FROM rejected: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s rejected: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA rejected: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("message rejected: %w", err)
	}

	ec.logger.WithConfig(msg.ConfigName).Infof("Email sent to %s", joinAddresses(append(parseAddresses(ec.config.ToAddrs), parseAddresses(ec.config.CopyTo)...)))
	return client.Quit()
}

// GetType returns the channel type
func (ec *EmailChannel) GetType() string {
	return "email"
}

// IsEnabled checks if the channel is enabled
func (ec *EmailChannel) IsEnabled() bool {
	return ec.config.Enabled && ec.config.SMTPServer != "" && len(ec.config.ToAddrs) > 0
}

// WebhookChannel posts the message as JSON.
type WebhookChannel struct {
	logger *logging.Logger
	config config.WebhookConfig
	client *http.Client
}

// NewWebhookChannel creates a new webhook notification channel
func NewWebhookChannel(logger *logging.Logger, cfg config.WebhookConfig) *WebhookChannel {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &WebhookChannel{
		logger: logger,
		config: cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// Send sends a webhook notification
func (wc *WebhookChannel) Send(ctx context.Context, msg Message) error {
	if wc.config.URL == "" {
		return fmt.Errorf("webhook URL not configured")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wc.config.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range wc.config.Headers {
		req.Header.Set(key, value)
	}
	return doRequest(wc.client, req, "webhook")
}

// GetType returns the channel type
func (wc *WebhookChannel) GetType() string {
	return "webhook"
}

// IsEnabled checks if the channel is enabled
func (wc *WebhookChannel) IsEnabled() bool {
	return wc.config.Enabled && wc.config.URL != ""
}

// SlackChannel posts to an incoming webhook.
type SlackChannel struct {
	logger *logging.Logger
	config config.SlackConfig
	client *http.Client
}

// NewSlackChannel creates a new Slack notification channel
func NewSlackChannel(logger *logging.Logger, cfg config.SlackConfig) *SlackChannel {
	return &SlackChannel{
		logger: logger,
		config: cfg,
		client: &http.Client{Timeout: defaultTimeout},
	}
}

func slackStyle(c Category) (color, emoji string) {
	switch c {
	case CategorySuccess:
		return "#36a64f", ":white_check_mark:"
	case CategoryPartial, CategoryRunning:
		return "#ff9900", ":warning:"
	default:
		return "#ff0000", ":rotating_light:"
	}
}

// Send sends a Slack notification
func (sc *SlackChannel) Send(ctx context.Context, msg Message) error {
	if sc.config.WebhookURL == "" {
		return fmt.Errorf("slack webhook URL not configured")
	}

	color, emoji := slackStyle(msg.Category)
	payload := map[string]interface{}{
		"text": fmt.Sprintf("%s %s", emoji, msg.Subject),
		"attachments": []map[string]interface{}{
			{
				"color":     color,
				"title":     msg.Subject,
				"text":      msg.Body,
				"timestamp": msg.Timestamp.Unix(),
				"fields": []map[string]interface{}{
					{"title": "Configuration", "value": msg.ConfigName, "short": true},
					{"title": "Status", "value": string(msg.Category), "short": true},
				},
			},
		},
	}
	if sc.config.Channel != "" {
		payload["channel"] = sc.config.Channel
	}
	if sc.config.Username != "" {
		payload["username"] = sc.config.Username
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal Slack payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sc.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create Slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return doRequest(sc.client, req, "slack")
}

// GetType returns the channel type
func (sc *SlackChannel) GetType() string {
	return "slack"
}

// IsEnabled checks if the channel is enabled
func (sc *SlackChannel) IsEnabled() bool {
	return sc.config.Enabled && sc.config.WebhookURL != ""
}

func doRequest(client *http.Client, req *http.Request, kind string) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s notification: %w", kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s returned error status: %d", kind, resp.StatusCode)
	}
	return nil
}

// FileChannel appends notifications to a local file.
type FileChannel struct {
	logger *logging.Logger
	config config.FileNotifyConfig
}

// NewFileChannel creates a new file notification channel
func NewFileChannel(logger *logging.Logger, cfg config.FileNotifyConfig) *FileChannel {
	return &FileChannel{logger: logger, config: cfg}
}

// Send writes a notification to a file
func (fc *FileChannel) Send(ctx context.Context, msg Message) error {
	if fc.config.Path == "" {
		return fmt.Errorf("file path not configured")
	}

	var content string
	switch fc.config.Format {
	case "json":
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal notification to JSON: %w", err)
		}
		content = string(data) + "\n"
	default:
		content = fmt.Sprintf("[%s] %s - %s: %s\n",
			msg.Timestamp.Format(time.RFC3339), msg.Category, msg.ConfigName, msg.Subject)
	}

	if err := os.MkdirAll(filepath.Dir(fc.config.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create notification directory: %w", err)
	}
	file, err := os.OpenFile(fc.config.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open notification file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(content); err != nil {
		return fmt.Errorf("failed to write notification to file: %w", err)
	}
	return nil
}

// GetType returns the channel type
func (fc *FileChannel) GetType() string {
	return "file"
}

// IsEnabled checks if the channel is enabled
func (fc *FileChannel) IsEnabled() bool {
	return fc.config.Enabled && fc.config.Path != ""
}

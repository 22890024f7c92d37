package resend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultBaseURL = "https://api.resend.com"
	DefaultFrom    = "onboarding@resend.dev"
)

var ErrSendFailed = errors.New("email provider rejected the message")

type Config struct {
	BaseURL string
	APIKey  string
	From    string
	Timeout time.Duration
}

// Sender delivers plain text email through the Resend HTTP API.
type Sender struct {
	config Config
	http   *http.Client
}

func NewSender(config Config) *Sender {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.From == "" {
		config.From = DefaultFrom
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &Sender{
		config: config,
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   config.Timeout,
		},
	}
}

type emailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

type emailResponse struct {
	ID string `json:"id"`
}

func (s *Sender) Send(ctx context.Context, recipient, subject, body string) error {
	payload, err := json.Marshal(emailRequest{
		From:    s.config.From,
		To:      []string{recipient},
		Subject: subject,
		Text:    body,
	})
	if err != nil {
		return errors.Wrap(err, "encode email")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL+"/emails", bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build email request")
	}
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "send email")
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 300 {
		return errors.Wrapf(ErrSendFailed, "status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded emailResponse
	_ = json.Unmarshal(raw, &decoded)
	log.WithFields(log.Fields{"emailId": decoded.ID, "subject": subject}).Info("email sent")
	return nil
}

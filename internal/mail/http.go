// SPDX-License-Identifier: Apache-2.0

package mail

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultAttempts  = 3
	defaultRetryBase = 300 * time.Millisecond
	defaultTimeout   = 10 * time.Second
	headerSignature  = "X-Signature"
)

// HTTPSender posts messages as JSON to a mail relay webhook. Bodies are
// signed with HMAC-SHA256 when a secret is configured.
type HTTPSender struct {
	url       string
	secret    string
	from      string
	client    *http.Client
	logger    *slog.Logger
	attempts  int
	retryBase time.Duration
}

type HTTPConfig struct {
	URL    string
	Secret string
	From   string
	// Client defaults to an http.Client with a 10s timeout.
	Client    *http.Client
	Logger    *slog.Logger
	Attempts  int
	RetryBase time.Duration
}

type payload struct {
	From    string `json:"from,omitempty"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func NewHTTPSender(cfg HTTPConfig) *HTTPSender {
	s := &HTTPSender{
		url:       strings.TrimSpace(cfg.URL),
		secret:    cfg.Secret,
		from:      cfg.From,
		client:    cfg.Client,
		logger:    cfg.Logger,
		attempts:  cfg.Attempts,
		retryBase: cfg.RetryBase,
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: defaultTimeout}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.attempts <= 0 {
		s.attempts = defaultAttempts
	}
	if s.retryBase <= 0 {
		s.retryBase = defaultRetryBase
	}
	return s
}

// Send makes at most the configured number of attempts. 4xx responses other
// than 429 are not retried.
func (s *HTTPSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(payload{From: s.from, To: msg.To, Subject: msg.Subject, Body: msg.Body})
	if err != nil {
		return fmt.Errorf("marshal mail payload: %w", err)
	}
	signature := Sign(s.secret, body)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retryBase
	policy.RandomizationFactor = 0
	policy.Multiplier = 2

	attempt := 0
	op := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if signature != "" {
			req.Header.Set(headerSignature, signature)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			s.logger.Warn("mail delivery failure",
				"to", msg.To,
				"attempt", attempt,
				"error", err,
			)
			return err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			return nil
		}

		s.logger.Warn("mail delivery failure",
			"to", msg.To,
			"attempt", attempt,
			"response_status", resp.StatusCode,
		)
		statusErr := fmt.Errorf("mail relay responded %d", resp.StatusCode)
		if resp.StatusCode < http.StatusInternalServerError && resp.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(statusErr)
		}
		return statusErr
	}

	retries := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.attempts-1)), ctx)
	if err := backoff.Retry(op, retries); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		s.logger.Error("mail delivery gave up",
			"to", msg.To,
			"attempts", attempt,
			"error", err,
		)
		return err
	}

	s.logger.Info("mail delivered", "to", msg.To, "attempts", attempt)
	return nil
}

// Sign returns the hex HMAC-SHA256 of payload, or "" without a secret.
func Sign(secret string, payload []byte) string {
	if strings.TrimSpace(secret) == "" {
		return ""
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

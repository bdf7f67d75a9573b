// Package notify implements the confirmation-notification dispatcher.
// It is side-effect only: a single confirmation message per published
// page, delivered through an HTTP mail relay. Failures are reported to
// the caller, never thrown past this boundary, and never unwind the
// page's paid status.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Confirmation is the one-time message sent when a page is published.
// ToName falls back to a placeholder upstream when the page has no
// contact name.
type Confirmation struct {
	ToEmail   string `json:"to_email"`
	ToName    string `json:"to_name"`
	PageID    string `json:"page_id"`
	PageTitle string `json:"page_title"`
	PageURL   string `json:"page_url"`
}

// Notifier dispatches a confirmation message. Implementations must be
// safe for concurrent use and must honor the context.
type Notifier interface {
	Send(ctx context.Context, msg Confirmation) error
}

// Nop is a Notifier that drops messages. Used when no mail relay is
// configured; the paid transition still completes and the record remains
// the recovery anchor for resending later.
type Nop struct{}

// Send implements Notifier.
func (Nop) Send(ctx context.Context, msg Confirmation) error {
	log.Warn().
		Str("page_id", msg.PageID).
		Msg("mail relay not configured, confirmation dropped")
	return nil
}

// Mailer posts confirmations to an HTTP mail relay endpoint.
type Mailer struct {
	Endpoint string
	APIKey   string
	From     string

	// HTTP is the client used for relay calls. Nil gets a 5s-timeout
	// default from NewMailer.
	HTTP *http.Client
}

// NewMailer constructs a Mailer with a bounded-timeout HTTP client.
func NewMailer(endpoint, apiKey, from string) *Mailer {
	return &Mailer{
		Endpoint: endpoint,
		APIKey:   apiKey,
		From:     from,
		HTTP:     &http.Client{Timeout: 5 * time.Second},
	}
}

type relayBody struct {
	From    string `json:"from"`
	To      string `json:"to"`
	ToName  string `json:"to_name,omitempty"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// Send delivers one confirmation through the relay. The error return is
// informational: callers record it but must not re-fire the transition.
func (m *Mailer) Send(ctx context.Context, msg Confirmation) error {
	if strings.TrimSpace(m.Endpoint) == "" {
		return errors.New("mail relay endpoint not configured")
	}

	body := relayBody{
		From:    m.From,
		To:      msg.ToEmail,
		ToName:  msg.ToName,
		Subject: fmt.Sprintf("Your page %q is live", msg.PageTitle),
		Text: fmt.Sprintf(
			"Hi %s,\n\nYour page %q has been published and is ready to share:\n%s\n",
			msg.ToName, msg.PageTitle, msg.PageURL,
		),
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.Endpoint, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.APIKey)
	}

	client := m.HTTP
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("mail relay: status %d: %s", resp.StatusCode, string(raw))
	}

	log.Info().
		Str("page_id", msg.PageID).
		Msg("confirmation dispatched")
	return nil
}

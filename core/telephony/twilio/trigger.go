package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/voicemux/callbridge/internal/httpc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const apiBaseURL = "https://api.twilio.com/2010-04-01"

// CallTrigger places outbound calls through the Twilio REST API. An answered
// call is pointed at the voice webhook and flows through the same call
// session machinery as an inbound one.
type CallTrigger struct {
	accountSID string
	authToken  string
	from       string

	httpClient *http.Client
}

type TriggerOption func(*CallTrigger)

func WithHTTPClient(client *http.Client) TriggerOption {
	return func(t *CallTrigger) { t.httpClient = client }
}

func NewCallTrigger(accountSID, authToken, from string, opts ...TriggerOption) *CallTrigger {
	trigger := &CallTrigger{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		httpClient: httpc.Client,
	}
	for _, opt := range opts {
		opt(trigger)
	}
	return trigger
}

// Trigger dials to and connects the answered call to webhookURL. It returns
// the provider's call SID.
func (t *CallTrigger) Trigger(ctx context.Context, to, webhookURL string) (string, error) {
	ctx, span := tracer.Start(ctx, "trigger outbound call")
	defer span.End()

	if t.accountSID == "" || t.authToken == "" {
		return "", fmt.Errorf("twilio credentials missing")
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", t.from)
	form.Set("Url", webhookURL)
	form.Set("Method", "POST")

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", apiBaseURL, t.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create call request: %w", err)
	}
	req.SetBasicAuth(t.accountSID, t.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("failed to trigger call: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("twilio call creation failed: %s: %s", resp.Status, string(body))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	var created struct {
		SID string `json:"sid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("failed to decode call creation response: %w", err)
	}

	logger.Info("outbound call initiated", "call_sid", created.SID, "to", to)
	return created.SID, nil
}

// SendMessage sends an SMS from the configured number and returns the
// provider's message SID.
func (t *CallTrigger) SendMessage(ctx context.Context, to, body string) (string, error) {
	ctx, span := tracer.Start(ctx, "send message")
	defer span.End()

	if t.accountSID == "" || t.authToken == "" {
		return "", fmt.Errorf("twilio credentials missing")
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", t.from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", apiBaseURL, t.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create message request: %w", err)
	}
	req.SetBasicAuth(t.accountSID, t.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("failed to send message: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("twilio message creation failed: %s: %s", resp.Status, string(body))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	var created struct {
		SID string `json:"sid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("failed to decode message creation response: %w", err)
	}

	logger.Info("message sent", "message_sid", created.SID, "to", to)
	return created.SID, nil
}

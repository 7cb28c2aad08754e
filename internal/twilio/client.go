package twilio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	twilio "github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

const (
	defaultTimeout = 15 * time.Second
	retryDelay     = 2 * time.Second
	maxMediaBytes  = 16 << 20
)

// ErrNotConfigured is returned when credentials or the sender number are missing.
var ErrNotConfigured = errors.New("twilio client not configured")

// messageAPI is the slice of the Twilio REST API the client needs.
type messageAPI interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// Client wraps Twilio messaging operations required by the bot.
type Client struct {
	api          messageAPI
	accountSID   string
	authToken    string
	fromWhatsApp string
	validator    twilioclient.RequestValidator
	breaker      *gobreaker.CircuitBreaker
	http         *http.Client
	retries      int
	retryDelay   time.Duration
	logger       *zap.Logger
}

// New creates a Twilio client bound to the configured WhatsApp sender number.
// Every outbound call is bounded by timeout and retried once.
func New(accountSID, authToken, fromWhatsApp string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		accountSID:   accountSID,
		authToken:    authToken,
		fromWhatsApp: fromWhatsApp,
		validator:    twilioclient.NewRequestValidator(authToken),
		breaker:      newBreaker(logger),
		http:         &http.Client{Timeout: timeout},
		retries:      1,
		retryDelay:   retryDelay,
		logger:       logger,
	}
	if accountSID != "" && authToken != "" {
		rest := twilio.NewRestClientWithParams(twilio.ClientParams{Username: accountSID, Password: authToken})
		rest.SetTimeout(timeout)
		c.api = rest.Api
	}
	return c
}

func newBreaker(logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "twilio",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A rejected recipient says nothing about Twilio's health.
		IsSuccessful: func(err error) bool {
			return err == nil || isPermanent(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// Send delivers a WhatsApp message. It satisfies the scheduler's gateway.
func (c *Client) Send(ctx context.Context, to, body string) error {
	if c.api == nil {
		return ErrNotConfigured
	}

	sender := normalizeWhatsAppAddress(c.fromWhatsApp)
	if sender == "" {
		return fmt.Errorf("%w: sender WhatsApp number is missing", ErrNotConfigured)
	}

	recipient := normalizeWhatsAppAddress(to)
	if recipient == "" {
		return fmt.Errorf("recipient number missing or invalid")
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(recipient)
	params.SetFrom(sender)
	params.SetBody(body)

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		sid, err := c.create(ctx, params)
		if err == nil {
			c.logger.Debug("twilio message sent", zap.String("to", recipient), zap.String("sid", sid))
			return nil
		}
		lastErr = err
		c.logger.Warn("twilio send failed", zap.String("to", recipient), zap.Int("attempt", attempt+1), zap.Error(err))

		if isPermanent(err) || errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("twilio send message error: %w", lastErr)
}

// isPermanent reports whether Twilio rejected the request itself, such as an
// unreachable recipient. Retrying those cannot succeed.
func isPermanent(err error) bool {
	var apiErr *twilioclient.TwilioRestError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != http.StatusTooManyRequests
}

// create runs one CreateMessage call through the breaker. The SDK call takes
// no context, so ctx only bounds how long Send waits for it.
func (c *Client) create(ctx context.Context, params *openapi.CreateMessageParams) (string, error) {
	type result struct {
		sid string
		err error
	}
	done := make(chan result, 1)

	go func() {
		resp, err := c.breaker.Execute(func() (any, error) {
			return c.api.CreateMessage(params)
		})
		var sid string
		if msg, ok := resp.(*openapi.ApiV2010Message); ok && msg != nil && msg.Sid != nil {
			sid = *msg.Sid
		}
		done <- result{sid: sid, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.sid, r.err
	}
}

// DownloadMedia fetches an inbound media attachment such as a voice note.
// Twilio media URLs require the account credentials.
func (c *Client) DownloadMedia(ctx context.Context, mediaURL string) ([]byte, string, error) {
	if c.accountSID == "" || c.authToken == "" {
		return nil, "", ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build media request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download media: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read media: %w", err)
	}
	if len(data) > maxMediaBytes {
		return nil, "", fmt.Errorf("media larger than %d bytes", maxMediaBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// ValidateRequest checks the X-Twilio-Signature of a webhook call against the
// public URL Twilio posted to and the form parameters.
func (c *Client) ValidateRequest(url string, params map[string]string, signature string) bool {
	if c.authToken == "" || signature == "" {
		return false
	}
	return c.validator.Validate(url, params, signature)
}

func normalizeWhatsAppAddress(number string) string {
	trimmed := strings.TrimSpace(number)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "whatsapp:") {
		return trimmed
	}
	if strings.HasPrefix(trimmed, "+") {
		return "whatsapp:" + trimmed
	}
	return "whatsapp:+" + trimmed
}

package bot

import (
	"encoding/xml"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

const rateLimitedReply = "⏳ You're sending messages too quickly. Please wait a moment and try again."

// Handler returns the Twilio webhook. It acknowledges with TwiML straight
// away and answers through the messenger once processing finishes.
func (b *Bot) Handler() http.HandlerFunc {
	return b.handleIncomingMessage
}

func (b *Bot) handleIncomingMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		b.logger.Warn("webhook: parse form", zap.Error(err))
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if b.cfg.TwilioValidateSignature {
		signature := r.Header.Get("X-Twilio-Signature")
		if !b.messenger.ValidateRequest(b.cfg.WebhookPublicURL, DecodeTwilioForm(r.PostForm), signature) {
			b.logger.Warn("webhook: invalid signature", zap.String("remote", r.RemoteAddr))
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	msg := Inbound{
		Owner: sanitizeWhatsAppNumber(r.PostFormValue("From")),
		Body:  strings.TrimSpace(r.PostFormValue("Body")),
	}
	if r.PostFormValue("NumMedia") != "" && r.PostFormValue("NumMedia") != "0" {
		msg.MediaURL = r.PostFormValue("MediaUrl0")
		msg.MediaType = r.PostFormValue("MediaContentType0")
	}

	if msg.Owner == "" || (msg.Body == "" && msg.MediaURL == "") {
		b.writeTwilioResponse(w, "")
		return
	}
	if !b.limiter.Allow(msg.Owner) {
		b.logger.Warn("webhook: rate limited", zap.String("owner", msg.Owner))
		b.metrics.InboundMessages.WithLabelValues("rate_limited").Inc()
		b.writeTwilioResponse(w, rateLimitedReply)
		return
	}

	b.dispatch(msg)
	b.writeTwilioResponse(w, "")
}

func (b *Bot) writeTwilioResponse(w http.ResponseWriter, message string) {
	twiml := struct {
		XMLName xml.Name `xml:"Response"`
		Message string   `xml:"Message,omitempty"`
	}{
		Message: message,
	}

	w.Header().Set("Content-Type", "application/xml")
	if err := xml.NewEncoder(w).Encode(twiml); err != nil {
		b.logger.Warn("twilio response encode", zap.Error(err))
	}
}

func sanitizeWhatsAppNumber(from string) string {
	// Twilio prepends whatsapp: to the number.
	return strings.TrimPrefix(strings.TrimSpace(from), "whatsapp:")
}

// DecodeTwilioForm flattens form values for signature validation.
func DecodeTwilioForm(values url.Values) map[string]string {
	result := make(map[string]string, len(values))
	for key, value := range values {
		if len(value) > 0 {
			result[key] = value[0]
		}
	}
	return result
}

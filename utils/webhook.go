package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

const webhookTimeout = 10 * time.Second

// WebhookClient delivers journey webhook payloads. Every request
// carries an X-Idempotency-Key header derived from the payload content
// so receivers can deduplicate retried deliveries. It implements
// engine.WebhookSender.
type WebhookClient struct {
	client *fasthttp.Client
}

func NewWebhookClient() *WebhookClient {
	return &WebhookClient{
		client: &fasthttp.Client{
			ReadTimeout:  webhookTimeout,
			WriteTimeout: webhookTimeout,
		},
	}
}

// Deliver sends the payload and returns the transport status code and
// response body.
func (w *WebhookClient) Deliver(method, url string, payload interface{}) (int, string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, "", fmt.Errorf("encoding webhook payload: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	req.Header.Set("X-Idempotency-Key", ContentHash(body))
	if method != fasthttp.MethodGet {
		req.SetBody(body)
	}

	if err := w.client.DoTimeout(req, resp, webhookTimeout); err != nil {
		return 0, "", fmt.Errorf("webhook request: %w", err)
	}
	return resp.StatusCode(), string(resp.Body()), nil
}

// ContentHash returns the hex sha256 of the payload bytes.
func ContentHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

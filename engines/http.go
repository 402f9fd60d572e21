// Package engines provides stage engine implementations backed by external
// inference services. Each engine is a single POST to a configured endpoint;
// the model behind it is opaque to the orchestration layer.
package engines

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPTranscriber posts raw audio and expects {"text": "..."}.
type HTTPTranscriber struct {
	URL  string
	HTTP *http.Client
}

func (t *HTTPTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	body, err := post(ctx, clientOr(t.HTTP), t.URL, "application/octet-stream", bytes.NewReader(audio))
	if err != nil {
		return "", err
	}
	return decodeText(body)
}

// HTTPResponder posts {"text": question} and expects {"text": answer}.
type HTTPResponder struct {
	URL  string
	HTTP *http.Client
}

func (r *HTTPResponder) Respond(ctx context.Context, question string) (string, error) {
	payload, err := json.Marshal(map[string]string{"text": question})
	if err != nil {
		return "", err
	}
	body, err := post(ctx, clientOr(r.HTTP), r.URL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	return decodeText(body)
}

// HTTPSynthesizer posts {"text": ...} and expects raw audio bytes back.
type HTTPSynthesizer struct {
	URL  string
	HTTP *http.Client
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}
	return post(ctx, clientOr(s.HTTP), s.URL, "application/json", bytes.NewReader(payload))
}

func clientOr(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return http.DefaultClient
}

func post(ctx context.Context, client *http.Client, url, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference endpoint %s: %s", url, resp.Status)
	}
	return data, nil
}

func decodeText(body []byte) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode inference response: %w", err)
	}
	if strings.TrimSpace(out.Text) == "" {
		return "", fmt.Errorf("inference endpoint returned empty text")
	}
	return out.Text, nil
}

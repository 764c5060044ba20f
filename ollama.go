package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"
)

// thinking-model preambles are stripped before the narrative is returned
var thinkTagRE = regexp.MustCompile(`(?s)<think>.*?</think>`)

// ollamaClient talks to a local Ollama instance. The summarizer is an
// opaque downstream consumer: it only ever sees read-only aggregates.
type ollamaClient struct {
	host   string
	model  string
	client *http.Client
}

func newOllamaClient() *ollamaClient {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://localhost:11434"
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	// cannot connect to a 0.0.0.0 listen address directly
	host = strings.ReplaceAll(host, "0.0.0.0", "127.0.0.1")
	model := os.Getenv("OLLAMA_MODEL")
	if model == "" {
		model = "qwen3:1.7b"
	}
	return &ollamaClient{
		host:  host,
		model: model,
		// generous timeout: requests queue behind other generations
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

// generate runs one non-streaming completion.
func (o *ollamaClient) generate(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"model":  o.model,
		"prompt": prompt,
		"stream": false,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := o.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama status %d", resp.StatusCode)
	}
	var body struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	out := strings.TrimSpace(thinkTagRE.ReplaceAllString(body.Response, ""))
	if out == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return out, nil
}

// ping reports whether the Ollama endpoint is reachable.
func (o *ollamaClient) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.host+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama status %d", resp.StatusCode)
	}
	return nil
}

package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mr1hm/go-tsunami-alerts/internal/models"
)

const defaultPushTimeout = 5 * time.Second

// DevicePayload is the body POSTed to http://{ip}/alert.
type DevicePayload struct {
	Level      int               `json:"level"`
	LevelName  models.AlertLevel `json:"level_name"`
	Message    string            `json:"message"`
	Earthquake string            `json:"earthquake"`
}

type DeliveryResult struct {
	IP         string `json:"ip"`
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Pusher talks to devices directly over the local network.
type Pusher struct {
	client *http.Client
}

func NewPusher(timeout time.Duration) *Pusher {
	if timeout <= 0 {
		timeout = defaultPushTimeout
	}
	return &Pusher{client: &http.Client{Timeout: timeout}}
}

func (p *Pusher) Push(ctx context.Context, ip string, payload DevicePayload) DeliveryResult {
	body, err := json.Marshal(payload)
	if err != nil {
		return DeliveryResult{IP: ip, Error: err.Error()}
	}
	return p.post(ctx, ip, "/alert", body)
}

// Clear tells a device to silence its alarm.
func (p *Pusher) Clear(ctx context.Context, ip string) DeliveryResult {
	return p.post(ctx, ip, "/clear", nil)
}

func (p *Pusher) post(ctx context.Context, ip, path string, body []byte) DeliveryResult {
	res := DeliveryResult{IP: ip}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+ip+path, bytes.NewReader(body))
	if err != nil {
		res.Error = fmt.Sprintf("error creating request: %v", err)
		return res
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	res.StatusCode = resp.StatusCode
	res.Success = resp.StatusCode == http.StatusOK
	if !res.Success {
		res.Error = fmt.Sprintf("unexpected status code: %d", resp.StatusCode)
	}
	return res
}

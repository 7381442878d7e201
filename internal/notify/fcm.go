package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// TokenSource resolves a user id to their registered device token.
// Empty string means no token on file.
type TokenSource func(userID string) string

// FCMClient posts data messages to the FCM HTTP v1 endpoint.
type FCMClient struct {
	Endpoint string
	Key      string
	Tokens   TokenSource
	Client   *http.Client
}

func NewFCMClient(endpoint, key string, tokens TokenSource) *FCMClient {
	return &FCMClient{Endpoint: endpoint, Key: key, Tokens: tokens, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (f *FCMClient) Push(userID, event string, payload any) error {
	token := ""
	if f.Tokens != nil {
		token = f.Tokens(userID)
	}
	if token == "" {
		return fmt.Errorf("no device token for %s", userID)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	body := map[string]any{"message": map[string]any{
		"token": token,
		"data":  map[string]string{"event": event, "payload": string(data)},
	}}
	b, _ := json.Marshal(body)
	req, err := http.NewRequest(http.MethodPost, f.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.Key != "" {
		req.Header.Set("Authorization", "Bearer "+f.Key)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("fcm push: status %d", resp.StatusCode)
	}
	return nil
}

// Package notify delivers push notifications to the mobile app through
// the Expo push service.
package notify

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"
)

const defaultPushURL = "https://exp.host/--/api/v2/push/send"

// ExpoClient posts push messages. Sends are fire-and-forget: failures
// are logged, never propagated, so a flaky push service cannot stall a
// trading loop.
type ExpoClient struct {
	url  string
	http *http.Client
}

func NewExpoClient(url string) *ExpoClient {
	if url == "" {
		url = defaultPushURL
	}
	return &ExpoClient{
		url:  url,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

type pushMessage struct {
	To    string `json:"to"`
	Title string `json:"title"`
	Body  string `json:"body"`
	Sound string `json:"sound"`
}

// Push sends one notification asynchronously. Tokens that are not Expo
// push tokens are dropped silently.
func (c *ExpoClient) Push(token, title, body string) {
	if !strings.HasPrefix(token, "ExponentPushToken") {
		return
	}
	go func() {
		payload, err := json.Marshal(pushMessage{To: token, Title: title, Body: body, Sound: "default"})
		if err != nil {
			log.Printf("notify: encode push: %v", err)
			return
		}
		resp, err := c.http.Post(c.url, "application/json", bytes.NewReader(payload))
		if err != nil {
			log.Printf("notify: push send: %v", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			log.Printf("notify: push rejected with status %d", resp.StatusCode)
		}
	}()
}

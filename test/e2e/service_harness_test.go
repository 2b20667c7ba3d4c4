package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"klaxer/internal/app"
	"klaxer/internal/clock"
	"klaxer/internal/config"
)

// newServiceFromConfig creates Service from file config path for e2e scenarios.
// Params: test handle and absolute config path.
// Returns: initialized service instance.
func newServiceFromConfig(t *testing.T, path string) *app.Service {
	t.Helper()

	source, err := config.FromCLI(path, "")
	if err != nil {
		t.Fatalf("config source: %v", err)
	}
	service, err := app.NewService(source, clock.RealClock{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

// runService starts service in background with cancellable context.
// Params: test handle and initialized service.
// Returns: cancel callback and done channel with Run result.
func runService(t *testing.T, service *app.Service) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- service.Run(ctx)
	}()
	return cancel, done
}

// waitReady waits for /readyz endpoint to return 200.
// Params: test handle and HTTP port.
// Returns: service is ready or test fails on timeout.
func waitReady(t *testing.T, port int) {
	t.Helper()
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	waitFor(t, 8*time.Second, func() bool {
		response, err := http.Get(baseURL + "/readyz")
		if err != nil {
			return false
		}
		defer response.Body.Close()
		return response.StatusCode == http.StatusOK
	})
}

// waitServiceStop asserts service Run exits without error after cancellation.
// Params: test handle and done channel returned by runService.
// Returns: test fails if stop timeout/error happens.
func waitServiceStop(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case runErr := <-done:
		if runErr != nil {
			t.Fatalf("service run error: %v", runErr)
		}
	case <-time.After(8 * time.Second):
		t.Fatalf("service did not stop after cancel")
	}
}

func freePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for condition")
}

// slackState holds one channel's message history inside the fake API.
type slackState struct {
	mu      sync.Mutex
	nextTS  int
	last    map[string]slackStoredMessage
	posts   int
	deletes int
}

type slackStoredMessage struct {
	TS    string
	Title string
	Text  string
	Color string
}

// startFakeSlack serves the subset of the Slack Web API the sink uses.
// Channels ops/netops resolve to fixed IDs; each channel remembers only its
// most recent message, which is all the sink ever reads.
// Params: test handle.
// Returns: API base URL and shared state for assertions.
func startFakeSlack(t *testing.T) (string, *slackState) {
	t.Helper()
	state := &slackState{last: make(map[string]slackStoredMessage)}

	mux := http.NewServeMux()
	mux.HandleFunc("/conversations.list", func(writer http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(writer).Encode(map[string]any{
			"ok": true,
			"channels": []map[string]string{
				{"id": "C1", "name": "ops"},
				{"id": "C2", "name": "netops"},
			},
		})
	})
	mux.HandleFunc("/conversations.history", func(writer http.ResponseWriter, request *http.Request) {
		state.mu.Lock()
		defer state.mu.Unlock()
		stored, ok := state.last[request.URL.Query().Get("channel")]
		if !ok {
			_ = json.NewEncoder(writer).Encode(map[string]any{"ok": true, "messages": []any{}})
			return
		}
		_ = json.NewEncoder(writer).Encode(map[string]any{
			"ok": true,
			"messages": []map[string]any{{
				"ts":       stored.TS,
				"username": "klaxer",
				"attachments": []map[string]string{{
					"title": stored.Title,
					"text":  stored.Text,
					"color": stored.Color,
				}},
			}},
		})
	})
	mux.HandleFunc("/chat.postMessage", func(writer http.ResponseWriter, request *http.Request) {
		var payload struct {
			Channel     string `json:"channel"`
			Attachments []struct {
				Title string `json:"title"`
				Text  string `json:"text"`
				Color string `json:"color"`
			} `json:"attachments"`
		}
		if err := json.NewDecoder(request.Body).Decode(&payload); err != nil || len(payload.Attachments) == 0 {
			_ = json.NewEncoder(writer).Encode(map[string]any{"ok": false, "error": "invalid_payload"})
			return
		}
		state.mu.Lock()
		defer state.mu.Unlock()
		state.posts++
		state.nextTS++
		ts := "1700000000.00" + strconv.Itoa(state.nextTS)
		state.last[payload.Channel] = slackStoredMessage{
			TS:    ts,
			Title: payload.Attachments[0].Title,
			Text:  payload.Attachments[0].Text,
			Color: payload.Attachments[0].Color,
		}
		_ = json.NewEncoder(writer).Encode(map[string]any{"ok": true, "ts": ts})
	})
	mux.HandleFunc("/chat.delete", func(writer http.ResponseWriter, request *http.Request) {
		var payload struct {
			Channel string `json:"channel"`
			TS      string `json:"ts"`
		}
		if err := json.NewDecoder(request.Body).Decode(&payload); err != nil {
			_ = json.NewEncoder(writer).Encode(map[string]any{"ok": false, "error": "invalid_payload"})
			return
		}
		state.mu.Lock()
		defer state.mu.Unlock()
		state.deletes++
		if stored, ok := state.last[payload.Channel]; ok && stored.TS == payload.TS {
			delete(state.last, payload.Channel)
		}
		_ = json.NewEncoder(writer).Encode(map[string]any{"ok": true})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server.URL, state
}

// lastText returns the most recent message text for one channel ID.
func (s *slackState) lastText(channelID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last[channelID].Text
}

// sensuConfigTOML renders a single-service config fixture for e2e runs.
// Params: HTTP port, fake Slack base URL, and NATS section body.
// Returns: full TOML document.
func sensuConfigTOML(port int, slackURL, natsSection string) string {
	return fmt.Sprintf(`
[service]
name = "klaxer"
reload_enabled = false

[log.console]
enabled = true
level = "error"
format = "line"

[ingest.http]
enabled = true
listen = "127.0.0.1:%d"

%s

[sink.slack]
base_url = "%s"
token = "xoxb-e2e"
bot_name = "klaxer"

[services.sensu]
token = "12345"

[services.sensu.message]
exclude = ["keepalive"]

[services.sensu.message.classification]
critical = ["error"]
warning = ["warning"]

[[services.sensu.message.routes]]
if = "network"
channel = "netops"

[[services.sensu.message.routes]]
channel = "ops"
`, port, natsSection, slackURL)
}

// postSensuAlert posts one sensu-shaped payload and returns the response.
// Params: test handle, HTTP port, token, message text, and query string.
// Returns: status code and decoded status body.
func postSensuAlert(t *testing.T, port int, token, text, query string) (int, map[string]any) {
	t.Helper()
	payload := fmt.Sprintf(`{"attachments":[{"title":"host - alert","text":%q,"color":"red"}]}`, text)
	url := fmt.Sprintf("http://127.0.0.1:%d/alert/sensu/%s%s", port, token, query)
	response, err := http.Post(url, "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("post alert: %v", err)
	}
	defer response.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(response.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return response.StatusCode, body
}

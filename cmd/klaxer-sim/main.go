package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"
)

// simulated source host and service echoed in generated payloads.
const (
	simulatedSystem  = "service.example.com"
	simulatedService = "Service"
)

// severityChoices lists severities the simulator can emit.
var severityChoices = []string{"warning", "error"}

// sensuAttachment mirrors one attachment in a sensu webhook payload.
// Params: title, text, and color rendered per simulated severity.
// Returns: JSON-serializable attachment body.
type sensuAttachment struct {
	Title string `json:"title"`
	Text  string `json:"text"`
	Color string `json:"color"`
}

// sensuPayload mirrors the sensu slack-handler webhook shape.
// Params: static channel metadata and one rendered attachment.
// Returns: JSON-serializable alert body.
type sensuPayload struct {
	Channel     string            `json:"channel"`
	Username    string            `json:"username"`
	IconEmoji   string            `json:"icon_emoji"`
	Attachments []sensuAttachment `json:"attachments"`
}

// main sends synthetic sensu alerts to a running klaxer instance.
// Params: CLI flags for count, severity, target host, and service token.
// Returns: process exit code 1 on any send failure.
func main() {
	var (
		count    = flag.Int("n", 1, "number of alerts to send")
		severity = flag.String("severity", "both", "alert severity: warning, error, or both")
		host     = flag.String("host", "localhost:8080", "klaxer host:port to post to")
		token    = flag.String("token", "12345", "sensu service token")
	)
	flag.Parse()

	if *severity != "both" && *severity != "warning" && *severity != "error" {
		_, _ = fmt.Fprintf(os.Stderr, "unsupported severity %q\n", *severity)
		os.Exit(2)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	target := fmt.Sprintf("http://%s/alert/sensu/%s", *host, *token)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	failed := false
	for index := 0; index < *count; index++ {
		chosen := *severity
		if chosen == "both" {
			chosen = severityChoices[rng.Intn(len(severityChoices))]
		}
		if err := sendAlert(client, target, chosen); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, "send failed:", err.Error())
			failed = true
			continue
		}
		fmt.Println("sent", chosen)
	}
	if failed {
		os.Exit(1)
	}
}

// sendAlert posts one rendered sensu payload for the given severity.
// Params: HTTP client, target URL, and severity keyword.
// Returns: transport or non-2xx status error.
func sendAlert(client *http.Client, target string, severity string) error {
	color := "yellow"
	if severity == "error" {
		color = "red"
	}

	payload := sensuPayload{
		Channel:   "#dmesg",
		Username:  "sensu",
		IconEmoji: "skull",
		Attachments: []sensuAttachment{{
			Title: fmt.Sprintf("%s - %s", simulatedSystem, severity),
			Text: fmt.Sprintf(
				"%s/disk-usage: CheckDisk %s: / 85.12%% bytes usage (6 GiB/7 GiB)\n : %s : sensu-clients,testing,client:%s",
				simulatedService, strings.ToUpper(severity), simulatedSystem, simulatedService,
			),
			Color: color,
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	response, err := client.Post(target, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d from %s", response.StatusCode, target)
	}
	return nil
}

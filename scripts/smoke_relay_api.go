package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
)

const (
	baseURL = "http://localhost:3000/api"
)

// Pretty print JSON helper
func prettyPrint(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%v\n", v)
		return
	}
	fmt.Println(string(b))
}

// Request helper
func sendRequest(method, url string, body interface{}) (*http.Response, []byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequest(method, baseURL+url, bodyReader)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	return resp, respBody, err
}

func show(resp *http.Response, body []byte) {
	color.Green("Status: %s", resp.Status)
	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err == nil {
		prettyPrint(parsed)
	} else {
		fmt.Println(string(body))
	}
}

func main() {
	color.Cyan("🚀 Relay API Smoke Test\n")

	sessionID := fmt.Sprintf("smoke-session-%d", time.Now().Unix())
	tabID := fmt.Sprintf("smoke-tab-%d", time.Now().Unix())

	// 1. Health
	color.Yellow("\n1. Health")
	resp, body, err := sendRequest("GET", "/health", nil)
	if err != nil {
		color.Red("Failed: %v", err)
		os.Exit(1)
	}
	show(resp, body)

	// 2. Create a tab
	color.Yellow("\n2. Create Tab")
	resp, body, err = sendRequest("POST", "/relay/v1/tabs", map[string]interface{}{
		"tab_id":     tabID,
		"session_id": sessionID,
		"title":      "Smoke Session",
	})
	if err != nil {
		color.Red("Failed: %v", err)
		os.Exit(1)
	}
	show(resp, body)

	// 3. Activate it
	color.Yellow("\n3. Set Active Session")
	resp, body, _ = sendRequest("PUT", "/relay/v1/sessions/active", map[string]interface{}{
		"session_id": sessionID,
	})
	show(resp, body)

	// 4. Freshness check
	color.Yellow("\n4. Needs History Load")
	resp, body, _ = sendRequest("GET", "/relay/v1/tabs/"+tabID+"/needs-history", nil)
	show(resp, body)

	// 5. Push a run event (started)
	color.Yellow("\n5. Push RunStarted Event")
	resp, body, _ = sendRequest("POST", "/relay/v1/sessions/"+sessionID+"/events", map[string]interface{}{
		"type":      "RunStarted",
		"timestamp": time.Now().UnixMilli(),
	})
	show(resp, body)

	// 6. Push tool events
	color.Yellow("\n6. Push ToolCall Events")
	for _, evType := range []string{"ToolCallStarted", "ToolCallCompleted"} {
		resp, body, _ = sendRequest("POST", "/relay/v1/sessions/"+sessionID+"/events", map[string]interface{}{
			"type":      evType,
			"timestamp": time.Now().UnixMilli(),
		})
		show(resp, body)
	}

	// 7. Read the timeline
	color.Yellow("\n7. Get Timeline")
	time.Sleep(200 * time.Millisecond) // Let the consumer drain
	resp, body, _ = sendRequest("GET", "/relay/v1/sessions/"+sessionID+"/timeline", nil)
	show(resp, body)

	// 8. Simulated transport failure
	color.Yellow("\n8. Push Failure (503)")
	resp, body, _ = sendRequest("POST", "/relay/v1/sessions/"+sessionID+"/failures", map[string]interface{}{
		"message":     "upstream unavailable",
		"status_code": 503,
	})
	show(resp, body)

	// 9. Active error
	color.Yellow("\n9. Get Active Error")
	time.Sleep(200 * time.Millisecond)
	resp, body, _ = sendRequest("GET", "/relay/v1/sessions/"+sessionID+"/error", nil)
	show(resp, body)

	// 10. Complete the run
	color.Yellow("\n10. Push RunCompleted Event")
	resp, body, _ = sendRequest("POST", "/relay/v1/sessions/"+sessionID+"/events", map[string]interface{}{
		"type":      "RunCompleted",
		"timestamp": time.Now().UnixMilli(),
	})
	show(resp, body)

	// 11. Final timeline
	color.Yellow("\n11. Final Timeline")
	time.Sleep(200 * time.Millisecond)
	resp, body, _ = sendRequest("GET", "/relay/v1/sessions/"+sessionID+"/timeline", nil)
	show(resp, body)

	// 12. Cleanup
	color.Yellow("\n12. Delete Tab")
	resp, body, _ = sendRequest("DELETE", "/relay/v1/tabs/"+tabID, nil)
	show(resp, body)

	color.Cyan("\n✅ Smoke test finished")
}

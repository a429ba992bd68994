package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"agent-console-be/internal/bootstrap"
	"agent-console-be/internal/config"
	"agent-console-be/internal/server"
	"agent-console-be/pkg/database"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Full-stack pass over the relay API: tab lifecycle, event ingestion,
// timeline aggregation and the failure surface. Needs a reachable postgres
// (DB_CONNECTION_STRING); redis and NATS are optional, the app degrades
// without them.
func TestRelayAPIFlow(t *testing.T) {
	// Load .env from root (2 levels up) because tests run in package dir
	if err := godotenv.Load("../../.env"); err != nil {
		t.Logf("Warning: Could not load ../../.env: %v", err)
	}
	cfg := config.Load()

	db, err := database.NewGormDBFromDSN(cfg.Database.Connection)
	if err != nil {
		t.Skipf("Skipping: DB unavailable: %v", err)
	}
	require.NoError(t, database.Migrate(db))

	container := bootstrap.NewContainer(db, cfg)
	require.NoError(t, container.RelayService.Recover(t.Context()))
	require.NoError(t, container.IngestService.Consume(t.Context()))

	srv := server.New(cfg, container)
	app := srv.GetApp()

	sessionID := fmt.Sprintf("it-session-%d", time.Now().UnixNano())
	tabID := fmt.Sprintf("it-tab-%d", time.Now().UnixNano())

	doJSON := func(method, url string, payload interface{}) (*fiber.Map, int) {
		t.Helper()
		var body bytes.Buffer
		if payload != nil {
			require.NoError(t, json.NewEncoder(&body).Encode(payload))
		}
		req := httptest.NewRequest(method, url, &body)
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req, 5000)
		require.NoError(t, err)
		defer resp.Body.Close()

		var parsed fiber.Map
		_ = json.NewDecoder(resp.Body).Decode(&parsed)
		return &parsed, resp.StatusCode
	}

	// 1. Tab lifecycle
	_, code := doJSON("POST", "/api/relay/v1/tabs", fiber.Map{
		"tab_id":     tabID,
		"session_id": sessionID,
		"title":      "Integration",
	})
	require.Equal(t, fiber.StatusCreated, code)

	_, code = doJSON("POST", "/api/relay/v1/tabs", fiber.Map{"tab_id": tabID})
	assert.Equal(t, fiber.StatusConflict, code)

	body, code := doJSON("GET", "/api/relay/v1/tabs/"+tabID+"/needs-history", nil)
	require.Equal(t, fiber.StatusOK, code)
	data := (*body)["data"].(map[string]interface{})
	assert.Equal(t, true, data["needs_history_load"])

	// 2. Run events flow through the ingest pipeline
	for _, ev := range []fiber.Map{
		{"type": "RunStarted", "timestamp": 1000},
		{"type": "ToolCallStarted", "timestamp": 2000},
		{"type": "ToolCallCompleted", "timestamp": 2500},
		{"type": "ToolCallStarted", "timestamp": 3000},
		{"type": "ToolCallCompleted", "timestamp": 3500},
		{"type": "RunCompleted", "timestamp": 6000},
	} {
		_, code = doJSON("POST", "/api/relay/v1/sessions/"+sessionID+"/events", ev)
		require.Equal(t, fiber.StatusAccepted, code)
	}

	require.Eventually(t, func() bool {
		body, code := doJSON("GET", "/api/relay/v1/sessions/"+sessionID+"/timeline", nil)
		if code != fiber.StatusOK {
			return false
		}
		data := (*body)["data"].(map[string]interface{})
		return data["is_completed"] == true
	}, 2*time.Second, 20*time.Millisecond)

	body, _ = doJSON("GET", "/api/relay/v1/sessions/"+sessionID+"/timeline", nil)
	data = (*body)["data"].(map[string]interface{})
	assert.Equal(t, float64(5000), data["duration_ms"])
	entries := data["entries"].([]interface{})
	// start marker + Tools group + end marker
	require.Len(t, entries, 3)
	tools := entries[1].(map[string]interface{})
	assert.Equal(t, "Tools", tools["label"])
	assert.Equal(t, float64(2), tools["count"])

	// The raw feed keeps every event, unaggregated.
	body, code = doJSON("GET", "/api/relay/v1/sessions/"+sessionID+"/events", nil)
	require.Equal(t, fiber.StatusOK, code)
	raw := (*body)["data"].([]interface{})
	require.Len(t, raw, 6)
	first := raw[0].(map[string]interface{})
	assert.Equal(t, "RunStarted", first["type"])

	// 3. Failure surface
	_, code = doJSON("POST", "/api/relay/v1/sessions/"+sessionID+"/failures", fiber.Map{
		"message":     "upstream unavailable",
		"status_code": 503,
	})
	require.Equal(t, fiber.StatusAccepted, code)

	require.Eventually(t, func() bool {
		body, _ := doJSON("GET", "/api/relay/v1/sessions/"+sessionID+"/error", nil)
		data := (*body)["data"].(map[string]interface{})
		return data["error"] != nil
	}, 2*time.Second, 20*time.Millisecond)

	body, _ = doJSON("GET", "/api/relay/v1/sessions/"+sessionID+"/error", nil)
	data = (*body)["data"].(map[string]interface{})
	runErr := data["error"].(map[string]interface{})
	assert.Equal(t, "SERVER", runErr["category"])
	assert.Equal(t, true, runErr["is_retriable"])

	body, _ = doJSON("GET", "/api/relay/v1/sessions/"+sessionID+"/errors", nil)
	history := (*body)["data"].([]interface{})
	assert.Len(t, history, 1)

	// 4. Retry settings round-trip
	_, code = doJSON("PUT", "/api/relay/v1/settings/retry", fiber.Map{
		"base_delay_ms": 500,
		"max_delay_ms":  10000,
		"max_retries":   2,
	})
	require.Equal(t, fiber.StatusOK, code)

	body, _ = doJSON("GET", "/api/relay/v1/settings/retry", nil)
	settings := (*body)["data"].(map[string]interface{})
	assert.Equal(t, float64(500), settings["BaseDelayMS"])

	// 5. Cleanup
	_, code = doJSON("DELETE", "/api/relay/v1/sessions/"+sessionID+"/messages", nil)
	assert.Equal(t, fiber.StatusOK, code)
	_, code = doJSON("DELETE", "/api/relay/v1/tabs/"+tabID, nil)
	assert.Equal(t, fiber.StatusOK, code)
}

package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rkoehl/intercom-bulk/pkg/client"
	"github.com/rkoehl/intercom-bulk/pkg/intercom"
	"github.com/rkoehl/intercom-bulk/pkg/ratelimit"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "intercom-bulk.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_FromFile(t *testing.T) {
	path := writeConfig(t, `
access_token: file-token
admin_id: "12345"
team_id: "67890"
state: snoozed
log_level: debug
`)

	cfg, err := loadConfig(path, true)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	if cfg.AccessToken != "file-token" {
		t.Errorf("AccessToken = %q", cfg.AccessToken)
	}
	if cfg.AdminID != "12345" || cfg.TeamID != "67890" {
		t.Errorf("AdminID = %q, TeamID = %q", cfg.AdminID, cfg.TeamID)
	}
	if cfg.State != "snoozed" || cfg.LogLevel != "debug" {
		t.Errorf("State = %q, LogLevel = %q", cfg.State, cfg.LogLevel)
	}
}

func TestLoadConfig_EnvFillsEmptyFields(t *testing.T) {
	t.Setenv("INTERCOM_ACCESS_TOKEN", "env-token")
	t.Setenv("INTERCOM_ADMIN_ID", "env-admin")
	t.Setenv("INTERCOM_TEAM_ID", "env-team")

	path := writeConfig(t, `team_id: "file-team"`)

	cfg, err := loadConfig(path, true)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	if cfg.AccessToken != "env-token" {
		t.Errorf("AccessToken = %q, want env fallback", cfg.AccessToken)
	}
	if cfg.AdminID != "env-admin" {
		t.Errorf("AdminID = %q, want env fallback", cfg.AdminID)
	}
	// File values win over the environment.
	if cfg.TeamID != "file-team" {
		t.Errorf("TeamID = %q, want file value", cfg.TeamID)
	}
}

func TestLoadConfig_MissingDefaultFileIsFine(t *testing.T) {
	t.Setenv("INTERCOM_ACCESS_TOKEN", "env-token")

	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"), false)
	if err != nil {
		t.Fatalf("loadConfig() error = %v for absent default file", err)
	}
	if cfg.AccessToken != "env-token" {
		t.Errorf("AccessToken = %q, want env fallback", cfg.AccessToken)
	}
}

func TestLoadConfig_MissingExplicitFileFails(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"), true); err == nil {
		t.Error("loadConfig() must fail when a requested file does not exist")
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "access_token: [not, a, string")
	if _, err := loadConfig(path, true); err == nil {
		t.Error("loadConfig() must fail on malformed YAML")
	}
}

func testAPIClient(t *testing.T) *client.Client {
	t.Helper()
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	budget := ratelimit.NewBudget(ratelimit.Config{RequestsPerSecond: 0}, logger)
	c, err := client.New(client.Config{AccessToken: "tok", Budget: budget})
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	return c
}

func TestBuildAction(t *testing.T) {
	c := testAPIClient(t)

	tests := []struct {
		name     string
		action   string
		adminID  string
		tagIDs   []string
		newState string
		wantType any
		wantErr  bool
	}{
		{"close", "close", "admin-1", nil, "", &intercom.CloseAction{}, false},
		{"close without admin", "close", "", nil, "", nil, true},
		{"tag", "tag", "", []string{"t1"}, "", &intercom.TagAction{}, false},
		{"tag without tags", "tag", "", nil, "", nil, true},
		{"update-state", "update-state", "", nil, "closed", &intercom.UpdateAction{}, false},
		{"update-state without state", "update-state", "", nil, "", nil, true},
		{"unknown", "reopen", "admin-1", nil, "", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			act, err := buildAction(c, tt.adminID, tt.action, tt.tagIDs, tt.newState)
			if (err != nil) != tt.wantErr {
				t.Fatalf("buildAction() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			switch tt.wantType.(type) {
			case *intercom.CloseAction:
				if _, ok := act.(*intercom.CloseAction); !ok {
					t.Errorf("buildAction() = %T, want *CloseAction", act)
				}
			case *intercom.TagAction:
				if _, ok := act.(*intercom.TagAction); !ok {
					t.Errorf("buildAction() = %T, want *TagAction", act)
				}
			case *intercom.UpdateAction:
				if _, ok := act.(*intercom.UpdateAction); !ok {
					t.Errorf("buildAction() = %T, want *UpdateAction", act)
				}
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	// Importing the engine packages registers all metrics; hitting the
	// handler verifies the /metrics surface the CLI exposes.
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	promhttp.Handler().ServeHTTP(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	bodyStr := string(body)
	if !strings.Contains(bodyStr, "# HELP") || !strings.Contains(bodyStr, "# TYPE") {
		t.Error("Expected Prometheus format metrics output")
	}
	if !strings.Contains(bodyStr, "bulk_items_discovered_total") {
		t.Error("Expected metrics output to contain bulk_items_discovered_total")
	}
}

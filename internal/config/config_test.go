package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.Model.APIKey != "test-key" {
		t.Errorf("Model.APIKey = %q", cfg.Model.APIKey)
	}
	if cfg.Workflow.MaxIterations != 10 || cfg.Workflow.AutoAdvanceTurns != 3 {
		t.Errorf("unexpected workflow defaults %+v", cfg.Workflow)
	}
	if cfg.Workflow.SnapshotMaxBytes != 16<<10 {
		t.Errorf("SnapshotMaxBytes = %d", cfg.Workflow.SnapshotMaxBytes)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SESSION_RETENTION", "48h")
	t.Setenv("STRICT_READINESS", "yes")
	t.Setenv("MODEL_TEMPERATURE", "0.7")
	t.Setenv("DOCSVC_MAX_PAGES", "1")
	t.Setenv("RATE_LIMIT_WINDOW", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.SessionRetention != 48*time.Hour {
		t.Errorf("SessionRetention = %v", cfg.SessionRetention)
	}
	if !cfg.Workflow.StrictReadiness {
		t.Error("expected strict readiness")
	}
	if cfg.Model.Temperature < 0.69 || cfg.Model.Temperature > 0.71 {
		t.Errorf("Temperature = %v", cfg.Model.Temperature)
	}
	if cfg.DocService.MaxPages != 1 {
		t.Errorf("MaxPages = %d", cfg.DocService.MaxPages)
	}
	if cfg.RateLimit.WindowDuration != time.Minute {
		t.Errorf("invalid duration should fall back, got %v", cfg.RateLimit.WindowDuration)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"empty port", map[string]string{"PORT": ""}, "PORT"},
		{"zero iterations", map[string]string{"AGENT_MAX_ITERATIONS": "0"}, "AGENT_MAX_ITERATIONS"},
		{"tiny snapshot", map[string]string{"SNAPSHOT_MAX_BYTES": "100"}, "SNAPSHOT_MAX_BYTES"},
		{"hot model", map[string]string{"MODEL_TEMPERATURE": "3"}, "MODEL_TEMPERATURE"},
		{"zero pages", map[string]string{"DOCSVC_MAX_PAGES": "0"}, "DOCSVC_MAX_PAGES"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}
}

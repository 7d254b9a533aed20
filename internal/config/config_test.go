package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnvOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal string
		expected   string
	}{
		{"uses env value", "TEST_VAR_1", "hello", "default", "hello"},
		{"uses default when empty", "TEST_VAR_2", "", "default", "default"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.envValue != "" {
				t.Setenv(tc.key, tc.envValue)
			}

			result := getEnvOrDefault(tc.key, tc.defaultVal)
			if result != tc.expected {
				t.Errorf("Expected %q, got %q", tc.expected, result)
			}
		})
	}
}

func TestGetEnvAsIntOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal int
		expected   int
	}{
		{"parses integer", "TEST_INT_1", "42", 10, 42},
		{"uses default for empty", "TEST_INT_2", "", 10, 10},
		{"uses default for non-numeric", "TEST_INT_3", "abc", 10, 10},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.envValue != "" {
				t.Setenv(tc.key, tc.envValue)
			}

			result := getEnvAsIntOrDefault(tc.key, tc.defaultVal)
			if result != tc.expected {
				t.Errorf("Expected %d, got %d", tc.expected, result)
			}
		})
	}
}

func TestGetEnvAsDurationOrDefault(t *testing.T) {
	t.Setenv("TEST_DURATION_1", "2s")
	if got := getEnvAsDurationOrDefault("TEST_DURATION_1", time.Minute); got != 2*time.Second {
		t.Errorf("Expected 2s, got %v", got)
	}

	t.Setenv("TEST_DURATION_2", "soon")
	if got := getEnvAsDurationOrDefault("TEST_DURATION_2", time.Minute); got != time.Minute {
		t.Errorf("Expected fallback of 1m, got %v", got)
	}
}

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/practest")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("GEMINI_API_KEY", "key")
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("GEMINI_API_KEY", "key")

	if _, err := Load(""); err == nil {
		t.Fatal("Expected error for missing DATABASE_URL")
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.GenerationMinQuestions != 5 || cfg.GenerationMaxQuestions != 50 {
		t.Errorf("Expected 5..50 question bounds, got %d..%d", cfg.GenerationMinQuestions, cfg.GenerationMaxQuestions)
	}
	if cfg.GradingMaxAttempts != 3 {
		t.Errorf("Expected 3 grading attempts, got %d", cfg.GradingMaxAttempts)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9090")

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "port: \"7070\"\ngrading_max_attempts: 5\ngeneration_timeout: 30s\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Expected env to override file port, got %q", cfg.Port)
	}
	if cfg.GradingMaxAttempts != 5 {
		t.Errorf("Expected file value 5, got %d", cfg.GradingMaxAttempts)
	}
	if cfg.GenerationTimeout != 30*time.Second {
		t.Errorf("Expected 30s generation timeout, got %v", cfg.GenerationTimeout)
	}
}

func TestLoad_MissingFileIsIgnored(t *testing.T) {
	setRequired(t)

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("Expected missing config file to be ignored, got %v", err)
	}
}

func TestLoad_InvalidPassRatio(t *testing.T) {
	setRequired(t)
	t.Setenv("FREE_TEXT_PASS_RATIO", "1.5")

	if _, err := Load(""); err == nil {
		t.Fatal("Expected error for pass ratio above 1")
	}
}

package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"WARNING", slog.LevelWarn},
		{"WARN", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := parseLogLevel(tt.input)
			if result != tt.expected {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig returned error for missing file: %v", err)
	}

	if config.Level != "INFO" {
		t.Errorf("Default level = %q, want %q", config.Level, "INFO")
	}
	if !config.ConsoleEnabled {
		t.Error("Default ConsoleEnabled = false, want true")
	}
	if config.FileEnabled {
		t.Error("Default FileEnabled = true, want false")
	}
	if config.FilePath != "logs/questd.log" {
		t.Errorf("Default FilePath = %q, want %q", config.FilePath, "logs/questd.log")
	}
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "questd.yaml")
	yamlContent := `logging:
  level: DEBUG
  console_format: json
  file_enabled: true
  file_path: test.log
  file_max_size_mb: 20
`
	if err := os.WriteFile(path, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if config.Level != "DEBUG" {
		t.Errorf("Level = %q, want DEBUG", config.Level)
	}
	if config.ConsoleFormat != "json" {
		t.Errorf("ConsoleFormat = %q, want json", config.ConsoleFormat)
	}
	if !config.ConsoleEnabled {
		t.Error("ConsoleEnabled should keep its default when not set in YAML")
	}
	if !config.FileEnabled || config.FilePath != "test.log" {
		t.Errorf("file settings not loaded: %+v", config)
	}
	if config.FileMaxSizeMB != 20 {
		t.Errorf("FileMaxSizeMB = %d, want 20", config.FileMaxSizeMB)
	}
	if config.FileMaxBackups != 5 {
		t.Errorf("FileMaxBackups = %d, want default 5", config.FileMaxBackups)
	}
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "questd.yaml")
	if err := os.WriteFile(path, []byte("logging: [oops"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig should fail on malformed YAML")
	}
}

func TestEnvVarOverride(t *testing.T) {
	t.Setenv("QUEST_LOG_LEVEL", "ERROR")
	t.Setenv("QUEST_LOG_CONSOLE_FORMAT", "json")
	t.Setenv("QUEST_LOG_FILE_ENABLED", "true")
	t.Setenv("QUEST_LOG_FILE_PATH", "/custom/path.log")

	config, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if config.Level != "ERROR" {
		t.Errorf("Level = %q, want %q (from env var)", config.Level, "ERROR")
	}
	if config.ConsoleFormat != "json" {
		t.Errorf("ConsoleFormat = %q, want %q (from env var)", config.ConsoleFormat, "json")
	}
	if !config.FileEnabled {
		t.Error("FileEnabled = false, want true (from env var)")
	}
	if config.FilePath != "/custom/path.log" {
		t.Errorf("FilePath = %q, want %q (from env var)", config.FilePath, "/custom/path.log")
	}
}

func TestEnvVarOverrideInvalidBool(t *testing.T) {
	t.Setenv("QUEST_LOG_FILE_ENABLED", "sometimes")

	if _, err := LoadConfig(""); err == nil {
		t.Error("LoadConfig should reject an unparsable boolean")
	}
}

func TestInitializeFileWithoutPath(t *testing.T) {
	config := DefaultConfig()
	config.ConsoleEnabled = false
	config.FileEnabled = true
	config.FilePath = ""

	if err := Initialize(config); err == nil {
		t.Error("Initialize should fail when file logging has no path")
	}
}

func TestInitializeWriterText(t *testing.T) {
	var buf bytes.Buffer
	InitializeWriter(&buf, "text", "INFO")

	Info("Test message", "key", "value")
	Debug("This should not appear")

	output := buf.String()
	if !strings.Contains(output, "Test message") {
		t.Errorf("Output missing INFO message: %s", output)
	}
	if !strings.Contains(output, "key=value") {
		t.Errorf("Output missing structured field: %s", output)
	}
	if strings.Contains(output, "This should not appear") {
		t.Errorf("Output contains DEBUG message when level is INFO: %s", output)
	}
}

func TestInitializeWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	InitializeWriter(&buf, "json", "INFO")

	Info("JSON test", "field1", "value1", "field2", 42)

	output := buf.String()
	if !strings.Contains(output, `"msg":"JSON test"`) {
		t.Errorf("Output missing JSON message field: %s", output)
	}
	if !strings.Contains(output, `"field2":42`) {
		t.Errorf("Output missing numeric JSON field: %s", output)
	}
}

func TestAuditBypassesLogLevel(t *testing.T) {
	var buf bytes.Buffer
	InitializeWriter(&buf, "text", "ERROR")

	Debug("Debug message")
	Info("Info message")
	Warning("Warning")
	Error("Error message")
	Audit("Reward granted", "player", "p1")

	output := buf.String()
	for _, hidden := range []string{"Debug message", "Info message", "Warning"} {
		if strings.Contains(output, hidden) {
			t.Errorf("%q appeared when level is ERROR", hidden)
		}
	}
	if !strings.Contains(output, "Error message") {
		t.Error("ERROR message missing from output")
	}
	if !strings.Contains(output, "Reward granted") {
		t.Error("audit message missing from output")
	}
	if !strings.Contains(output, "level=AUDIT") {
		t.Errorf("audit level not formatted correctly: %s", output)
	}
}

func TestMultiHandler(t *testing.T) {
	var buf1, buf2 bytes.Buffer

	handler1 := slog.NewTextHandler(&buf1, &slog.HandlerOptions{Level: slog.LevelInfo})
	handler2 := slog.NewTextHandler(&buf2, &slog.HandlerOptions{Level: slog.LevelError})
	logger = slog.New(newMultiHandler(handler1, handler2))

	Info("Multi-handler test", "field", "value")
	Error("Both see this")

	if !strings.Contains(buf1.String(), "Multi-handler test") {
		t.Error("First handler did not receive message")
	}
	if strings.Contains(buf2.String(), "Multi-handler test") {
		t.Error("Second handler received a message below its level")
	}
	if !strings.Contains(buf2.String(), "Both see this") {
		t.Error("Second handler did not receive error")
	}
}

func TestNilLogger(t *testing.T) {
	logger = nil

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Logging with nil logger caused panic: %v", r)
		}
	}()

	Debug("debug")
	Info("info")
	Warning("warning")
	Error("error")
	Audit("audit")
}

package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port                   int
	NatsURL                string
	DatabaseURL            string
	BatchFlushInterval     time.Duration
	BatchFlushThreshold    int
	BufferMaxSize          int
	LogLevel               string
	LabelsPath             string
	DecodeWorkers          int
	DefaultConvention      string
	DefaultLabelResolution string
	SlackBotToken          string
	SlackAlertChannel      string
}

func Load() Config {
	return Config{
		Port:                   envInt("ACTSEG_PORT", 8750),
		NatsURL:                envStr("NATS_URL", "nats://localhost:4222"),
		DatabaseURL:            envStr("DATABASE_URL", ""),
		BatchFlushInterval:     time.Duration(envInt("BATCH_FLUSH_INTERVAL_MS", 5000)) * time.Millisecond,
		BatchFlushThreshold:    envInt("BATCH_FLUSH_THRESHOLD", 100),
		BufferMaxSize:          envInt("BUFFER_MAX_SIZE", 10000),
		LogLevel:               envStr("LOG_LEVEL", "info"),
		LabelsPath:             envStr("LABELS_PATH", ""),
		DecodeWorkers:          envInt("DECODE_WORKERS", runtime.NumCPU()),
		DefaultConvention:      envStr("DEFAULT_CONVENTION", "classic"),
		DefaultLabelResolution: envStr("DEFAULT_LABEL_RESOLUTION", "from_begin"),
		SlackBotToken:          envStr("SLACK_BOT_TOKEN", ""),
		SlackAlertChannel:      envStr("SLACK_ALERT_CHANNEL", ""),
	}
}

// labelsFile is the YAML shape of the dialogue-act vocabulary file.
type labelsFile struct {
	DialogActs []string `yaml:"dialog_acts"`
}

// LoadLabels reads the optional dialogue-act vocabulary. An empty path
// disables the vocabulary check and returns a nil set.
func LoadLabels(path string) (map[string]struct{}, error) {
	if path == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read labels file: %w", err)
	}

	var lf labelsFile
	if err := yaml.Unmarshal(raw, &lf); err != nil {
		return nil, fmt.Errorf("parse labels file: %w", err)
	}
	if len(lf.DialogActs) == 0 {
		return nil, fmt.Errorf("labels file %s lists no dialog acts", path)
	}

	labels := make(map[string]struct{}, len(lf.DialogActs))
	for _, act := range lf.DialogActs {
		labels[act] = struct{}{}
	}
	return labels, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

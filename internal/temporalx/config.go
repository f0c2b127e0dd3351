// Package temporalx wires the Temporal client/worker backing the
// `playbooks` tool executor, which bridges a step's sub-playbook execution
// to a child workflow (see temporalworker and subexec).
package temporalx

import (
	"os"
	"strings"
)

// Config is the client/worker connection configuration for the Temporal
// cluster. Adapted from the teacher's internal/temporalx/config.go (env var
// names and defaulting idiom kept unchanged; namespace/task queue defaults
// renamed to this domain).
type Config struct {
	Address   string
	Namespace string
	TaskQueue string

	ClientCertPath string
	ClientKeyPath  string
	ClientCAPath   string
}

func LoadConfig() Config {
	return Config{
		Address:   strings.TrimSpace(os.Getenv("TEMPORAL_ADDRESS")),
		Namespace: stringsOr(strings.TrimSpace(os.Getenv("TEMPORAL_NAMESPACE")), "noetl"),
		TaskQueue: stringsOr(strings.TrimSpace(os.Getenv("TEMPORAL_TASK_QUEUE")), "noetl-subexec"),

		ClientCertPath: strings.TrimSpace(os.Getenv("TEMPORAL_CLIENT_CERT_PATH")),
		ClientKeyPath:  strings.TrimSpace(os.Getenv("TEMPORAL_CLIENT_KEY_PATH")),
		ClientCAPath:   strings.TrimSpace(os.Getenv("TEMPORAL_CLIENT_CA_PATH")),
	}
}

func stringsOr(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

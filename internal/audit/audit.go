// Package audit records how the process was started: which command ran, which
// config file was loaded, and the environment state that shaped the run.
// Secret values are never written; only whether they were set.
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// auditEntry is one env var reported on every command start. Secret entries
// are reduced to set/unset.
type auditEntry struct {
	key    string
	secret bool
}

// auditKeys is the ordered inventory of env vars that influence a run.
var auditKeys = []auditEntry{
	{key: "MODEL_PROVIDER"},
	{key: "FALLBACK_PROVIDER"},
	{key: "OLLAMA_HOST"},
	{key: "OLLAMA_MODEL"},
	{key: "OPENAI_API_KEY", secret: true},
	{key: "OPENAI_MODEL"},
	{key: "AZURE_OPENAI_API_KEY", secret: true},
	{key: "AZURE_OPENAI_ENDPOINT"},
	{key: "AZURE_OPENAI_DEPLOYMENT"},
	{key: "GOOGLE_API_KEY", secret: true},
	{key: "GEMINI_MODEL"},
	{key: "BEDROCK_API_KEY", secret: true},
	{key: "BEDROCK_MODEL_ID"},
	{key: "EMBEDDING_PROVIDER"},
	{key: "EMBEDDING_MODEL"},
	{key: "EMBEDDING_API_KEY", secret: true},
	{key: "VECTOR_BACKEND"},
	{key: "QDRANT_HOST"},
	{key: "QDRANT_PORT"},
	{key: "QDRANT_API_KEY", secret: true},
	{key: "NEURODESK_API_KEY", secret: true},
	{key: "NEURODESK_CHAT_DB"},
	{key: "LOG_LEVEL"},
	{key: "LOG_FORMAT"},
	{key: "LANGFUSE_PUBLIC_KEY", secret: true},
	{key: "LANGFUSE_SECRET_KEY", secret: true},
}

// secretKeys is derived from auditKeys so the two can never drift.
var secretKeys = func() map[string]bool {
	m := make(map[string]bool, len(auditKeys))
	for _, e := range auditKeys {
		if e.secret {
			m[e.key] = true
		}
	}
	return m
}()

// LogCommandStart writes one structured entry describing the command, its
// config source, and the sanitised environment.
func LogCommandStart(log *slog.Logger, command string, configPath string) {
	attrs := make([]slog.Attr, 0, len(auditKeys)+2)
	attrs = append(attrs,
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	)
	for _, e := range auditKeys {
		attrs = append(attrs, slog.String(e.key, SanitiseKey(e.key, os.Getenv(e.key))))
	}
	log.LogAttrs(context.TODO(), slog.LevelInfo, "audit: command start", attrs...)
}

// SanitiseKey renders an env value safely for logs: secret keys collapse to
// "set"/"unset", everything else is the value or "unset" when empty.
func SanitiseKey(key, value string) string {
	switch {
	case value == "":
		return "unset"
	case secretKeys[key]:
		return "set"
	default:
		return value
	}
}

// sanitiseConfigPath replaces the home directory prefix with "~" and maps an
// empty path to "none".
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	if home, err := os.UserHomeDir(); err == nil && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}

package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

var envVarPatterns = struct {
	withDefault *regexp.Regexp
	braced      *regexp.Regexp
	simple      *regexp.Regexp
}{
	withDefault: regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*):-(.*?)\}`),
	braced:      regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`),
	simple:      regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`),
}

// expandEnvVars substitutes ${VAR}, ${VAR:-default} and $VAR references.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}

	s = envVarPatterns.withDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.withDefault.FindStringSubmatch(match)
		if len(parts) == 3 {
			if val := os.Getenv(parts[1]); val != "" {
				return val
			}
			return parts[2]
		}
		return match
	})

	s = envVarPatterns.braced.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.braced.FindStringSubmatch(match)
		if len(parts) == 2 {
			return os.Getenv(parts[1])
		}
		return match
	})

	s = envVarPatterns.simple.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.simple.FindStringSubmatch(match)
		if len(parts) == 2 {
			return os.Getenv(parts[1])
		}
		return match
	})

	return s
}

// parseValue coerces an expanded string to bool, int or float where it parses
// as one, so that ${PORT} lands in an int field.
func parseValue(value string) interface{} {
	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	}

	if intVal, err := strconv.Atoi(value); err == nil {
		return intVal
	}

	if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
		return floatVal
	}

	return value
}

// ExpandEnvVarsInData walks a raw config map and expands environment
// references in every string leaf.
func ExpandEnvVarsInData(data interface{}) interface{} {
	switch v := data.(type) {
	case string:
		expanded := expandEnvVars(v)
		if expanded != v {
			return parseValue(expanded)
		}
		return expanded

	case map[string]interface{}:
		result := make(map[string]interface{}, len(v))
		for key, value := range v {
			result[key] = ExpandEnvVarsInData(value)
		}
		return result

	case []interface{}:
		result := make([]interface{}, len(v))
		for i, item := range v {
			result[i] = ExpandEnvVarsInData(item)
		}
		return result

	default:
		return v
	}
}

// LoadEnvFiles loads .env.local and .env into the process environment.
// Missing files are not an error.
func LoadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// ApplyEnvOverrides overrides file-sourced values with HELICON_* environment
// variables. Overrides run before defaults, so an empty variable leaves the
// file value (or the default) in place.
func (c *Config) ApplyEnvOverrides() {
	envString("HELICON_LLM_BASE_URL", &c.LLM.BaseURL)
	envString("HELICON_CHAT_MODEL", &c.LLM.ChatModel)
	envString("HELICON_EMBED_MODEL", &c.LLM.EmbedModel)
	envInt("HELICON_NUM_CTX", &c.LLM.NumCtx)

	envString("HELICON_VECTOR_URL", &c.Vector.URL)
	envInt("HELICON_EMBED_DIM", &c.Vector.Dimension)
	envString("HELICON_COLLECTION", &c.Vector.Collection)

	if raw := os.Getenv("HELICON_MCP_SERVERS"); raw != "" {
		c.MCP.Servers = nil
		for _, u := range strings.Split(raw, ",") {
			u = strings.TrimSpace(u)
			if u == "" {
				continue
			}
			c.MCP.Servers = append(c.MCP.Servers, MCPServerConfig{URL: u})
		}
	}
	if v := os.Getenv("HELICON_MCP_REFRESH_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MCP.RefreshSeconds = IntPtr(n)
		}
	}

	envInt("HELICON_INGEST_CONCURRENCY", &c.Ingest.MaxConcurrency)
	envString("HELICON_WHISPER_URL", &c.Ingest.Whisper.URL)
	envString("HELICON_WHISPER_MODEL", &c.Ingest.Whisper.Model)
	envString("HELICON_WHISPER_COMPUTE", &c.Ingest.Whisper.ComputeType)
	envString("HELICON_WHISPER_DEVICE", &c.Ingest.Whisper.Device)
	envString("HELICON_OCR_URL", &c.Ingest.OCR.URL)
	envString("HELICON_UPLOAD_ROOT", &c.Ingest.UploadRoot)

	envString("HELICON_DB_DRIVER", &c.Store.Driver)
	envString("HELICON_DB_DSN", &c.Store.DSN)

	envString("HELICON_AUTH_JWKS_URL", &c.Auth.JWKSURL)
	envString("HELICON_AUTH_ISSUER", &c.Auth.Issuer)
	envString("HELICON_AUTH_AUDIENCE", &c.Auth.Audience)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*dst = n
}

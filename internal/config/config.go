// Package config resolves runtime configuration from flags, a .env file
// and the process environment. Flags win over env for values both set.
package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port       string
	Env        string
	RepoRoot   string
	ModelsPath string

	TopK        int
	ApplyOK     bool
	CallTimeout time.Duration
	Retries     int

	DatabaseURL string
	Archive     ArchiveConfig
}

type ArchiveConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	port := flag.String("port", ":8080", "server port")
	repoRoot := flag.String("repo", ".", "repository root to index")
	modelsPath := flag.String("models", "models.yaml", "model registry file")
	topK := flag.Int("top-k", 12, "default retrieval depth")
	disableApply := flag.Bool("disable-apply", false, "disable /apply for safety")
	flag.Parse()

	if envPort := os.Getenv("PORT"); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			*port = envPort
		} else {
			*port = ":" + envPort
		}
	}
	if v := strings.TrimSpace(os.Getenv("REPO_ROOT")); v != "" {
		*repoRoot = v
	}
	if v := strings.TrimSpace(os.Getenv("MODELS_PATH")); v != "" {
		*modelsPath = v
	}

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "local"
	}

	applyOK := !*disableApply
	if raw := strings.TrimSpace(os.Getenv("DISABLE_APPLY")); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil && v {
			applyOK = false
		}
	}

	return &Config{
		Port:        *port,
		Env:         env,
		RepoRoot:    *repoRoot,
		ModelsPath:  *modelsPath,
		TopK:        *topK,
		ApplyOK:     applyOK,
		CallTimeout: durationEnv("LLM_CALL_TIMEOUT", 90*time.Second),
		Retries:     intEnv("LLM_RETRIES", 3),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		Archive:     loadArchiveConfig(env),
	}, nil
}

func loadArchiveConfig(env string) ArchiveConfig {
	endpoint := resolveArchiveEndpoint(env)
	return ArchiveConfig{
		Enabled:   endpoint != "",
		Endpoint:  endpoint,
		Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("TRAIL_S3_REGION")), "us-east-1"),
		AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("TRAIL_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
		SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("TRAIL_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
		Bucket:    firstNonEmpty(strings.TrimSpace(os.Getenv("TRAIL_S3_BUCKET")), "repoquery-trails"),
		UseSSL:    resolveArchiveUseSSL(env),
	}
}

func resolveArchiveEndpoint(env string) string {
	if strings.EqualFold(env, "local") {
		return strings.TrimSpace(os.Getenv("TRAIL_MINIO_ENDPOINT"))
	}
	return strings.TrimSpace(os.Getenv("TRAIL_S3_ENDPOINT"))
}

func resolveArchiveUseSSL(env string) bool {
	if strings.EqualFold(env, "local") {
		return false
	}
	raw := strings.TrimSpace(os.Getenv("TRAIL_S3_USE_SSL"))
	if raw == "" {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

func durationEnv(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func intEnv(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	DBMaxConns  int
	DBMinConns  int

	StoragePath    string
	StorageBaseURL string

	DefaultBackend string

	SelfHostedBaseURL string

	RunPodBaseURL          string
	RunPodAPIKey           string
	RunPodEndpointID       string
	RunPodSubmitsPerMinute int

	ComfyDeployBaseURL      string
	ComfyDeployAPIKey       string
	ComfyDeployDeploymentID string

	TrainerEndpointID string
	EvaluatorBaseURL  string

	IdentityBaseModel   string
	IdentityDatasetSize int
	IdentityTrainSteps  int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 10),
		DBMinConns:  getEnvInt("DB_MIN_CONNS", 1),

		StoragePath:    getEnv("STORAGE_PATH", "./data"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),

		DefaultBackend: getEnv("DEFAULT_BACKEND", "selfhosted"),

		SelfHostedBaseURL: getEnv("SELFHOSTED_BASE_URL", "http://localhost:8188"),

		RunPodBaseURL:          getEnv("RUNPOD_BASE_URL", "https://api.runpod.ai"),
		RunPodAPIKey:           os.Getenv("RUNPOD_API_KEY"),
		RunPodEndpointID:       os.Getenv("RUNPOD_ENDPOINT_ID"),
		RunPodSubmitsPerMinute: getEnvInt("RUNPOD_SUBMITS_PER_MINUTE", 30),

		ComfyDeployBaseURL:      getEnv("COMFYDEPLOY_BASE_URL", "https://www.comfydeploy.com"),
		ComfyDeployAPIKey:       os.Getenv("COMFYDEPLOY_API_KEY"),
		ComfyDeployDeploymentID: os.Getenv("COMFYDEPLOY_DEPLOYMENT_ID"),

		TrainerEndpointID: os.Getenv("TRAINER_ENDPOINT_ID"),
		EvaluatorBaseURL:  os.Getenv("FACE_EVAL_BASE_URL"),

		IdentityBaseModel:   getEnv("IDENTITY_BASE_MODEL", "juggernautXL_v9Rundiffusion.safetensors"),
		IdentityDatasetSize: getEnvInt("IDENTITY_DATASET_SIZE", 12),
		IdentityTrainSteps:  getEnvInt("IDENTITY_TRAIN_STEPS", 1500),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 120)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

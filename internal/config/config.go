package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config application configuration
type Config struct {
	Port     int
	ComfyUI  ComfyUIConfig
	Image    ImageConfig
	Workflow WorkflowConfig
	Redis    RedisConfig
	S3       S3Config
}

// ComfyUIConfig remote ComfyUI server configuration
type ComfyUIConfig struct {
	ServerAddress   string        // host[:port] of the ComfyUI server
	ReadyAttempts   int           // readiness probe attempts, 1s apart
	ProbeTimeout    time.Duration // per-attempt probe timeout
	RequestTimeout  time.Duration // timeout for submit/history/view calls
	JobTimeout      time.Duration // upper bound on the completion wait
	DownloadTimeout time.Duration // timeout for fetching a remote input image
}

// ImageConfig input image placement configuration
type ImageConfig struct {
	InputDir string // directory the ComfyUI LoadImage node reads from
}

// WorkflowConfig workflow resolution and injection configuration
type WorkflowConfig struct {
	DefaultPath string // bundled default workflow document
	ImageNode   string // node key receiving the image reference
	ImageField  string // input field receiving the image reference
}

// RedisConfig Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// S3Config optional result upload configuration
type S3Config struct {
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Endpoint  string // non-AWS endpoints (minio etc.), optional
	PublicURL string // base URL for returned links, optional
}

// Load loads configuration from the environment.
// A .env file in the working directory is applied first when present.
func Load() *Config {
	godotenv.Load()

	return &Config{
		Port: getEnvInt("PORT", 8080),
		ComfyUI: ComfyUIConfig{
			ServerAddress:   getEnv("SERVER_ADDRESS", "127.0.0.1:8188"),
			ReadyAttempts:   getEnvInt("READY_ATTEMPTS", 180),
			ProbeTimeout:    time.Duration(getEnvInt("PROBE_TIMEOUT", 5)) * time.Second,
			RequestTimeout:  time.Duration(getEnvInt("REQUEST_TIMEOUT", 30)) * time.Second,
			JobTimeout:      time.Duration(getEnvInt("JOB_TIMEOUT", 600)) * time.Second,
			DownloadTimeout: time.Duration(getEnvInt("DOWNLOAD_TIMEOUT", 15)) * time.Second,
		},
		Image: ImageConfig{
			InputDir: getEnv("COMFY_INPUT_DIR", "/workspace/ComfyUI/input"),
		},
		Workflow: WorkflowConfig{
			DefaultPath: getEnv("DEFAULT_WORKFLOW_PATH", defaultWorkflowPath()),
			ImageNode:   getEnv("WORKFLOW_IMAGE_NODE", "1"),
			ImageField:  getEnv("WORKFLOW_IMAGE_FIELD", "image"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		S3: S3Config{
			Bucket:    getEnv("S3_BUCKET", ""),
			Region:    getEnv("S3_REGION", "us-east-1"),
			AccessKey: getEnv("S3_ACCESS_KEY", ""),
			SecretKey: getEnv("S3_SECRET_KEY", ""),
			Endpoint:  getEnv("S3_ENDPOINT", ""),
			PublicURL: getEnv("S3_PUBLIC_URL", ""),
		},
	}
}

// defaultWorkflowPath resolves workflow.json next to the binary.
func defaultWorkflowPath() string {
	exe, err := os.Executable()
	if err != nil {
		return "workflow.json"
	}
	return filepath.Join(filepath.Dir(exe), "workflow.json")
}

// Validate checks startup-fatal configuration.
func (c *Config) Validate() error {
	if c.ComfyUI.ServerAddress == "" {
		return ErrServerAddressRequired
	}
	if c.Workflow.ImageNode == "" || c.Workflow.ImageField == "" {
		return ErrInjectionPointInvalid
	}
	if c.ComfyUI.ReadyAttempts <= 0 {
		return ErrReadyAttemptsInvalid
	}
	return nil
}

// UploadEnabled reports whether the S3 uploader can be constructed.
func (c *Config) UploadEnabled() bool {
	return c.S3.Bucket != ""
}

// configuration validation errors
var (
	ErrServerAddressRequired = fmt.Errorf("ComfyUI server address is required")
	ErrInjectionPointInvalid = fmt.Errorf("workflow image node and field must not be empty")
	ErrReadyAttemptsInvalid  = fmt.Errorf("readiness attempts must be positive")
)

// getEnv gets environment variable, returns default value if not exists
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets integer environment variable, returns default value if not exists
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

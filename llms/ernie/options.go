package ernie

import (
	"net/http"
	"os"
)

// ModelName represents the model identifier for Baidu Qianfan (Ernie) API.
type ModelName string

// Chat models that support function calling.
const (
	ModelNameERNIE45Turbo128K ModelName = "ernie-4.5-turbo-128k"
	ModelNameERNIE45Turbo32K  ModelName = "ernie-4.5-turbo-32k"
	ModelNameERNIEX1Turbo32K  ModelName = "ernie-x1-turbo-32k"
	ModelNameERNIESpeed128K   ModelName = "ernie-speed-128k"
	ModelNameDeepSeekV3       ModelName = "deepseek-v3"
	ModelNameQwen332B         ModelName = "qwen3-32b"
)

type options struct {
	apiKey     string
	modelName  ModelName
	httpClient *http.Client
	baseURL    string
}

// Option is a function that configures an LLM.
type Option func(*options)

// WithAPIKey sets the API key for the LLM.
func WithAPIKey(apiKey string) Option {
	return func(opts *options) {
		opts.apiKey = apiKey
	}
}

// WithModel sets the model name for the LLM.
func WithModel(model ModelName) Option {
	return func(opts *options) {
		opts.modelName = model
	}
}

// WithHTTPClient sets the HTTP client for the LLM.
func WithHTTPClient(client *http.Client) Option {
	return func(opts *options) {
		opts.httpClient = client
	}
}

// WithBaseURL sets the base URL for the LLM API.
// Default is "https://qianfan.baidubce.com".
func WithBaseURL(baseURL string) Option {
	return func(opts *options) {
		opts.baseURL = baseURL
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

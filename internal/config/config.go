package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"arogya/internal/logger"
)

// Env holds environment-driven settings. Secrets and endpoints come from the
// environment; behavioral tuning lives in config.yaml.
type Env struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	RedisURL   string        `envconfig:"REDIS_URL"`
	SessionTTL time.Duration `envconfig:"SESSION_TTL" default:"40m"`

	OpenAIAPIKey  string  `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL string  `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	OpenAIModel   string  `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	MaxTokens     int     `envconfig:"OPENAI_MAX_TOKENS" default:"1500"`
	Temperature   float64 `envconfig:"OPENAI_TEMPERATURE" default:"0.3"`

	DoctorAPIURL string `envconfig:"DOCTOR_API_URL" default:"http://localhost:9000"`

	Log logger.Config `envconfig:""`
}

// LoadEnv processes environment variables into Env.
func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("error processing environment configuration: %w", err)
	}
	return &env, nil
}

// SupervisorConfig is the routing policy section of config.yaml.
type SupervisorConfig struct {
	DefaultWorkflow   string            `yaml:"default_workflow"`
	EmergencyWorkflow string            `yaml:"emergency_workflow"`
	Routes            map[string]string `yaml:"routes"`
	EmergencyKeywords []string          `yaml:"emergency_keywords"`
}

// WorkflowConfig tunes loop bounds and thresholds per workflow. Both the
// iteration cap and the confidence threshold are kept configurable because
// workflows differ in which trigger they use.
type WorkflowConfig struct {
	MaxFollowups        int     `yaml:"max_followups"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	DefaultCity         string  `yaml:"default_city"`
	MinRating           float64 `yaml:"min_rating"`
	MaxResults          int     `yaml:"max_results"`
}

// File represents the structure of config.yaml.
type File struct {
	Supervisor SupervisorConfig          `yaml:"supervisor"`
	Workflows  map[string]WorkflowConfig `yaml:"workflows"`
}

// LoadFile loads configuration from a YAML file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("error parsing YAML: %w", err)
	}

	if f.Supervisor.DefaultWorkflow == "" {
		return nil, fmt.Errorf("config: supervisor.default_workflow is required")
	}
	if f.Supervisor.EmergencyWorkflow == "" {
		return nil, fmt.Errorf("config: supervisor.emergency_workflow is required")
	}

	return &f, nil
}

// Workflow returns the tuning block for a workflow, zero-valued when absent.
func (f *File) Workflow(name string) WorkflowConfig {
	return f.Workflows[name]
}

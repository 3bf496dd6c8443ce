package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultMaxResponseTokens = 16384

type Config struct {
	GitHubToken  string `yaml:"github_token"`
	GitHubAPIURL string `yaml:"github_api_url"`

	LLMProvider       string `yaml:"llm_provider"`
	LLMModel          string `yaml:"llm_model"`
	LLMEndpoint       string `yaml:"llm_endpoint"`
	AnthropicAPIKey   string `yaml:"anthropic_api_key"`
	OpenAIAPIKey      string `yaml:"openai_api_key"`
	MaxResponseTokens int    `yaml:"max_response_tokens"`

	Incentives Incentives `yaml:"incentives"`

	WatchSchedule string   `yaml:"watch_schedule"`
	WatchRepos    []string `yaml:"watch_repos"`

	SlackWebhookURL string `yaml:"slack_webhook_url"`
}

// Incentives holds the per-stage sections. Each section validates itself;
// an invalid section disables only that stage instead of aborting the run.
type Incentives struct {
	FormattingEvaluator FormattingEvaluator `yaml:"formatting_evaluator"`
	ContentEvaluator    ContentEvaluator    `yaml:"content_evaluator"`
	GithubComment       GithubComment       `yaml:"github_comment"`
}

// RoleMultiplier maps a role combination to its formatting multiplier pair.
type RoleMultiplier struct {
	Role                 []string `yaml:"role"`
	FormattingMultiplier float64  `yaml:"formatting_multiplier"`
	WordValue            float64  `yaml:"word_value"`
}

type FormattingEvaluator struct {
	Enabled     bool               `yaml:"enabled"`
	Scores      map[string]float64 `yaml:"scores"`
	Multipliers []RoleMultiplier   `yaml:"multipliers"`
}

func (c FormattingEvaluator) Validate() error {
	for tag, score := range c.Scores {
		if score < 0 {
			return fmt.Errorf("score for tag '%s' must be >= 0, got %f", tag, score)
		}
	}
	for i, m := range c.Multipliers {
		if len(m.Role) == 0 {
			return fmt.Errorf("multiplier %d has no role", i)
		}
	}
	return nil
}

// RelevanceOverride maps a role combination to a fixed relevance constant
// that bypasses LLM scoring for comments of that role.
type RelevanceOverride struct {
	Role      []string `yaml:"role"`
	Relevance float64  `yaml:"relevance"`
}

type ContentEvaluator struct {
	Enabled     bool                `yaml:"enabled"`
	Multipliers []RelevanceOverride `yaml:"multipliers"`
}

func (c ContentEvaluator) Validate() error {
	for i, m := range c.Multipliers {
		if len(m.Role) == 0 {
			return fmt.Errorf("multiplier %d has no role", i)
		}
		if m.Relevance < 0 || m.Relevance > 1 {
			return fmt.Errorf("multiplier %d relevance must be within [0, 1], got %f", i, m.Relevance)
		}
	}
	return nil
}

type GithubComment struct {
	Enabled   bool   `yaml:"enabled"`
	Post      bool   `yaml:"post"`
	DebugFile string `yaml:"debug_file"`
}

func (c GithubComment) Validate() error {
	return nil
}

func LoadConfig() Config {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	// Env vars override YAML values
	envOverride(&cfg.GitHubToken, "GITHUB_TOKEN")
	envOverride(&cfg.GitHubAPIURL, "GITHUB_API_URL")
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.LLMEndpoint, "LLM_ENDPOINT")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverrideInt(&cfg.MaxResponseTokens, "MAX_RESPONSE_TOKENS")
	envOverride(&cfg.WatchSchedule, "WATCH_SCHEDULE")
	envOverride(&cfg.SlackWebhookURL, "SLACK_WEBHOOK_URL")

	if repos := os.Getenv("WATCH_REPOS"); repos != "" {
		cfg.WatchRepos = nil
		for _, repo := range strings.Split(repos, ",") {
			repo = strings.TrimSpace(repo)
			if repo != "" {
				cfg.WatchRepos = append(cfg.WatchRepos, repo)
			}
		}
	}

	// Defaults
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "anthropic"
	}
	if cfg.GitHubAPIURL == "" {
		cfg.GitHubAPIURL = "https://api.github.com"
	}
	if cfg.MaxResponseTokens == 0 {
		cfg.MaxResponseTokens = DefaultMaxResponseTokens
	}

	// Validate required fields
	if cfg.GitHubToken == "" {
		log.Fatalf("Required config 'github_token' is not set (via config.yaml or env var)")
	}

	switch cfg.LLMProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			log.Fatalf("anthropic_api_key is required when llm_provider=anthropic")
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			log.Fatalf("openai_api_key is required when llm_provider=openai")
		}
	default:
		log.Fatalf("llm_provider must be 'anthropic' or 'openai', got '%s'", cfg.LLMProvider)
	}

	if cfg.MaxResponseTokens < 1 {
		log.Fatalf("invalid max_response_tokens '%d': must be >= 1", cfg.MaxResponseTokens)
	}

	return cfg
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

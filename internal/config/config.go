package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models todobook.yml.
type Config struct {
	Limits   Limits   `yaml:"limits"`
	Palette  Palette  `yaml:"palette"`
	Auth     Auth     `yaml:"auth"`
	Webhooks []Webhook `yaml:"webhooks"`
}

type Limits struct {
	TitleMaxLength       int `yaml:"title_max_length"`
	DescriptionMaxLength int `yaml:"description_max_length"`
	CommentMaxLength     int `yaml:"comment_max_length"`
	MaxTagsPerTask       int `yaml:"max_tags_per_task"`
	DefaultPageSize      int `yaml:"default_page_size"`
	MaxPageSize          int `yaml:"max_page_size"`
	ShareCodeRetries     int `yaml:"share_code_retries"`
}

type Palette struct {
	Colors []string `yaml:"colors"`
	Icons  []string `yaml:"icons"`
}

type Auth struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type Webhook struct {
	Name           string   `yaml:"name"`
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	BookID         string   `yaml:"book_id"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "todobook.yml")
}

// Load reads config from the workspace, falling back to defaults when the
// file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Omitted limits
// take their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures limits are sane and webhooks are addressable.
func (c *Config) Validate() error {
	if c.Limits.TitleMaxLength <= 0 {
		return fmt.Errorf("limits.title_max_length must be positive")
	}
	if c.Limits.DescriptionMaxLength <= 0 {
		return fmt.Errorf("limits.description_max_length must be positive")
	}
	if c.Limits.CommentMaxLength <= 0 {
		return fmt.Errorf("limits.comment_max_length must be positive")
	}
	if c.Limits.MaxTagsPerTask <= 0 {
		return fmt.Errorf("limits.max_tags_per_task must be positive")
	}
	if c.Limits.DefaultPageSize <= 0 || c.Limits.MaxPageSize <= 0 {
		return fmt.Errorf("limits page sizes must be positive")
	}
	if c.Limits.DefaultPageSize > c.Limits.MaxPageSize {
		return fmt.Errorf("limits.default_page_size exceeds limits.max_page_size")
	}
	if c.Limits.ShareCodeRetries <= 0 {
		return fmt.Errorf("limits.share_code_retries must be positive")
	}
	for i, wh := range c.Webhooks {
		if wh.Name == "" {
			return fmt.Errorf("webhooks[%d].name is required", i)
		}
		if wh.URL == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Limits: Limits{
			TitleMaxLength:       100,
			DescriptionMaxLength: 2000,
			CommentMaxLength:     1000,
			MaxTagsPerTask:       10,
			DefaultPageSize:      20,
			MaxPageSize:          100,
			ShareCodeRetries:     50,
		},
		Palette: Palette{
			Colors: []string{"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4", "#FFEAA7", "#DDA0DD", "#74B9FF", "#A29BFE"},
			Icons:  []string{"book", "star", "heart", "flag", "home", "work", "cart", "gift"},
		},
	}
}

// GenerateDefault returns the default config as YAML, for tb init.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `limits:
  title_max_length: 100
  description_max_length: 2000
  comment_max_length: 1000
  max_tags_per_task: 10
  default_page_size: 20
  max_page_size: 100
  share_code_retries: 50

palette:
  colors: ["#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4", "#FFEAA7", "#DDA0DD", "#74B9FF", "#A29BFE"]
  icons: [book, star, heart, flag, home, work, cart, gift]

auth:
  jwt_secret: ""

webhooks: []
`

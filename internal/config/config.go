package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models ostisync.yml.
type Config struct {
	Source struct {
		Kind     string `yaml:"kind"`
		BaseURL  string `yaml:"base_url"`
		SiteCode string `yaml:"site_code"`
		PageSize int    `yaml:"page_size"`
		MaxPages int    `yaml:"max_pages"`
	} `yaml:"source"`
	Registry struct {
		TestURL string `yaml:"test_url"`
		ProdURL string `yaml:"prod_url"`
	} `yaml:"registry"`
	Defaults Defaults `yaml:"defaults"`
}

// Defaults are submission fields the source repository does not carry;
// they are filled in during mapping when the record leaves them empty.
type Defaults struct {
	SponsorOrg    string `yaml:"sponsor_org"`
	ResearchOrg   string `yaml:"research_org"`
	ContractNo    string `yaml:"contract_no"`
	SiteInputCode string `yaml:"site_input_code"`
	ProductType   string `yaml:"product_type"`
}

// Credentials is one registry username/password pair. Pairs are provided
// through the environment, one per registry target, and selected by run mode.
type Credentials struct {
	Username string
	Password string
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with ostisync config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Source.Kind {
	case "dspace", "pdc":
	default:
		return fmt.Errorf("config.source.kind must be 'dspace' or 'pdc'")
	}
	if c.Source.BaseURL == "" {
		return fmt.Errorf("config.source.base_url is required")
	}
	if c.Source.SiteCode == "" {
		return fmt.Errorf("config.source.site_code is required")
	}
	if c.Source.PageSize <= 0 {
		return fmt.Errorf("config.source.page_size must be positive")
	}
	if c.Source.MaxPages <= 0 {
		return fmt.Errorf("config.source.max_pages must be positive")
	}
	if c.Registry.TestURL == "" {
		return fmt.Errorf("config.registry.test_url is required")
	}
	if c.Registry.ProdURL == "" {
		return fmt.Errorf("config.registry.prod_url is required")
	}
	if c.Defaults.SponsorOrg == "" {
		return fmt.Errorf("config.defaults.sponsor_org is required")
	}
	if c.Defaults.ContractNo == "" {
		return fmt.Errorf("config.defaults.contract_no is required")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "ostisync.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(siteCode string) string {
	return fmt.Sprintf(defaultTemplate, siteCode, siteCode)
}

// Default returns the default Config struct for a site.
func Default(siteCode string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(GenerateDefault(siteCode)), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `source:
  kind: dspace
  base_url: https://dataspace.princeton.edu/rest
  site_code: %s
  page_size: 25
  max_pages: 15

registry:
  test_url: https://www.osti.gov/elinktest/2416api
  prod_url: https://www.osti.gov/elink/2416api

defaults:
  sponsor_org: USDOE Office of Science (SC)
  research_org: Princeton Plasma Physics Laboratory (PPPL)
  contract_no: AC02-09CH11466
  site_input_code: %s
  product_type: DA
`

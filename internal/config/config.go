package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"caseline/internal/domain"
)

// Config models caseline.yml.
type Config struct {
	Barangay struct {
		Name     string `yaml:"name"`
		Timezone string `yaml:"timezone"`
	} `yaml:"barangay"`
	Certificates struct {
		Types map[string]CertificateType `yaml:"types"`
	} `yaml:"certificates"`
	RBAC struct {
		Operations map[string][]string `yaml:"operations"`
	} `yaml:"rbac"`
	Notifications Notifications `yaml:"notifications"`
}

// CertificateType is the numbering and validity policy for one certificate type.
type CertificateType struct {
	Code           string `yaml:"code"`
	Label          string `yaml:"label"`
	ValidityMonths int    `yaml:"validity_months"`
}

type Notifications struct {
	Webhooks []WebhookConfig `yaml:"webhooks"`
	Redis    struct {
		URL     string `yaml:"url"`
		Channel string `yaml:"channel"`
	} `yaml:"redis"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with cl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Barangay.Timezone != "" {
		if _, err := time.LoadLocation(c.Barangay.Timezone); err != nil {
			return fmt.Errorf("config.barangay.timezone: %w", err)
		}
	}
	if len(c.Certificates.Types) == 0 {
		return fmt.Errorf("config.certificates.types is required")
	}
	codes := map[string]string{}
	for name, ct := range c.Certificates.Types {
		if !domain.IsCertificateType(name) {
			return fmt.Errorf("config.certificates.types: unknown certificate type %s", name)
		}
		code := strings.TrimSpace(ct.Code)
		if code == "" {
			return fmt.Errorf("certificate type %s has empty code", name)
		}
		if strings.Contains(code, "-") {
			return fmt.Errorf("certificate type %s code %s must not contain '-'", name, code)
		}
		if other, ok := codes[code]; ok {
			return fmt.Errorf("certificate types %s and %s share code %s", other, name, code)
		}
		codes[code] = name
		if ct.ValidityMonths <= 0 {
			return fmt.Errorf("certificate type %s validity_months must be positive", name)
		}
	}
	for op, roles := range c.RBAC.Operations {
		if op == "" {
			return fmt.Errorf("config.rbac.operations contains empty operation")
		}
		for _, role := range roles {
			if role == "" {
				return fmt.Errorf("operation %s has empty role", op)
			}
		}
	}
	for i, hook := range c.Notifications.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("notifications.webhooks[%d].url is required", i)
		}
	}
	if len(c.Notifications.Kafka.Brokers) > 0 && c.Notifications.Kafka.Topic == "" {
		return fmt.Errorf("notifications.kafka.topic is required when brokers are set")
	}
	return nil
}

// Location returns the barangay timezone used for validity dates.
func (c *Config) Location() *time.Location {
	if c == nil || c.Barangay.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Barangay.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CertificatePolicy returns the policy for a certificate type.
func (c *Config) CertificatePolicy(certType string) (CertificateType, bool) {
	if c == nil {
		return CertificateType{}, false
	}
	ct, ok := c.Certificates.Types[certType]
	return ct, ok
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "caseline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	// Codes end up in stored sequences and printed numbers; keep them bare.
	for name, ct := range cfg.Certificates.Types {
		ct.Code = strings.TrimSpace(ct.Code)
		cfg.Certificates.Types[name] = ct
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

const defaultTemplate = `barangay:
  name: "Barangay"
  timezone: "Asia/Manila"

certificates:
  types:
    barangay_clearance:
      code: BC
      label: "Barangay Clearance"
      validity_months: 6
    residency:
      code: RES
      label: "Certificate of Residency"
      validity_months: 6
    indigency:
      code: IND
      label: "Certificate of Indigency"
      validity_months: 6
    good_moral:
      code: GMC
      label: "Certificate of Good Moral Character"
      validity_months: 6
    business_clearance:
      code: BBC
      label: "Barangay Business Clearance"
      validity_months: 12
    first_time_job_seeker:
      code: FTJ
      label: "First Time Job Seeker Certification"
      validity_months: 12

rbac:
  operations:
    certificate.submit: [admin, captain, staff, purok_leader, resident]
    certificate.approve: [admin, captain, purok_leader]
    certificate.reject: [admin, captain, purok_leader]
    certificate.release: [admin, captain, staff]
    certificate.delete: [admin]
    certificate.read: [admin, captain, staff, purok_leader]
    issued.invalidate: [admin, captain]
    issued.sign: [captain]
    issued.read: [admin, captain, staff]
    blotter.submit: [admin, captain, staff, purok_leader]
    blotter.approve: [admin, captain]
    blotter.reject: [admin, captain]
    blotter.progress: [admin, captain, staff]
    blotter.delete: [admin]
    blotter.read: [admin, captain, staff, purok_leader]
    incident.submit: [admin, captain, staff, purok_leader]
    incident.approve: [admin, captain]
    incident.reject: [admin, captain]
    incident.progress: [admin, captain, staff]
    incident.delete: [admin]
    incident.read: [admin, captain, staff, purok_leader]
    queue.read: [admin, captain, staff, purok_leader]
    events.read: [admin, captain]
    apikey.create: [admin]
    apikey.manage: [admin]

notifications:
  webhooks: []
`

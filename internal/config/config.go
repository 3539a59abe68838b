package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wslabel/wslabel/internal/rename"
)

// DefaultCommandTimeout bounds each window manager round trip unless
// configured otherwise.
const DefaultCommandTimeout = 5 * time.Second

// Config is the top-level configuration document.
type Config struct {
	WindowClass     WindowClassMap `yaml:"windowClass"`
	IncludeFloating bool           `yaml:"includeFloating"`
	CommandTimeout  time.Duration  `yaml:"commandTimeout"`
}

// UnmarshalYAML handles deprecated fields while decoding configuration files.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type rawConfig struct {
		WindowClass       WindowClassMap `yaml:"windowClass"`
		LegacyWindowClass WindowClassMap `yaml:"window_class"`
		IncludeFloating   bool           `yaml:"includeFloating"`
		CommandTimeout    *time.Duration `yaml:"commandTimeout"`
	}

	var raw rawConfig
	if err := value.Decode(&raw); err != nil {
		return err
	}

	c.IncludeFloating = raw.IncludeFloating
	switch {
	case raw.WindowClass != nil:
		c.WindowClass = raw.WindowClass
	default:
		c.WindowClass = raw.LegacyWindowClass
	}
	switch {
	case raw.CommandTimeout != nil:
		c.CommandTimeout = *raw.CommandTimeout
	default:
		c.CommandTimeout = DefaultCommandTimeout
	}
	return nil
}

// WindowClassMap maps a window class to its workspace label.
type WindowClassMap map[string]string

// UnmarshalYAML ensures classes are unique and labels are plain strings.
func (m *WindowClassMap) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		*m = nil
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: windowClass must be a mapping", value.Line)
	}
	result := make(map[string]string, len(value.Content)/2)
	for i := 0; i < len(value.Content); i += 2 {
		keyNode := value.Content[i]
		valNode := value.Content[i+1]
		if keyNode.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: window class must be a string", keyNode.Line)
		}
		class := keyNode.Value
		if _, exists := result[class]; exists {
			return fmt.Errorf("line %d: duplicate window class %q", keyNode.Line, class)
		}
		if valNode.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: label for %q must be a string", valNode.Line, class)
		}
		result[class] = valNode.Value
	}
	*m = result
	return nil
}

// LintError describes one problem found in a configuration document.
type LintError struct {
	Path    string
	Message string
}

func (e LintError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// DefaultPath returns the configuration file used when none is given.
func DefaultPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "wslabel", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "wslabel", "config.yaml")
	}
	return filepath.Join(home, ".config", "wslabel", "config.yaml")
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	cfg, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode parses a configuration document and applies defaults without
// validating it.
func Decode(data []byte) (*Config, error) {
	cfg := Config{CommandTimeout: DefaultCommandTimeout}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// LintFile decodes path and reports every validation issue. The error is
// non-nil only when the file cannot be read or decoded.
func LintFile(path string) ([]LintError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return cfg.Lint(), nil
}

// Validate performs basic sanity checks and returns the first issue found.
func (c *Config) Validate() error {
	if errs := c.Lint(); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Lint returns every issue found in the configuration, ordered by class.
func (c *Config) Lint() []LintError {
	var errs []LintError
	if len(c.WindowClass) == 0 {
		errs = append(errs, LintError{Path: "windowClass", Message: "must map at least one window class to a label"})
	}
	classes := make([]string, 0, len(c.WindowClass))
	for class := range c.WindowClass {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	for _, class := range classes {
		if strings.TrimSpace(class) == "" {
			errs = append(errs, LintError{Path: "windowClass", Message: "window class cannot be empty"})
			continue
		}
		if strings.TrimSpace(c.WindowClass[class]) == "" {
			errs = append(errs, LintError{Path: "windowClass." + class, Message: "label cannot be empty"})
		}
	}
	if c.CommandTimeout < 0 {
		errs = append(errs, LintError{Path: "commandTimeout", Message: "cannot be negative"})
	}
	return errs
}

// Lookup returns the immutable label table described by the configuration.
func (c *Config) Lookup() *rename.Lookup {
	return rename.NewLookup(c.WindowClass)
}

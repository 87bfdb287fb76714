package waterfall

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/finresearch-cli/internal/model"
)

// Config controls source priority and the acceptance rule.
type Config struct {
	// Sources lists source names in priority order.
	Sources []string `yaml:"sources"`
	// Critical indicators must all be present at AcceptConfidence for the
	// merged result to be accepted without trying the next source.
	Critical         []model.IndicatorName `yaml:"critical"`
	AcceptConfidence float64               `yaml:"accept_confidence"`
}

// DefaultConfig returns the default selection rule: AI text first, then the
// scraped results table.
func DefaultConfig() Config {
	return Config{
		Sources:          []string{"perplexity", "moneycontrol"},
		Critical:         model.CriticalIndicators(),
		AcceptConfidence: 0.8,
	}
}

// LoadConfig reads a selection config from a YAML file with a top-level
// "selection" key. Missing values fall back to DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "waterfall: read config %s", path)
	}

	var wrapper struct {
		Selection Config `yaml:"selection"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "waterfall: parse config")
	}

	cfg := wrapper.Selection
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if len(c.Sources) == 0 {
		c.Sources = def.Sources
	}
	if len(c.Critical) == 0 {
		c.Critical = def.Critical
	}
	if c.AcceptConfidence == 0 {
		c.AcceptConfidence = def.AcceptConfidence
	}
}

// Validate rejects unknown critical indicators and thresholds outside [0,1].
func (c Config) Validate() error {
	if c.AcceptConfidence < 0 || c.AcceptConfidence > 1 {
		return eris.Errorf("waterfall: accept_confidence %.2f outside [0,1]", c.AcceptConfidence)
	}
	for _, name := range c.Critical {
		if _, ok := model.Lookup(name); !ok {
			return eris.Errorf("waterfall: unknown critical indicator %q", name)
		}
	}
	return nil
}

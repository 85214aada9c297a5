package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type LoggingCfg struct {
	Level  string `mapstructure:"level"`
	RunLog string `mapstructure:"run_log"`
}

type CaptureCfg struct {
	StackTraces     bool     `mapstructure:"stack_traces"`
	ExcludePackages []string `mapstructure:"exclude_packages"`
	ExcludeTypes    []string `mapstructure:"exclude_types"`
	ExcludeMethods  []string `mapstructure:"exclude_methods"`
}

type AggregationCfg struct {
	// TransactionBinding is "enclosed" or "nearest".
	TransactionBinding string `mapstructure:"transaction_binding"`
}

type PolicyCfg struct {
	StatusCodes []int `mapstructure:"status_codes"`
}

type OutputCfg struct {
	Format string `mapstructure:"format"`
	Dir    string `mapstructure:"dir"`
	// MaxValueLen truncates inlined parameter values to this many
	// characters; 0 means no limit.
	MaxValueLen int `mapstructure:"max_value_len"`
}

type Config struct {
	Version     string         `mapstructure:"version"`
	Capture     CaptureCfg     `mapstructure:"capture"`
	Aggregation AggregationCfg `mapstructure:"aggregation"`
	Policy      PolicyCfg      `mapstructure:"policy"`
	Output      OutputCfg      `mapstructure:"output"`
	Logging     LoggingCfg     `mapstructure:"logging"`
}

var cfg *Config

// Load populates global config from a viper instance
func Load(v *viper.Viper) error {
	v.SetDefault("version", "0.1")
	v.SetDefault("capture.stack_traces", true)
	v.SetDefault("aggregation.transaction_binding", "enclosed")
	v.SetDefault("output.format", "text")
	v.SetDefault("logging.level", "info")

	v.SetEnvPrefix("DBSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.validate(); err != nil {
		return err
	}
	cfg = &c
	return nil
}

func (c *Config) validate() error {
	switch c.Aggregation.TransactionBinding {
	case "enclosed", "nearest":
	default:
		return fmt.Errorf("invalid aggregation.transaction_binding %q (want enclosed|nearest)", c.Aggregation.TransactionBinding)
	}
	switch c.Output.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid output.format %q (want text|json)", c.Output.Format)
	}
	if c.Output.MaxValueLen < 0 {
		return fmt.Errorf("invalid output.max_value_len %d", c.Output.MaxValueLen)
	}
	for _, code := range c.Policy.StatusCodes {
		if code < 100 || code > 599 {
			return fmt.Errorf("invalid policy.status_codes entry %d", code)
		}
	}
	return nil
}

func Get() *Config {
	if cfg == nil {
		cfg = &Config{
			Version:     "0.1",
			Capture:     CaptureCfg{StackTraces: true},
			Aggregation: AggregationCfg{TransactionBinding: "enclosed"},
			Output:      OutputCfg{Format: "text"},
			Logging:     LoggingCfg{Level: "info"},
		}
	}
	return cfg
}

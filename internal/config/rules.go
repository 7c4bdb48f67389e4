package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RateRule is the fixed-window budget for one endpoint.
type RateRule struct {
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

// GameRule carries the per-game anti-cheat parameters. A zero ScoreRateCap
// disables the plausibility bound for that game.
type GameRule struct {
	ScoreRateCap float64 `mapstructure:"score_rate_cap"`
}

// Rules is the tunable part of the configuration that lives in a file rather
// than in the environment.
type Rules struct {
	RateLimits struct {
		Default   RateRule            `mapstructure:"default"`
		Endpoints map[string]RateRule `mapstructure:"endpoints"`
	} `mapstructure:"rate_limits"`
	Games map[string]GameRule `mapstructure:"games"`
}

// LoadRules reads the rules file at path. A missing file is not an error: the
// built-in defaults apply. Values can be overridden with RULES_-prefixed
// environment variables (RULES_RATE_LIMITS_DEFAULT_MAX_REQUESTS, ...).
func LoadRules(path string) (*Rules, error) {
	v := viper.New()

	v.SetDefault("rate_limits.default.max_requests", 30)
	v.SetDefault("rate_limits.default.window", time.Minute)
	v.SetDefault("rate_limits.endpoints", map[string]any{})
	v.SetDefault("games", map[string]any{})

	v.SetEnvPrefix("RULES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)

		err := v.ReadInConfig()
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read rules %q: %w", path, err)
			}
		}
	}

	rules := new(Rules)

	err := v.Unmarshal(rules)
	if err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}

	// Unmarshal skips games written as an empty map (`chess: {}`); they are
	// known games without a score cap.
	if rules.Games == nil {
		rules.Games = map[string]GameRule{}
	}
	for name := range v.GetStringMap("games") {
		if _, ok := rules.Games[name]; !ok {
			rules.Games[name] = GameRule{}
		}
	}

	err = rules.validate()
	if err != nil {
		return nil, err
	}

	return rules, nil
}

func (r *Rules) validate() error {
	check := func(name string, rr RateRule) error {
		if rr.MaxRequests <= 0 || rr.Window <= 0 {
			return fmt.Errorf("rate limit %q: max_requests and window must be positive", name)
		}

		return nil
	}

	err := check("default", r.RateLimits.Default)
	if err != nil {
		return err
	}

	for name, rr := range r.RateLimits.Endpoints {
		err = check(name, rr)
		if err != nil {
			return err
		}
	}

	for name, g := range r.Games {
		if g.ScoreRateCap < 0 {
			return fmt.Errorf("game %q: score_rate_cap must not be negative", name)
		}
	}

	return nil
}

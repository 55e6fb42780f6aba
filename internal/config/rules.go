package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Thresholds holds the compliance limits for one meter.
type Thresholds struct {
	HCAlertPct        float64 `yaml:"hc_alert_pct"`
	HCFailPct         float64 `yaml:"hc_fail_pct"`
	TotalAlertPct     float64 `yaml:"total_alert_pct"`
	TotalFailPct      float64 `yaml:"total_fail_pct"`
	SeparatorAlertPct float64 `yaml:"separator_alert_pct"`
	KFactorMin        float64 `yaml:"kfactor_min"`
	KFactorMax        float64 `yaml:"kfactor_max"`
	ConsecutiveDays   int     `yaml:"consecutive_days_threshold"`
}

// Deadlines holds the desenquadramento reporting offsets in calendar days.
type Deadlines struct {
	PartialDays      int `yaml:"partial_days"`
	FinalTopsideDays int `yaml:"final_topside_days"`
	FinalSubseaDays  int `yaml:"final_subsea_days"`
	DueSoonDays      int `yaml:"due_soon_days"`
}

// Rules is the compliance rules file.
type Rules struct {
	Defaults                 Thresholds            `yaml:"defaults"`
	Meters                   map[string]Thresholds `yaml:"meters"`
	Deadlines                Deadlines             `yaml:"deadlines"`
	AutoOpenDesenquadramento *bool                 `yaml:"auto_open_desenquadramento"`
}

// DefaultThresholds returns the regulatory defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HCAlertPct:        7,
		HCFailPct:         10,
		TotalAlertPct:     5,
		TotalFailPct:      7,
		SeparatorAlertPct: 5,
		KFactorMin:        0.8,
		KFactorMax:        1.2,
		ConsecutiveDays:   10,
	}
}

// DefaultDeadlines returns the RANP 44/2015 offsets.
func DefaultDeadlines() Deadlines {
	return Deadlines{PartialDays: 10, FinalTopsideDays: 30, FinalSubseaDays: 60, DueSoonDays: 3}
}

// DefaultRules returns rules with every default set.
func DefaultRules() Rules {
	enabled := true
	return Rules{
		Defaults:                 DefaultThresholds(),
		Deadlines:                DefaultDeadlines(),
		AutoOpenDesenquadramento: &enabled,
	}
}

// LoadRules reads a YAML rules file. An empty path yields the defaults.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if strings.TrimSpace(path) == "" {
		return rules, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("config: read rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes rules YAML over the defaults.
func ParseRules(data []byte) (Rules, error) {
	rules := DefaultRules()
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return rules, fmt.Errorf("config: parse rules: %w", err)
	}
	rules.Defaults = mergeThresholds(DefaultThresholds(), rules.Defaults)
	rules.Deadlines = mergeDeadlines(DefaultDeadlines(), rules.Deadlines)
	if rules.AutoOpenDesenquadramento == nil {
		enabled := true
		rules.AutoOpenDesenquadramento = &enabled
	}
	if len(rules.Meters) > 0 {
		normalized := make(map[string]Thresholds, len(rules.Meters))
		for tag, override := range rules.Meters {
			normalized[strings.ToUpper(strings.TrimSpace(tag))] = override
		}
		rules.Meters = normalized
	}
	if err := rules.Validate(); err != nil {
		return rules, err
	}
	return rules, nil
}

// ForMeter returns thresholds for a meter tag, overrides merged over defaults.
func (r Rules) ForMeter(tag string) Thresholds {
	base := mergeThresholds(DefaultThresholds(), r.Defaults)
	if r.Meters != nil {
		if override, ok := r.Meters[strings.ToUpper(strings.TrimSpace(tag))]; ok {
			return mergeThresholds(base, override)
		}
	}
	return base
}

// AutoOpen reports whether FAIL rows open desenquadramento events.
func (r Rules) AutoOpen() bool {
	return r.AutoOpenDesenquadramento == nil || *r.AutoOpenDesenquadramento
}

// DeadlineOffsets returns the deadline offsets with defaults filled in.
func (r Rules) DeadlineOffsets() Deadlines {
	return mergeDeadlines(DefaultDeadlines(), r.Deadlines)
}

// Validate checks that every threshold set is coherent.
func (r Rules) Validate() error {
	if err := r.Defaults.validate("defaults"); err != nil {
		return err
	}
	for tag := range r.Meters {
		if err := r.ForMeter(tag).validate("meters." + tag); err != nil {
			return err
		}
	}
	d := r.DeadlineOffsets()
	if d.PartialDays <= 0 || d.FinalTopsideDays <= 0 || d.FinalSubseaDays <= 0 || d.DueSoonDays < 0 {
		return errors.New("config: deadlines must be positive")
	}
	return nil
}

func (t Thresholds) validate(scope string) error {
	if t.HCAlertPct <= 0 || t.HCFailPct <= 0 || t.TotalAlertPct <= 0 || t.TotalFailPct <= 0 || t.SeparatorAlertPct <= 0 {
		return fmt.Errorf("config: %s percentages must be positive", scope)
	}
	if t.HCAlertPct > t.HCFailPct {
		return fmt.Errorf("config: %s hc_alert_pct exceeds hc_fail_pct", scope)
	}
	if t.TotalAlertPct > t.TotalFailPct {
		return fmt.Errorf("config: %s total_alert_pct exceeds total_fail_pct", scope)
	}
	if t.KFactorMin <= 0 || t.KFactorMin >= t.KFactorMax {
		return fmt.Errorf("config: %s kfactor range invalid", scope)
	}
	if t.ConsecutiveDays <= 0 {
		return fmt.Errorf("config: %s consecutive_days_threshold must be positive", scope)
	}
	return nil
}

func mergeThresholds(base, override Thresholds) Thresholds {
	if override.HCAlertPct != 0 {
		base.HCAlertPct = override.HCAlertPct
	}
	if override.HCFailPct != 0 {
		base.HCFailPct = override.HCFailPct
	}
	if override.TotalAlertPct != 0 {
		base.TotalAlertPct = override.TotalAlertPct
	}
	if override.TotalFailPct != 0 {
		base.TotalFailPct = override.TotalFailPct
	}
	if override.SeparatorAlertPct != 0 {
		base.SeparatorAlertPct = override.SeparatorAlertPct
	}
	if override.KFactorMin != 0 {
		base.KFactorMin = override.KFactorMin
	}
	if override.KFactorMax != 0 {
		base.KFactorMax = override.KFactorMax
	}
	if override.ConsecutiveDays != 0 {
		base.ConsecutiveDays = override.ConsecutiveDays
	}
	return base
}

// mergeDeadlines fills unset offsets from base. An all-zero override is unset;
// otherwise due_soon_days is taken as given so 0 can disable the window.
func mergeDeadlines(base, override Deadlines) Deadlines {
	if override == (Deadlines{}) {
		return base
	}
	if override.PartialDays != 0 {
		base.PartialDays = override.PartialDays
	}
	if override.FinalTopsideDays != 0 {
		base.FinalTopsideDays = override.FinalTopsideDays
	}
	if override.FinalSubseaDays != 0 {
		base.FinalSubseaDays = override.FinalSubseaDays
	}
	base.DueSoonDays = override.DueSoonDays
	return base
}

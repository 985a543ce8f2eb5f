package alerting

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RulePack holds per-service threshold overrides loaded from YAML:
//
//	overrides:
//	  - service: auth
//	    latencyThresholdMs: 250
//	  - service: auth
//	    endpoint: /login
//	    errorStatusMin: 400
type RulePack struct {
	Overrides []Override `yaml:"overrides"`
}

// Override replaces the thresholds it sets for a service, or for one endpoint
// of a service when Endpoint is non-empty.
type Override struct {
	Service            string `yaml:"service"`
	Endpoint           string `yaml:"endpoint"`
	LatencyThresholdMs *int64 `yaml:"latencyThresholdMs"`
	ErrorStatusMin     *int   `yaml:"errorStatusMin"`
}

// LoadRulePack reads overrides from path. An empty path or a missing file
// yields a nil pack; a malformed file is an error.
func LoadRulePack(path string) (*RulePack, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read rule pack: %w", err)
	}
	return ParseRulePack(data)
}

// ParseRulePack decodes and validates a YAML rule pack.
func ParseRulePack(data []byte) (*RulePack, error) {
	var pack RulePack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("parse rule pack: %w", err)
	}
	for i, o := range pack.Overrides {
		if o.Service == "" {
			return nil, fmt.Errorf("override %d: service is required", i)
		}
		if o.LatencyThresholdMs != nil && *o.LatencyThresholdMs <= 0 {
			return nil, fmt.Errorf("override %d (%s): latencyThresholdMs must be > 0", i, o.Service)
		}
		if o.ErrorStatusMin != nil && (*o.ErrorStatusMin < 100 || *o.ErrorStatusMin > 599) {
			return nil, fmt.Errorf("override %d (%s): errorStatusMin must be a status code", i, o.Service)
		}
	}
	return &pack, nil
}

// apply layers service-wide overrides, then endpoint overrides, on base.
func (p *RulePack) apply(base Thresholds, service, endpoint string) Thresholds {
	if p == nil {
		return base
	}
	out := base
	for _, o := range p.Overrides {
		if o.Service == service && o.Endpoint == "" {
			o.merge(&out)
		}
	}
	if endpoint != "" {
		for _, o := range p.Overrides {
			if o.Service == service && o.Endpoint == endpoint {
				o.merge(&out)
			}
		}
	}
	return out
}

func (o Override) merge(t *Thresholds) {
	if o.LatencyThresholdMs != nil {
		t.LatencyThresholdMs = *o.LatencyThresholdMs
	}
	if o.ErrorStatusMin != nil {
		t.ErrorStatusMin = *o.ErrorStatusMin
	}
}

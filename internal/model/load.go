package model

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// LoadDeal reads and validates a deal configuration file.
func LoadDeal(path string) (*Deal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "model: read deal %s", path)
	}

	var wrapper struct {
		Deal Deal `yaml:"deal"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrapf(err, "model: parse deal %s", path)
	}

	deal := &wrapper.Deal
	if err := deal.Validate(); err != nil {
		return nil, err
	}
	return deal, nil
}

// LoadPeriodInputs reads a file of one or more periods, in payment-date
// order.
func LoadPeriodInputs(path string) ([]PeriodInputs, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "model: read period inputs %s", path)
	}

	var wrapper struct {
		Periods []PeriodInputs `yaml:"periods"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrapf(err, "model: parse period inputs %s", path)
	}

	for i, p := range wrapper.Periods {
		if err := p.Validate(); err != nil {
			return nil, eris.Wrapf(err, "model: period %d", i+1)
		}
	}
	return wrapper.Periods, nil
}

// LoadScenarios reads a what-if scenario file.
func LoadScenarios(path string) ([]Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "model: read scenarios %s", path)
	}

	var wrapper struct {
		Scenarios []Scenario `yaml:"scenarios"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrapf(err, "model: parse scenarios %s", path)
	}
	return wrapper.Scenarios, nil
}

package automation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// rulesFile is the layout of the seed file:
//
//	rules:
//	  - name: Oncologia
//	    isActive: true
//	    triggerKeywords: [oncologia, quimioterapia]
//	    filterSettings:
//	      consultations:
//	        dateRange: {start: -12, end: 0}
//	        values: {specialty: oncologia}
type rulesFile struct {
	Rules []*Rule `yaml:"rules"`
}

// ParseRules decodes a YAML rules document. Unknown keys are rejected.
func ParseRules(data []byte) ([]*Rule, error) {
	var f rulesFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	return f.Rules, nil
}

// LoadRulesFile reads and decodes the rules file at path.
func LoadRulesFile(path string) ([]*Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(data)
}

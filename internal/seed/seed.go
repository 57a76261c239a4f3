// Package seed holds the dataset a fresh local store starts with.
package seed

import (
	_ "embed"
	"fmt"

	"github.com/minus-twelve/roster/types"
	"gopkg.in/yaml.v3"
)

//go:embed employees.yaml
var employeesYAML []byte

func Records() ([]types.Record, error) {
	return Parse(employeesYAML)
}

func Parse(data []byte) ([]types.Record, error) {
	var records []types.Record
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}
	for i := range records {
		if records[i].Currency == "" {
			records[i].Currency = types.USD
		}
	}
	return records, nil
}

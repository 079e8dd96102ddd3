package main

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v2"
)

type Configuration struct {
	Tables []TableConfig `yaml:"tables"`
}

type TableConfig struct {
	Name    string         `yaml:"name"`
	ID      string         `yaml:"id"`
	Columns []ColumnConfig `yaml:"columns"`
}

type ColumnConfig struct {
	Name      string `yaml:"name"`
	ID        string `yaml:"id"`
	Multiple  bool   `yaml:"multiple"`
	Reference bool   `yaml:"reference"`
}

func LoadConfiguration(data io.Reader) (*Configuration, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration data: %w", err)
	}

	config := &Configuration{}
	err = yaml.Unmarshal(buf, config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if len(config.Tables) == 0 {
		return nil, fmt.Errorf("configuration contains no tables")
	}

	for _, table := range config.Tables {
		if table.ID == "" {
			return nil, fmt.Errorf("table %s has no id", table.Name)
		}
	}

	return config, nil
}

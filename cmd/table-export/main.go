package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/diwise/grid-mapper/pkg/grid/client"
	"github.com/diwise/grid-mapper/pkg/gridmapper"
	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
)

const (
	appName string = "table-export"
)

func main() {
	appVersion := buildinfo.SourceVersion()

	ctx, log, cleanup := o11y.Init(context.Background(), appName, appVersion, "json")
	defer cleanup()

	var tablesConfigFile string
	flag.StringVar(&tablesConfigFile, "tables", "/opt/diwise/config/tables.yaml", "A configuration file describing the tables to export")
	flag.Parse()

	configFile, err := os.Open(tablesConfigFile)
	if err != nil {
		log.Error("failed to open the tables configuration file", "err", err.Error())
		os.Exit(1)
	}

	config, err := LoadConfiguration(configFile)
	configFile.Close()

	if err != nil {
		log.Error("failed to load the tables configuration", "err", err.Error())
		os.Exit(1)
	}

	serviceURL := env.GetVariableOrDefault(ctx, "GRID_SERVICE_URL", "")
	if serviceURL == "" {
		log.Error("no grid service url configured")
		os.Exit(1)
	}

	c := client.NewGridClient(serviceURL,
		client.Token(env.GetVariableOrDefault(ctx, "GRID_SERVICE_TOKEN", "")),
		client.Debug(env.GetVariableOrDefault(ctx, "GRID_CLIENT_DEBUG", "false")),
	)

	err = exportTables(ctx, c, config, os.Stdout)
	if err != nil {
		log.Error("export failed", "err", err.Error())
		os.Exit(1)
	}
}

type record struct {
	gridmapper.Entity
}

type relatedRecord struct {
	gridmapper.Entity
}

// exportTables writes every row of every configured table to the writer as
// one JSON object per line.
func exportTables(ctx context.Context, c client.GridClient, config *Configuration, w io.Writer) error {
	log := logging.GetFromContext(ctx)
	encoder := json.NewEncoder(w)

	for _, table := range config.Tables {
		mapper, err := tableMapper(c, table)
		if err != nil {
			return err
		}

		rows, err := gridmapper.ListRows[*record](ctx, mapper)
		if err != nil {
			return fmt.Errorf("failed to list rows in table %s: %w", table.ID, err)
		}

		log.Info("exporting table", slog.String("table", table.Name), slog.Int("rows", len(rows)))

		for _, row := range rows {
			values := row.Values()
			values["table"] = table.Name

			for name, value := range values {
				values[name] = flattenReferences(value)
			}

			err = encoder.Encode(values)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

// tableMapper builds a single table mapper from the column configuration.
// Each table gets its own registry, so that the same record type can be
// mapped to a different table on every iteration.
func tableMapper(c client.GridClient, table TableConfig) (*gridmapper.Mapper, error) {
	decorators := make([]gridmapper.DescriptorDecoratorFunc, 0, len(table.Columns)+1)
	decorators = append(decorators, gridmapper.Table(table.ID))

	related := func() gridmapper.Persistable { return &relatedRecord{} }

	for _, column := range table.Columns {
		switch {
		case column.Reference && column.Multiple:
			decorators = append(decorators, gridmapper.MultiReference(column.Name, column.ID, related))
		case column.Reference:
			decorators = append(decorators, gridmapper.Reference(column.Name, column.ID, related))
		case column.Multiple:
			decorators = append(decorators, gridmapper.MultiColumn(column.Name, column.ID))
		default:
			decorators = append(decorators, gridmapper.Column(column.Name, column.ID))
		}
	}

	registry := gridmapper.NewRegistry()

	err := registry.Register(func() gridmapper.Persistable { return &record{} }, decorators...)
	if err != nil {
		return nil, err
	}

	err = registry.Register(related)
	if err != nil {
		return nil, err
	}

	return gridmapper.New(c, registry), nil
}

// flattenReferences replaces referenced entities with their row ids, so
// that the export stays line oriented instead of recursing into related
// rows.
func flattenReferences(value any) any {
	switch v := value.(type) {
	case *relatedRecord:
		return v.RowID()
	case []any:
		result := make([]any, 0, len(v))
		for _, item := range v {
			result = append(result, flattenReferences(item))
		}
		return result
	}

	return value
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/evoluhq/evolu-go/internal/config"
	"github.com/evoluhq/evolu-go/internal/evolu"
	"github.com/evoluhq/evolu-go/internal/schema"
)

// loadSchema reads a {table: [columns...]} JSON file into a schema.DbSchema,
// adding every index from config.Indexes() on top.
func loadSchema(path string) (schema.DbSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return schema.NewDbSchema(nil, config.Indexes())
		}
		return schema.DbSchema{}, fmt.Errorf("read schema file: %w", err)
	}

	var tables map[schema.TableName][]schema.ColumnName
	if err := json.Unmarshal(data, &tables); err != nil {
		return schema.DbSchema{}, fmt.Errorf("parse schema file: %w", err)
	}
	return schema.NewDbSchema(tables, config.Indexes())
}

// openEngine initializes config and opens the engine using the shared
// --config/--db/--schema flags, matching every subcommand's startup path.
func openEngine(ctx context.Context) (*evolu.Engine, error) {
	if err := config.Initialize(configPath); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	desired, err := loadSchema(schemaPath)
	if err != nil {
		return nil, err
	}

	opts := evolu.Options{
		StoragePath:   storagePath(),
		Schema:        desired,
		SyncURLs:      config.SyncURLs(),
		MaxDrift:      config.MaxDrift(),
		DisposalDelay: config.DisposalDelay(),
		Log:           newLogger(),
		ReloadURL:     config.ReloadURL(),
	}
	return evolu.Open(ctx, opts)
}

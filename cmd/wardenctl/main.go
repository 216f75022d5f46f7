// wardenctl validates an exported entity population offline and reports
// every violation. It accepts a JSON export or a SQLite database and
// exits non-zero when any entity fails validation.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quorumsec/warden/pkg/entity"
	"github.com/quorumsec/warden/pkg/gateway"
	"github.com/quorumsec/warden/pkg/validation"
)

// Config holds the CLI configuration
type Config struct {
	InputPath   string
	SQLitePath  string
	Operation   string
	StrictMode  bool
	MaxDepth    int
	Concurrency int
	LogLevel    string
}

func main() {
	config := parseFlags()
	logger := setupLogger(config.LogLevel)

	graph, gw, closeGateway, err := loadEntities(config)
	if err != nil {
		logger.Fatalf("Failed to load entities: %v", err)
	}
	defer closeGateway()
	logger.Infof("Loaded %d entities", graph.Len())

	engineCfg := validation.DefaultConfiguration()
	engineCfg.StrictMode = config.StrictMode
	engineCfg.MaxValidationDepth = config.MaxDepth

	cache := validation.NewMemoryCache(validation.RuleListTTL)
	registry := validation.NewDefaultRegistry(cache, validation.DefaultPolicy(), gw)

	orchestrator, err := validation.NewOrchestrator(graph, gw, registry,
		validation.WithConfiguration(engineCfg),
		validation.WithCache(cache),
		validation.WithBulkConcurrency(config.Concurrency),
	)
	if err != nil {
		logger.Fatalf("Failed to create validation engine: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	results, err := orchestrator.ValidateEntitiesBulk(ctx, graph.All(), validation.OperationType(config.Operation))
	if err != nil {
		logger.Fatalf("Bulk validation failed: %v", err)
	}

	invalid := 0
	for _, e := range graph.All() {
		result, ok := results[e]
		if !ok || result.Valid {
			continue
		}
		invalid++
		for _, v := range result.Violations {
			logger.WithFields(logrus.Fields{
				"entity":   e.Name,
				"type":     string(e.Type),
				"severity": v.Severity.String(),
			}).Warn(v.String())
		}
	}

	sysResult, err := orchestrator.ValidateSystemInvariants(ctx)
	if err != nil {
		logger.Fatalf("System invariant check failed: %v", err)
	}
	for _, v := range sysResult.Violations {
		logger.WithField("rule", v.Rule).Warn(v.String())
	}

	if invalid > 0 {
		logger.Errorf("%d of %d entities failed validation", invalid, graph.Len())
		os.Exit(1)
	}
	logger.Infof("All %d entities valid (%d system findings)", graph.Len(), len(sysResult.Violations))
}

func parseFlags() *Config {
	config := &Config{}
	flag.StringVar(&config.InputPath, "input", "", "Path to a JSON entity export")
	flag.StringVar(&config.SQLitePath, "sqlite", "", "Path to a SQLite entity database")
	flag.StringVar(&config.Operation, "op", "update", "Operation type to validate as (create/update/delete)")
	flag.BoolVar(&config.StrictMode, "strict", false, "Enable strict-mode invariants")
	flag.IntVar(&config.MaxDepth, "max-depth", validation.DefaultMaxValidationDepth, "Maximum graph traversal depth")
	flag.IntVar(&config.Concurrency, "concurrency", validation.DefaultBulkConcurrency, "Bulk validation concurrency")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level (debug/info/warn/error)")
	flag.Parse()

	if config.InputPath == "" && config.SQLitePath == "" {
		fmt.Fprintln(os.Stderr, "either -input or -sqlite is required")
		flag.Usage()
		os.Exit(2)
	}
	if !validation.OperationType(config.Operation).IsValid() {
		fmt.Fprintf(os.Stderr, "unknown operation type %q\n", config.Operation)
		os.Exit(2)
	}
	return config
}

func setupLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}

// loadEntities builds the graph and the gateway the engine queries. JSON
// exports validate against a memory gateway; SQLite databases keep the
// SQLite gateway open so system rules and uniqueness probes run against
// the database itself.
func loadEntities(config *Config) (*entity.Graph, gateway.Gateway, func() error, error) {
	if config.InputPath != "" {
		graph, err := loadJSON(config.InputPath)
		if err != nil {
			return nil, nil, nil, err
		}
		return graph, gateway.NewMemory(graph), func() error { return nil }, nil
	}

	graph, gw, err := loadSQLite(config.SQLitePath)
	if err != nil {
		return nil, nil, nil, err
	}
	return graph, gw, gw.Close, nil
}

func loadJSON(path string) (*entity.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", path, err)
	}

	var entities []*entity.Entity
	if err := json.Unmarshal(data, &entities); err != nil {
		return nil, fmt.Errorf("failed to parse %q: %w", path, err)
	}

	graph := entity.NewGraph()
	for _, e := range entities {
		graph.Add(e)
	}
	return graph, nil
}

func loadSQLite(path string) (*entity.Graph, *gateway.SQLite, error) {
	gw, err := gateway.OpenSQLite(path)
	if err != nil {
		return nil, nil, err
	}

	graph := entity.NewGraph()
	for _, load := range []func(*sql.DB, *entity.Graph) error{
		loadEntityRows, loadEdgeRows, loadPermissionRows,
	} {
		if err := load(gw.DB(), graph); err != nil {
			gw.Close()
			return nil, nil, err
		}
	}
	return graph, gw, nil
}

func loadEntityRows(db *sql.DB, graph *entity.Graph) error {
	rows, err := db.Query(`
		SELECT id, name, type, COALESCE(scope, ''), COALESCE(uri, ''),
		       COALESCE(resource_type, ''), COALESCE(is_active, 0), COALESCE(version, ''),
		       COALESCE(email, ''), COALESCE(full_name, '')
		FROM entities`)
	if err != nil {
		return fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e := &entity.Entity{}
		var version string
		if err := rows.Scan(&e.ID, &e.Name, &e.Type, &e.Scope, &e.URI,
			&e.ResourceType, &e.IsActive, &version, &e.Email, &e.FullName); err != nil {
			return err
		}
		if version != "" {
			e.Version = &version
		}
		graph.Add(e)
	}
	return rows.Err()
}

func loadEdgeRows(db *sql.DB, graph *entity.Graph) error {
	rows, err := db.Query(`SELECT parent_id, child_id FROM entity_edges`)
	if err != nil {
		return fmt.Errorf("failed to query entity edges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var parentID, childID int64
		if err := rows.Scan(&parentID, &childID); err != nil {
			return err
		}
		if parent, err := graph.Resolve(parentID); err == nil {
			parent.ChildIDs = append(parent.ChildIDs, childID)
		}
		if child, err := graph.Resolve(childID); err == nil {
			child.ParentIDs = append(child.ParentIDs, parentID)
		}
	}
	return rows.Err()
}

func loadPermissionRows(db *sql.DB, graph *entity.Graph) error {
	rows, err := db.Query(`
		SELECT entity_id, uri, verb, scheme, grant_access, deny_access
		FROM permissions`)
	if err != nil {
		return fmt.Errorf("failed to query permissions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entityID int64
		var p entity.Permission
		if err := rows.Scan(&entityID, &p.URI, &p.Verb, &p.Scheme, &p.Grant, &p.Deny); err != nil {
			return err
		}
		if e, err := graph.Resolve(entityID); err == nil {
			e.Permissions = append(e.Permissions, p)
		}
	}
	return rows.Err()
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	sqliteadapter "github.com/atvirokodosprendimai/authsource/internal/adapters/db/sqlite"
	"github.com/atvirokodosprendimai/authsource/internal/application"
	"github.com/atvirokodosprendimai/authsource/internal/config"
	"github.com/atvirokodosprendimai/authsource/internal/domain"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	args := os.Args
	if len(args) == 1 {
		args = append(args, "--help")
	}

	root := &cli.Command{
		Name:  "authsource",
		Usage: "Flow classification rule engine",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "YAML config file path"},
			&cli.StringFlag{Name: "db", Usage: "SQLite database path, overrides config"},
			&cli.StringFlag{Name: "log-level", Usage: "debug|info|warn|error, overrides config"},
		},
		Commands: []*cli.Command{
			migrateCommand(),
			rulesCommand(),
			sweepCommand(),
			cleanupOrphansCommand(),
			resolveCommand(),
			reportCommand(),
			hierarchyCommand(),
			classificationsCommand(),
			changelogCommand(),
		},
	}

	if err := root.Run(context.Background(), args); err != nil {
		log.Fatal(err)
	}
}

// engine bundles the wired services for one CLI invocation. The CLI opens
// the database directly; there is no network server.
type engine struct {
	cfg       *config.Config
	log       *zap.Logger
	rules     *application.RuleService
	sweeper   *application.SweepService
	reports   *application.ReportService
	hierarchy domain.HierarchyRepository
	catalog   domain.CatalogRepository
	changeLog domain.ChangeLogRepository
}

func resolveConfig(c *cli.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path := c.String("config"); path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if db := c.String("db"); db != "" {
		cfg.Database.Path = db
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func openEngine(ctx context.Context, c *cli.Command) (*engine, error) {
	cfg, err := resolveConfig(c)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	db, err := sqliteadapter.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := sqliteadapter.RunMigrations(ctx, db); err != nil {
		return nil, err
	}

	ruleRepo := sqliteadapter.NewRuleRepository(db)
	flowRepo := sqliteadapter.NewFlowRepository(db)
	hierarchyRepo := sqliteadapter.NewHierarchyRepository(db)
	catalogRepo := sqliteadapter.NewCatalogRepository(db)
	changeLogRepo := sqliteadapter.NewChangeLogRepository(db)

	sweeper := application.NewSweepService(ruleRepo, flowRepo, hierarchyRepo, catalogRepo, changeLogRepo, logger,
		application.WithBatchSize(cfg.Sweep.BatchSize),
		application.WithMaxRetries(cfg.Sweep.MaxRetries))
	rules := application.NewRuleService(ruleRepo, catalogRepo, changeLogRepo, sweeper, logger)
	reports := application.NewReportService(flowRepo, hierarchyRepo, logger)

	return &engine{
		cfg:       cfg,
		log:       logger,
		rules:     rules,
		sweeper:   sweeper,
		reports:   reports,
		hierarchy: hierarchyRepo,
		catalog:   catalogRepo,
		changeLog: changeLogRepo,
	}, nil
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending database migrations",
		Action: func(ctx context.Context, c *cli.Command) error {
			if _, err := openEngine(ctx, c); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func rulesCommand() *cli.Command {
	return &cli.Command{
		Name:  "rules",
		Usage: "Flow classification rule commands",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List rules, optionally filtered by parent or supplier",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "parent-kind", Usage: "ORG_UNIT, APPLICATION or ACTOR"},
					&cli.IntFlag{Name: "parent-id"},
					&cli.IntFlag{Name: "app", Usage: "filter by supplier application id"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					eng, err := openEngine(ctx, c)
					if err != nil {
						return err
					}
					var out []domain.FlowClassificationRule
					switch {
					case c.IsSet("parent-kind") && c.IsSet("parent-id"):
						ref := domain.MkRef(domain.EntityKind(c.String("parent-kind")), int64(c.Int("parent-id")))
						out, err = eng.rules.FindByParent(ctx, ref)
					case c.IsSet("parent-kind"):
						out, err = eng.rules.FindByParentKind(ctx, domain.EntityKind(c.String("parent-kind")))
					case c.IsSet("app"):
						out, err = eng.rules.FindByApplication(ctx, int64(c.Int("app")))
					default:
						out, err = eng.rules.FindAll(ctx)
					}
					if err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printRules(out)
					return nil
				},
			},
			{
				Name:  "create",
				Usage: "Create a rule and rewrite the decorations it governs",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "parent-kind", Required: true, Usage: "ORG_UNIT, APPLICATION or ACTOR"},
					&cli.IntFlag{Name: "parent-id", Required: true},
					&cli.IntFlag{Name: "supplier", Required: true, Usage: "supplier application id"},
					&cli.IntFlag{Name: "data-type", Required: true},
					&cli.IntFlag{Name: "classification", Required: true},
					&cli.StringFlag{Name: "description"},
					&cli.StringFlag{Name: "provenance", Usage: "defaults to authsource"},
					&cli.StringFlag{Name: "external-id"},
					&cli.StringFlag{Name: "user", Value: "authsource"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					eng, err := openEngine(ctx, c)
					if err != nil {
						return err
					}
					cmd := domain.RuleCreateCommand{
						Parent:           domain.MkRef(domain.EntityKind(c.String("parent-kind")), int64(c.Int("parent-id"))),
						SupplierAppID:    int64(c.Int("supplier")),
						DataTypeID:       int64(c.Int("data-type")),
						ClassificationID: int64(c.Int("classification")),
						Description:      c.String("description"),
						Provenance:       c.String("provenance"),
						ExternalID:       c.String("external-id"),
					}
					ruleID, err := eng.rules.Create(ctx, cmd, c.String("user"))
					if err != nil {
						return err
					}
					out, err := eng.rules.GetByID(ctx, ruleID)
					if err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printRule(out)
					return nil
				},
			},
			{
				Name:  "update",
				Usage: "Update a rule's classification and/or description",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "rule-id", Required: true},
					&cli.IntFlag{Name: "classification"},
					&cli.StringFlag{Name: "description"},
					&cli.StringFlag{Name: "user", Value: "authsource"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					eng, err := openEngine(ctx, c)
					if err != nil {
						return err
					}
					cmd := domain.RuleUpdateCommand{RuleID: int64(c.Int("rule-id"))}
					if c.IsSet("classification") {
						v := int64(c.Int("classification"))
						cmd.ClassificationID = &v
					}
					if c.IsSet("description") {
						v := c.String("description")
						cmd.Description = &v
					}
					if _, err := eng.rules.Update(ctx, cmd, c.String("user")); err != nil {
						return err
					}
					out, err := eng.rules.GetByID(ctx, cmd.RuleID)
					if err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printRule(out)
					return nil
				},
			},
			{
				Name:  "delete",
				Usage: "Delete a rule and revert its decorations",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "rule-id", Required: true},
					&cli.StringFlag{Name: "user", Value: "authsource"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					eng, err := openEngine(ctx, c)
					if err != nil {
						return err
					}
					if err := eng.rules.Delete(ctx, int64(c.Int("rule-id")), c.String("user")); err != nil {
						return err
					}
					fmt.Printf("rule %d deleted\n", c.Int("rule-id"))
					return nil
				},
			},
			{
				Name:  "companions",
				Usage: "List rules related by supplier or by data-type ancestry",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "rule-id", Required: true},
					&cli.StringFlag{Name: "by", Value: "app", Usage: "app or data-type"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					eng, err := openEngine(ctx, c)
					if err != nil {
						return err
					}
					var out []domain.FlowClassificationRule
					switch c.String("by") {
					case "app":
						out, err = eng.rules.CompanionAppRules(ctx, int64(c.Int("rule-id")))
					case "data-type":
						out, err = eng.rules.CompanionDataTypeRules(ctx, int64(c.Int("rule-id")))
					default:
						return fmt.Errorf("unknown companion kind %q", c.String("by"))
					}
					if err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printRules(out)
					return nil
				},
			},
		},
	}
}

func sweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Recompute decoration ratings from the current rules",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "org-units", Usage: "csv org unit ids, restricts the sweep to their subtrees"},
			&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			eng, err := openEngine(ctx, c)
			if err != nil {
				return err
			}
			var report domain.SweepReport
			if c.String("org-units") == "" {
				report, err = eng.sweeper.RunFullSweep(ctx)
			} else {
				ids, parseErr := parseIDList(c.String("org-units"))
				if parseErr != nil {
					return parseErr
				}
				report, err = eng.sweeper.RunSweepForOrgUnits(ctx, ids)
			}
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(report)
			}
			printSweepReport(report)
			return nil
		},
	}
}

func cleanupOrphansCommand() *cli.Command {
	return &cli.Command{
		Name:  "cleanup-orphans",
		Usage: "Remove rules referencing vanished org units or inactive suppliers",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Value: "authsource"},
			&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			eng, err := openEngine(ctx, c)
			if err != nil {
				return err
			}
			out, err := eng.rules.CleanupOrphans(ctx, c.String("user"))
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(out)
			}
			printOrphanCleanup(out)
			return nil
		},
	}
}

func resolveCommand() *cli.Command {
	return &cli.Command{
		Name:  "resolve",
		Usage: "Resolve the authoritative rule for one consumer/data-type/supplier triple",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "consumer-kind", Value: "APPLICATION", Usage: "APPLICATION or ACTOR"},
			&cli.IntFlag{Name: "consumer-id", Required: true},
			&cli.IntFlag{Name: "org-unit", Usage: "consumer org unit, looked up for applications when omitted"},
			&cli.IntFlag{Name: "data-type", Required: true},
			&cli.IntFlag{Name: "supplier", Required: true, Usage: "supplier application id"},
			&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			eng, err := openEngine(ctx, c)
			if err != nil {
				return err
			}
			consumer := domain.MkRef(domain.EntityKind(c.String("consumer-kind")), int64(c.Int("consumer-id")))
			orgUnitID := int64(c.Int("org-unit"))
			if !c.IsSet("org-unit") && consumer.Kind == domain.KindApplication {
				app, err := eng.catalog.GetApplication(ctx, consumer.ID)
				if err != nil {
					return err
				}
				orgUnitID = app.OrgUnitID
			}
			verdict, ok, err := eng.sweeper.Resolve(ctx, consumer, orgUnitID, int64(c.Int("data-type")), int64(c.Int("supplier")))
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(map[string]any{"matched": ok, "verdict": verdict})
			}
			if !ok {
				fmt.Printf("no applicable rule, decoration stays %s\n", domain.RatingNoOpinion)
				return nil
			}
			printKV([][2]string{
				{"rule_id", strconv.FormatInt(verdict.RuleID, 10)},
				{"classification", verdict.ClassificationCode},
			})
			return nil
		},
	}
}

func reportCommand() *cli.Command {
	return &cli.Command{
		Name:  "report",
		Usage: "Read-side reports",
		Commands: []*cli.Command{
			{
				Name:  "discouraged",
				Usage: "Suppliers feeding discouraged or unclassified flows",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "org-unit", Usage: "restrict to consumers in this org unit subtree"},
					&cli.StringFlag{Name: "suppliers", Usage: "csv supplier application ids"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					eng, err := openEngine(ctx, c)
					if err != nil {
						return err
					}
					var out []domain.DiscouragedSource
					if c.IsSet("org-unit") {
						out, err = eng.reports.DiscouragedSourcesForOrgUnit(ctx, int64(c.Int("org-unit")))
					} else {
						var selector domain.DecorationSelector
						if c.String("suppliers") != "" {
							selector.SupplierAppIDs, err = parseIDList(c.String("suppliers"))
							if err != nil {
								return err
							}
						}
						out, err = eng.reports.DiscouragedSources(ctx, selector)
					}
					if err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printDiscouragedSources(out)
					return nil
				},
			},
			{
				Name:  "consumers",
				Usage: "Applications consuming data under the given data types",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "data-types", Required: true, Usage: "csv data type ids, subtree-expanded"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					eng, err := openEngine(ctx, c)
					if err != nil {
						return err
					}
					ids, err := parseIDList(c.String("data-types"))
					if err != nil {
						return err
					}
					out, err := eng.reports.ConsumersForDataTypes(ctx, ids)
					if err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printConsumers(out)
					return nil
				},
			},
		},
	}
}

func hierarchyCommand() *cli.Command {
	return &cli.Command{
		Name:  "hierarchy",
		Usage: "Hierarchy index commands",
		Commands: []*cli.Command{
			{
				Name:  "rebuild",
				Usage: "Regenerate one taxonomy's closure rows from its parent pointers",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "kind", Required: true, Usage: "ORG_UNIT or DATA_TYPE"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					eng, err := openEngine(ctx, c)
					if err != nil {
						return err
					}
					rows, err := eng.hierarchy.Rebuild(ctx, domain.EntityKind(c.String("kind")))
					if err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(map[string]any{"kind": c.String("kind"), "closure_rows": rows})
					}
					fmt.Printf("rebuilt %s hierarchy, %d closure rows\n", c.String("kind"), rows)
					return nil
				},
			},
		},
	}
}

func classificationsCommand() *cli.Command {
	return &cli.Command{
		Name:  "classifications",
		Usage: "Flow classification commands",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List classifications",
				Flags: []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "output raw JSON"}},
				Action: func(ctx context.Context, c *cli.Command) error {
					eng, err := openEngine(ctx, c)
					if err != nil {
						return err
					}
					out, err := eng.catalog.ListClassifications(ctx)
					if err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printClassifications(out)
					return nil
				},
			},
			{
				Name:  "create",
				Usage: "Create a classification",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "code", Required: true},
					&cli.StringFlag{Name: "name", Required: true},
					&cli.BoolFlag{Name: "positive"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					eng, err := openEngine(ctx, c)
					if err != nil {
						return err
					}
					out, err := eng.catalog.CreateClassification(ctx, domain.FlowClassification{
						Code:       c.String("code"),
						Name:       c.String("name"),
						IsPositive: c.Bool("positive"),
					})
					if err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printClassifications([]domain.FlowClassification{out})
					return nil
				},
			},
		},
	}
}

func changelogCommand() *cli.Command {
	return &cli.Command{
		Name:  "changelog",
		Usage: "List recent change log entries",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 50},
			&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			eng, err := openEngine(ctx, c)
			if err != nil {
				return err
			}
			out, err := eng.changeLog.List(ctx, int(c.Int("limit")))
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(out)
			}
			printChangeLog(out)
			return nil
		},
	}
}

func parseIDList(csv string) ([]int64, error) {
	parts := strings.Split(csv, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("empty id list")
	}
	return ids, nil
}

func jsonMarshal(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

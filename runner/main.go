// Command runner inspects the records of one data source through a gem mapper.
// The backend is chosen by the driver of a YAML configuration file:
//
//	runner --config users.yaml check
//	runner --config users.yaml put name=ada age=36
//	runner --config users.yaml get 1
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lemmego/gem"
	"github.com/lemmego/gem/gembun"
	"github.com/lemmego/gem/gemgorm"
	"github.com/lemmego/gem/gemmongo"
	"github.com/lemmego/gem/gemredis"
	"github.com/lemmego/gem/gems3"
)

// CLI defines the command-line interface
type CLI struct {
	Config    string        `short:"c" help:"Data source configuration file" type:"existingfile" required:""`
	LogLevel  string        `name:"log-level" help:"Log level" enum:"debug,info,warn,error" default:"warn"`
	LogFormat string        `name:"log-format" help:"Log format" enum:"text,json" default:"text"`
	Timeout   time.Duration `help:"Deadline for the whole command" default:"30s"`

	Check  CheckCmd  `cmd:"" help:"Check that the backend is reachable"`
	Get    GetCmd    `cmd:"" help:"Print a record as JSON"`
	Put    PutCmd    `cmd:"" help:"Insert a record, or update one with --id"`
	Delete DeleteCmd `cmd:"" help:"Delete a record"`
}

// App is bound to every command
type App struct {
	ctx    context.Context
	out    io.Writer
	source gem.Provider
	mapper *gem.Mapper
}

// CheckCmd reports backend health
type CheckCmd struct{}

func (c *CheckCmd) Run(app *App) error {
	info := app.source.ProviderInfo()
	if err := app.source.Health(); err != nil {
		return fmt.Errorf("%s unhealthy: %w", info.Name, err)
	}
	fmt.Fprintf(app.out, "%s (%s) ok\n", info.Name, info.DatabaseType)
	return nil
}

// GetCmd prints one record
type GetCmd struct {
	ID int64 `arg:"" help:"Record id"`
}

func (c *GetCmd) Run(app *App) error {
	e, err := app.load(c.ID)
	if err != nil {
		return err
	}
	values, err := e.Values()
	if err != nil {
		return err
	}
	doc := make(map[string]interface{}, len(values))
	for k, v := range values {
		doc[k] = v.Interface()
	}
	enc := json.NewEncoder(app.out)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// PutCmd writes field=value pairs
type PutCmd struct {
	ID     int64    `help:"Update this record instead of inserting"`
	Fields []string `arg:"" help:"field=value pairs"`
}

func (c *PutCmd) Run(app *App) error {
	fields, err := parseFields(c.Fields)
	if err != nil {
		return err
	}

	if c.ID == 0 {
		e := app.mapper.New()
		if err := e.SetData(fields); err != nil {
			return err
		}
		if err := app.mapper.Save(app.ctx, e); err != nil {
			return err
		}
		fmt.Fprintf(app.out, "inserted %d\n", e.ID())
		return nil
	}

	e, err := app.load(c.ID)
	if err != nil {
		return err
	}
	for k, v := range fields {
		if err := e.Set(k, v); err != nil {
			return err
		}
	}
	if err := app.mapper.Save(app.ctx, e); err != nil {
		return err
	}
	fmt.Fprintf(app.out, "updated %d\n", e.ID())
	return nil
}

// DeleteCmd removes one record
type DeleteCmd struct {
	ID int64 `arg:"" help:"Record id"`
}

func (c *DeleteCmd) Run(app *App) error {
	e, err := app.load(c.ID)
	if err != nil {
		return err
	}
	if err := e.SetToDeleted(); err != nil {
		return err
	}
	if err := app.mapper.Save(app.ctx, e); err != nil {
		return err
	}
	fmt.Fprintf(app.out, "deleted %d\n", c.ID)
	return nil
}

func (a *App) load(id int64) (*gem.Entity, error) {
	e, err := a.mapper.Find(id)
	if err != nil {
		return nil, err
	}
	if err := a.mapper.Load(a.ctx, e); err != nil {
		return nil, err
	}
	if e.IsDead() {
		return nil, gem.NewError(gem.ErrorTypeNotFound, fmt.Sprintf("%s %d not found", a.mapper.Name(), id))
	}
	return e, nil
}

// parseFields reads field=value pairs; values that parse as integers,
// floats or booleans keep that type
func parseFields(pairs []string) (map[string]interface{}, error) {
	fields := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, gem.NewError(gem.ErrorTypeInvalidArgument, fmt.Sprintf("expected field=value, got %q", pair))
		}
		if key == "id" {
			return nil, gem.NewError(gem.ErrorTypeInvalidArgument, "use --id to address a record")
		}
		fields[key] = parseScalar(raw)
	}
	return fields, nil
}

func parseScalar(raw string) interface{} {
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

// openSource picks the adapter for the configured driver. SQL drivers use
// gorm unless options.runner.orm is "bun".
func openSource(ctx context.Context, config gem.Config) (gem.Provider, error) {
	switch gem.NormalizeDriver(config.Driver) {
	case gem.DriverSQLite, gem.DriverMySQL, gem.DriverPostgres:
		if config.OptionString("runner", "orm", "gorm") == "bun" {
			return gembun.Open(config)
		}
		return gemgorm.Open(config)
	case gem.DriverMSSQL:
		return gemgorm.Open(config)
	case gem.DriverMongoDB:
		return gemmongo.Open(config)
	case gem.DriverRedis:
		return gemredis.Open(config)
	case gem.DriverS3:
		return gems3.Open(ctx, config)
	case gem.DriverMemory:
		return gem.NewMemorySource(), nil
	}
	return nil, gem.NewError(gem.ErrorTypeUnsupported, fmt.Sprintf("no adapter for driver %q", config.Driver))
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "info":
		slogLevel = slog.LevelInfo
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: slogLevel}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func run(args []string, stdout, stderr io.Writer) error {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("runner"),
		kong.Description("Inspect records of a gem data source"),
		kong.Writers(stdout, stderr),
		kong.UsageOnError(),
	)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	config, err := gem.LoadConfig(cli.Config)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cli.Timeout)
	defer cancel()

	source, err := openSource(ctx, config)
	if err != nil {
		return err
	}
	defer source.Close()

	logger := newLogger(stderr, cli.LogLevel, cli.LogFormat)
	schema := gem.Schema{Name: config.TableOr("records")}
	app := &App{
		ctx:    ctx,
		out:    stdout,
		source: source,
		mapper: gem.NewMapper(schema, source, gem.WithContext(ctx), gem.WithLogger(logger)),
	}
	return kctx.Run(app)
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "runner:", err)
		os.Exit(1)
	}
}

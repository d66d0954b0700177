package logging

import (
	"fmt"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eugenenazirov/minimal-api/internal/config"
	"github.com/eugenenazirov/minimal-api/internal/elastic"
)

// SinkKind names a log destination.
type SinkKind string

const (
	// SinkDebug writes human readable entries of every level to the debug stream (stderr).
	SinkDebug SinkKind = "debug"
	// SinkConsole writes JSON entries to stdout.
	SinkConsole SinkKind = "console"
	// SinkElasticsearch ships JSON documents to the configured cluster.
	SinkElasticsearch SinkKind = "elasticsearch"
)

// SinkConfig describes one entry of the ordered sink list the logger is built from.
// Level is the lowest level the sink accepts on top of the configured minimum levels.
type SinkConfig struct {
	Kind  SinkKind
	Level zapcore.Level
}

// DefaultSinks returns the sinks every logger writes to, in order.
func DefaultSinks() []SinkConfig {
	return []SinkConfig{
		{Kind: SinkDebug, Level: zapcore.DebugLevel},
		{Kind: SinkConsole, Level: zapcore.DebugLevel},
		{Kind: SinkElasticsearch, Level: zapcore.DebugLevel},
	}
}

// builtSink is a ready core plus the resources that need closing.
type builtSink struct {
	core    zapcore.Core
	elastic *elastic.Sink
}

type sinkEnv struct {
	cfg      config.Config
	index    string
	stdout   io.Writer
	stderr   io.Writer
	reporter *failureReporter
}

func buildSink(sc SinkConfig, env sinkEnv) (builtSink, error) {
	switch sc.Kind {
	case SinkDebug:
		enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		core := zapcore.NewCore(enc, streamSyncer(env.stderr), sc.Level)
		return builtSink{core: guard(core, string(sc.Kind), env.reporter)}, nil

	case SinkConsole:
		enc := zapcore.NewJSONEncoder(consoleEncoderConfig())
		core := zapcore.NewCore(enc, streamSyncer(env.stdout), sc.Level)
		return builtSink{core: guard(core, string(sc.Kind), env.reporter)}, nil

	case SinkElasticsearch:
		prefix := IndexPrefix(env.cfg.ApplicationName, env.cfg.Environment)
		sink, err := elastic.NewSink(elastic.Options{
			URI:                  env.cfg.Elastic.URI,
			Index:                env.index,
			AutoRegisterTemplate: env.cfg.Elastic.AutoRegisterTemplate,
			TemplateName:         prefix,
			TemplatePattern:      prefix + "-*",
			BatchSize:            env.cfg.Elastic.BatchSize,
			QueueSize:            env.cfg.Elastic.QueueSize,
			FlushInterval:        env.cfg.Elastic.FlushInterval,
			Timeout:              env.cfg.Elastic.Timeout,
			OnError:              env.reporter.reportFunc(string(sc.Kind)),
		})
		if err != nil {
			return builtSink{}, fmt.Errorf("configure elasticsearch sink: %w", err)
		}
		enc := zapcore.NewJSONEncoder(elasticEncoderConfig())
		core := zapcore.NewCore(enc, sink, sc.Level)
		return builtSink{core: guard(core, string(sc.Kind), env.reporter), elastic: sink}, nil
	}

	return builtSink{}, fmt.Errorf("unknown sink kind %q", sc.Kind)
}

// streamSyncer serializes writes to w and never fsyncs it.
func streamSyncer(w io.Writer) zapcore.WriteSyncer {
	return zapcore.Lock(zapcore.AddSync(struct{ io.Writer }{w}))
}

// consoleEncoderConfig is the production JSON layout used for stdout.
func consoleEncoderConfig() zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.StacktraceKey = "stacktrace"
	return enc
}

// elasticEncoderConfig lays out documents for the index template mappings.
func elasticEncoderConfig() zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "@timestamp"
	enc.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	enc.LevelKey = "level"
	enc.NameKey = "logger"
	enc.MessageKey = "message"
	enc.CallerKey = "caller"
	enc.StacktraceKey = "stacktrace"
	enc.LineEnding = zapcore.DefaultLineEnding
	return enc
}

// guardedCore isolates one sink: write failures and panics are reported and
// swallowed so the remaining sinks and the caller are unaffected. It also
// attaches structured details for error fields.
type guardedCore struct {
	zapcore.Core
	name     string
	reporter *failureReporter
}

func guard(core zapcore.Core, name string, reporter *failureReporter) zapcore.Core {
	return &guardedCore{Core: core, name: name, reporter: reporter}
}

func (c *guardedCore) With(fields []zapcore.Field) zapcore.Core {
	return &guardedCore{Core: c.Core.With(withErrorDetails(fields)), name: c.name, reporter: c.reporter}
}

func (c *guardedCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *guardedCore) Write(ent zapcore.Entry, fields []zapcore.Field) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.reporter.Report(c.name, fmt.Errorf("panic: %v", r))
		}
	}()

	if werr := c.Core.Write(ent, withErrorDetails(fields)); werr != nil {
		c.reporter.Report(c.name, werr)
	}
	return nil
}

func (c *guardedCore) Sync() error {
	if err := c.Core.Sync(); err != nil {
		c.reporter.Report(c.name, fmt.Errorf("sync: %w", err))
	}
	return nil
}

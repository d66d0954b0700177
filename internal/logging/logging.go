package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eugenenazirov/minimal-api/internal/config"
	"github.com/eugenenazirov/minimal-api/internal/elastic"
)

// Logger is the process-wide structured logger. It embeds the zap logger and
// owns the sinks that need an orderly shutdown.
type Logger struct {
	*zap.Logger

	factory *Factory
	index   string
	elastic *elastic.Sink
}

// Option configures New.
type Option func(*options)

type options struct {
	stdout      io.Writer
	stderr      io.Writer
	now         func() time.Time
	sinks       []SinkConfig
	reportRate  float64
	reportBurst int
}

// WithOutput redirects the console sink and the index diagnostic (stdout) and
// the debug sink and failure reports (stderr).
func WithOutput(stdout, stderr io.Writer) Option {
	return func(o *options) {
		o.stdout = stdout
		o.stderr = stderr
	}
}

// WithClock overrides the time source used to compute the index name.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithSinks replaces the default sink list.
func WithSinks(sinks ...SinkConfig) Option {
	return func(o *options) {
		o.sinks = sinks
	}
}

// New builds the logger described by cfg: enrichment, minimum levels, and one
// core per sink. It fails when the Elasticsearch URI is missing or malformed.
func New(cfg config.Config, opts ...Option) (*Logger, error) {
	o := options{
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		now:         time.Now,
		sinks:       DefaultSinks(),
		reportRate:  1,
		reportBurst: 5,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := config.ValidateElasticURI(cfg.Elastic.URI); err != nil {
		return nil, fmt.Errorf("configure elasticsearch sink: %w", err)
	}

	levels, err := newLevelTable(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("configure levels: %w", err)
	}

	index := IndexName(cfg.ApplicationName, cfg.Environment, o.now())
	_, _ = fmt.Fprintf(o.stdout, "Index format: %s\n", index)

	env := sinkEnv{
		cfg:      cfg,
		index:    index,
		stdout:   o.stdout,
		stderr:   o.stderr,
		reporter: newFailureReporter(o.stderr, o.reportRate, o.reportBurst),
	}

	l := &Logger{index: index}
	cores := make([]zapcore.Core, 0, len(o.sinks))
	for _, sc := range o.sinks {
		built, err := buildSink(sc, env)
		if err != nil {
			l.closeSinks()
			return nil, err
		}
		cores = append(cores, built.core)
		if built.elastic != nil {
			l.elastic = built.elastic
		}
	}

	core := newLevelFilterCore(zapcore.NewTee(cores...), levels)
	l.Logger = zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.ErrorOutput(streamSyncer(o.stderr)),
	).With(zap.String("Environment", cfg.Environment))
	l.factory = NewFactory(l.Logger)

	return l, nil
}

// Factory returns the factory handlers obtain named loggers from.
func (l *Logger) Factory() *Factory {
	return l.factory
}

// IndexName returns the Elasticsearch index computed at startup.
func (l *Logger) IndexName() string {
	return l.index
}

// Close flushes every sink and stops the Elasticsearch worker, bounded by ctx.
func (l *Logger) Close(ctx context.Context) error {
	var errs []error
	if l.Logger != nil {
		// stdout/stderr never fail to sync; the elasticsearch core reports its own failures
		_ = l.Logger.Sync()
	}
	if l.elastic != nil {
		if err := l.elastic.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close elasticsearch sink: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (l *Logger) closeSinks() {
	if l.elastic == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = l.elastic.Close(ctx)
}

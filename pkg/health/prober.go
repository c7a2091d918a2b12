package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/neonlink/pkg/engine"
	"github.com/openfroyo/neonlink/pkg/telemetry"
)

const (
	// DefaultTimeout bounds a single probe.
	DefaultTimeout = 5 * time.Second

	// DefaultConcurrency bounds the number of probes in flight.
	DefaultConcurrency = 8
)

// Pinger opens a connection to uri and verifies it answers.
type Pinger interface {
	Ping(ctx context.Context, uri string) error
}

// PgxPinger pings with a fresh pgx connection per call.
type PgxPinger struct{}

// Ping connects to uri, pings and closes the connection.
func (PgxPinger) Ping(ctx context.Context, uri string) error {
	conn, err := pgx.Connect(ctx, uri)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.WithoutCancel(ctx))

	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Result is the outcome of probing one resource.
type Result struct {
	Project  string
	Database string // empty for the project itself
	Host     string
	Skipped  bool // no connection URI bound yet
	Latency  time.Duration
	Err      error
}

// Healthy reports whether the resource answered.
func (r Result) Healthy() bool {
	return !r.Skipped && r.Err == nil
}

// Resource names the probed resource as project or project/database.
func (r Result) Resource() string {
	if r.Database == "" {
		return r.Project
	}
	return r.Project + "/" + r.Database
}

// Config configures a Prober.
type Config struct {
	Timeout     time.Duration
	Concurrency int
	Pinger      Pinger
}

// Prober probes the connection URIs of project and database resources.
type Prober struct {
	timeout     time.Duration
	concurrency int
	pinger      Pinger
	logger      *telemetry.Logger
	metrics     *telemetry.Metrics
}

// NewProber creates a prober. Zero config values take the defaults; tel
// may be nil.
func NewProber(cfg Config, tel *telemetry.Telemetry) *Prober {
	p := &Prober{
		timeout:     cfg.Timeout,
		concurrency: cfg.Concurrency,
		pinger:      cfg.Pinger,
		logger:      telemetry.NewNopLogger(),
	}
	if p.timeout <= 0 {
		p.timeout = DefaultTimeout
	}
	if p.concurrency <= 0 {
		p.concurrency = DefaultConcurrency
	}
	if p.pinger == nil {
		p.pinger = PgxPinger{}
	}
	if tel != nil {
		p.logger = tel.Logger.NewComponentLogger("health")
		p.metrics = tel.Metrics
	}
	return p
}

type target struct {
	project  string
	database string
	host     string
	uri      string
}

// Probe pings every bound project and database. Results come back in
// project order, each project followed by its databases. Failed pings are
// reported in the results; the returned error is only ctx's.
func (p *Prober) Probe(ctx context.Context, projects []*engine.ProjectResource) ([]Result, error) {
	var targets []target
	for _, project := range projects {
		conn := project.Connection()
		targets = append(targets, target{
			project: project.Name(),
			host:    conn.Host,
			uri:     conn.ConnectionURI,
		})
		for _, db := range project.Databases() {
			dbConn := db.Connection()
			targets = append(targets, target{
				project:  project.Name(),
				database: db.Name(),
				host:     dbConn.Host,
				uri:      dbConn.ConnectionURI,
			})
		}
	}

	results := make([]Result, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i, t := range targets {
		results[i] = Result{Project: t.project, Database: t.database, Host: t.host}
		if t.uri == "" {
			results[i].Skipped = true
			continue
		}
		g.Go(func() error {
			results[i] = p.probe(gctx, t)
			return gctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (p *Prober) probe(ctx context.Context, t target) Result {
	res := Result{Project: t.project, Database: t.database, Host: t.host}

	pctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	timer := telemetry.NewTimer()
	err := p.pinger.Ping(pctx, t.uri)
	res.Latency = timer.Duration()
	p.metrics.RecordProbe(res.Latency, err)

	if err != nil {
		if errors.Is(pctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("no answer within %s: %w", p.timeout, err)
		}
		res.Err = err
		p.logger.WithProject(t.project).WithError(err).Warnf("%s unreachable at %s", res.Resource(), t.host)
		return res
	}

	p.logger.WithProject(t.project).Debugf("%s answered in %s", res.Resource(), res.Latency)
	return res
}

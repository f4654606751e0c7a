package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/care-analytics-service/internal/observability/metrics"
)

const (
	queryPatientsByStatus = `SELECT status, COUNT(*) AS count FROM patients GROUP BY status ORDER BY status`
	queryVisitsByStatus   = `SELECT status, COUNT(*) AS count FROM visits GROUP BY status ORDER BY status`
	queryTotalPatients    = `SELECT COUNT(*) FROM patients`
	queryTotalVisits      = `SELECT COUNT(*) FROM visits`
	queryCriticalPatients = `SELECT COUNT(*) FROM patients WHERE status = $1`
	queryTodayVisits      = `SELECT COUNT(*) FROM visits WHERE scheduled_time >= $1 AND scheduled_time < $2`
)

// snapshotTxOptions gives composite reads one consistent view of both tables.
var snapshotTxOptions = pgx.TxOptions{
	IsoLevel:   pgx.RepeatableRead,
	AccessMode: pgx.ReadOnly,
}

// querier is satisfied by pgxpool.Pool, pgx.Tx and pgxmock.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// relationalDB defines the database interface needed by PatientVisitRepository
type relationalDB interface {
	querier
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// PatientVisitRepository computes counts over the patients and visits tables.
type PatientVisitRepository struct {
	db      relationalDB
	clock   Clock
	loc     *time.Location
	metrics *metrics.AnalyticsMetrics
	tracer  trace.Tracer
}

// NewPatientVisitRepository creates a repository backed by a pgx pool.
func NewPatientVisitRepository(pool *pgxpool.Pool) *PatientVisitRepository {
	if pool == nil {
		panic("analytics: pgx pool required for patient/visit aggregates")
	}
	return NewPatientVisitRepositoryWithDB(pool)
}

// NewPatientVisitRepositoryWithDB allows injecting a mock database for testing.
func NewPatientVisitRepositoryWithDB(db relationalDB) *PatientVisitRepository {
	return &PatientVisitRepository{
		db:     db,
		clock:  time.Now,
		loc:    time.UTC,
		tracer: otel.Tracer("care-analytics.internal.analytics.relational"),
	}
}

// WithClock overrides the time source used for the today window.
func (r *PatientVisitRepository) WithClock(clock Clock) *PatientVisitRepository {
	if clock != nil {
		r.clock = clock
	}
	return r
}

// WithLocation sets the timezone whose calendar day is "today".
func (r *PatientVisitRepository) WithLocation(loc *time.Location) *PatientVisitRepository {
	if loc != nil {
		r.loc = loc
	}
	return r
}

// WithMetrics records query outcomes and latency.
func (r *PatientVisitRepository) WithMetrics(m *metrics.AnalyticsMetrics) *PatientVisitRepository {
	r.metrics = m
	return r
}

// Ping checks that a connection can be acquired.
func (r *PatientVisitRepository) Ping(ctx context.Context) error {
	return classifyRelational("ping", r.db.Ping(ctx))
}

// PatientsByStatus groups all patients by status.
func (r *PatientVisitRepository) PatientsByStatus(ctx context.Context) ([]StatusCount, error) {
	var out []StatusCount
	err := r.run(ctx, "patients_by_status", func(ctx context.Context) error {
		var err error
		out, err = groupCounts(ctx, r.db, queryPatientsByStatus)
		return err
	})
	return out, err
}

// VisitsByStatus groups all visits by status.
func (r *PatientVisitRepository) VisitsByStatus(ctx context.Context) ([]StatusCount, error) {
	var out []StatusCount
	err := r.run(ctx, "visits_by_status", func(ctx context.Context) error {
		var err error
		out, err = groupCounts(ctx, r.db, queryVisitsByStatus)
		return err
	})
	return out, err
}

// CriticalPatientCount counts patients whose status is exactly "Critical".
func (r *PatientVisitRepository) CriticalPatientCount(ctx context.Context) (int64, error) {
	var n int64
	err := r.run(ctx, "critical_patients", func(ctx context.Context) error {
		var err error
		n, err = scalar(ctx, r.db, queryCriticalPatients, CriticalStatus)
		return err
	})
	return n, err
}

// TotalPatients counts every patient row.
func (r *PatientVisitRepository) TotalPatients(ctx context.Context) (int64, error) {
	var n int64
	err := r.run(ctx, "total_patients", func(ctx context.Context) error {
		var err error
		n, err = scalar(ctx, r.db, queryTotalPatients)
		return err
	})
	return n, err
}

// TotalVisits counts every visit row.
func (r *PatientVisitRepository) TotalVisits(ctx context.Context) (int64, error) {
	var n int64
	err := r.run(ctx, "total_visits", func(ctx context.Context) error {
		var err error
		n, err = scalar(ctx, r.db, queryTotalVisits)
		return err
	})
	return n, err
}

// TodayVisitCount counts visits scheduled inside today's day window.
func (r *PatientVisitRepository) TodayVisitCount(ctx context.Context) (int64, error) {
	window := r.today()
	var n int64
	err := r.run(ctx, "today_visits", func(ctx context.Context) error {
		var err error
		n, err = scalar(ctx, r.db, queryTodayVisits, window.Start, window.End)
		return err
	})
	return n, err
}

// PerformanceSnapshot returns the four headline counts read from one snapshot.
func (r *PatientVisitRepository) PerformanceSnapshot(ctx context.Context) (*Performance, error) {
	var out *Performance
	err := r.run(ctx, "performance_snapshot", func(ctx context.Context) error {
		return r.inSnapshot(ctx, func(q querier) error {
			p, err := r.performance(ctx, q)
			out = p
			return err
		})
	})
	return out, err
}

// DashboardSnapshot returns the performance counts plus both status
// groupings, all read from one snapshot. Any failing query fails the whole
// dashboard.
func (r *PatientVisitRepository) DashboardSnapshot(ctx context.Context) (*Dashboard, error) {
	var out *Dashboard
	err := r.run(ctx, "dashboard_snapshot", func(ctx context.Context) error {
		return r.inSnapshot(ctx, func(q querier) error {
			p, err := r.performance(ctx, q)
			if err != nil {
				return err
			}
			patients, err := groupCounts(ctx, q, queryPatientsByStatus)
			if err != nil {
				return fmt.Errorf("patients by status: %w", err)
			}
			visits, err := groupCounts(ctx, q, queryVisitsByStatus)
			if err != nil {
				return fmt.Errorf("visits by status: %w", err)
			}
			out = &Dashboard{
				Overview:         OverviewFrom(*p),
				PatientsByStatus: patients,
				VisitsByStatus:   visits,
			}
			return nil
		})
	})
	return out, err
}

func (r *PatientVisitRepository) performance(ctx context.Context, q querier) (*Performance, error) {
	window := r.today()
	p := &Performance{}
	var err error
	if p.Patients, err = scalar(ctx, q, queryTotalPatients); err != nil {
		return nil, fmt.Errorf("total patients: %w", err)
	}
	if p.Visits, err = scalar(ctx, q, queryTotalVisits); err != nil {
		return nil, fmt.Errorf("total visits: %w", err)
	}
	if p.TodayVisits, err = scalar(ctx, q, queryTodayVisits, window.Start, window.End); err != nil {
		return nil, fmt.Errorf("today visits: %w", err)
	}
	if p.CriticalPatients, err = scalar(ctx, q, queryCriticalPatients, CriticalStatus); err != nil {
		return nil, fmt.Errorf("critical patients: %w", err)
	}
	return p, nil
}

// inSnapshot runs fn inside a read-only repeatable-read transaction. The
// transaction is rolled back when fn fails and committed otherwise.
func (r *PatientVisitRepository) inSnapshot(ctx context.Context, fn func(q querier) error) error {
	tx, err := r.db.BeginTx(ctx, snapshotTxOptions)
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

func (r *PatientVisitRepository) today() DayWindow {
	return DayWindowAt(r.clock(), r.loc)
}

func (r *PatientVisitRepository) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := r.tracer.Start(ctx, "analytics.relational."+op,
		trace.WithAttributes(attribute.String("analytics.store", StoreRelational)))
	defer span.End()

	start := time.Now()
	err := classifyRelational(op, fn(ctx))
	r.metrics.ObserveQuery(StoreRelational, op, outcome(err), time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op)
	}
	return err
}

func scalar(ctx context.Context, q querier, sql string, args ...any) (int64, error) {
	var n int64
	if err := q.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// groupCounts reads (status, count) rows. An empty table yields an empty,
// non-nil slice.
func groupCounts(ctx context.Context, q querier, sql string) ([]StatusCount, error) {
	rows, err := q.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]StatusCount, 0)
	for rows.Next() {
		var sc StatusCount
		if err := rows.Scan(&sc.Status, &sc.Count); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

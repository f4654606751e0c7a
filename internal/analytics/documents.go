package analytics

import (
	"context"
	"math"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/care-analytics-service/internal/observability/metrics"
)

// visitCollection is the subset of *mongo.Collection the store needs.
type visitCollection interface {
	Aggregate(ctx context.Context, pipeline interface{}, opts ...*options.AggregateOptions) (*mongo.Cursor, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

// VisitDocumentStore computes per-staff task statistics from visit documents.
// A nil store behaves as an unreachable one.
type VisitDocumentStore struct {
	coll    visitCollection
	ping    func(ctx context.Context) error
	clock   Clock
	loc     *time.Location
	metrics *metrics.AnalyticsMetrics
	tracer  trace.Tracer
}

// NewVisitDocumentStore reads visits from db.collection through client.
func NewVisitDocumentStore(client *mongo.Client, database, collection string) *VisitDocumentStore {
	if client == nil {
		panic("analytics: mongo client required for visit documents")
	}
	s := NewVisitDocumentStoreWithCollection(client.Database(database).Collection(collection))
	s.ping = func(ctx context.Context) error {
		return client.Ping(ctx, readpref.Primary())
	}
	return s
}

// NewVisitDocumentStoreWithCollection allows injecting a fake collection for testing.
func NewVisitDocumentStoreWithCollection(coll visitCollection) *VisitDocumentStore {
	return &VisitDocumentStore{
		coll:   coll,
		clock:  time.Now,
		loc:    time.UTC,
		tracer: otel.Tracer("care-analytics.internal.analytics.documents"),
	}
}

// WithClock overrides the time source used for the today window.
func (s *VisitDocumentStore) WithClock(clock Clock) *VisitDocumentStore {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// WithLocation sets the timezone whose calendar day is "today".
func (s *VisitDocumentStore) WithLocation(loc *time.Location) *VisitDocumentStore {
	if loc != nil {
		s.loc = loc
	}
	return s
}

// WithMetrics records query outcomes and latency.
func (s *VisitDocumentStore) WithMetrics(m *metrics.AnalyticsMetrics) *VisitDocumentStore {
	s.metrics = m
	return s
}

// Ping checks that the document store answers.
func (s *VisitDocumentStore) Ping(ctx context.Context) error {
	if s == nil || s.coll == nil {
		return unavailable(StoreDocument, "ping", nil)
	}
	if s.ping == nil {
		return nil
	}
	return classifyDocument("ping", s.ping(ctx))
}

// StaffTasksToday tallies the embedded tasks of every visit assigned to
// staffID today.
func (s *VisitDocumentStore) StaffTasksToday(ctx context.Context, staffID string) (*TaskStats, error) {
	const op = "staff_tasks_today"
	if s == nil || s.coll == nil {
		return nil, unavailable(StoreDocument, op, nil)
	}

	window := DayWindowAt(s.clock(), s.loc)
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: staffDayFilter(staffID, window)}},
		{{Key: "$project", Value: bson.D{
			{Key: "taskCompletions", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$taskCompletions", bson.A{}}}}},
		}}},
	}

	var stats TaskStats
	err := s.run(ctx, op, func(ctx context.Context) error {
		cursor, err := s.coll.Aggregate(ctx, pipeline)
		if err != nil {
			return err
		}
		defer cursor.Close(ctx)

		var visits [][]TaskCompletion
		for cursor.Next(ctx) {
			var doc struct {
				TaskCompletions []TaskCompletion `bson:"taskCompletions"`
			}
			if err := cursor.Decode(&doc); err != nil {
				return err
			}
			visits = append(visits, doc.TaskCompletions)
		}
		if err := cursor.Err(); err != nil {
			return err
		}
		stats = ComputeTaskStats(visits)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// StaffVisitsToday lists today's visits for staffID in scheduled order, each
// with its full task list.
func (s *VisitDocumentStore) StaffVisitsToday(ctx context.Context, staffID string) ([]Visit, error) {
	const op = "staff_visits_today"
	if s == nil || s.coll == nil {
		return nil, unavailable(StoreDocument, op, nil)
	}

	window := DayWindowAt(s.clock(), s.loc)
	opts := options.Find().
		SetSort(bson.D{{Key: "scheduledTime", Value: 1}}).
		SetProjection(bson.D{
			{Key: "_id", Value: 1},
			{Key: "patientName", Value: 1},
			{Key: "scheduledTime", Value: 1},
			{Key: "status", Value: 1},
			{Key: "visitType", Value: 1},
			{Key: "taskCompletions", Value: 1},
		})

	out := make([]Visit, 0)
	err := s.run(ctx, op, func(ctx context.Context) error {
		cursor, err := s.coll.Find(ctx, staffDayFilter(staffID, window), opts)
		if err != nil {
			return err
		}
		var docs []visitDocument
		if err := cursor.All(ctx, &docs); err != nil {
			return err
		}
		for _, doc := range docs {
			tasks := doc.TaskCompletions
			if tasks == nil {
				tasks = []TaskCompletion{}
			}
			out = append(out, Visit{
				ID:              renderID(doc.ID),
				PatientName:     doc.PatientName,
				ScheduledTime:   doc.ScheduledTime.UTC(),
				Status:          doc.Status,
				VisitType:       doc.VisitType,
				TaskCompletions: tasks,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ComputeTaskStats makes one counting pass over the tasks of every visit.
// TotalVisits counts visits, not tasks.
func ComputeTaskStats(visits [][]TaskCompletion) TaskStats {
	stats := TaskStats{TotalVisits: len(visits)}
	for _, tasks := range visits {
		for _, task := range tasks {
			stats.TotalTasks++
			if task.Completed {
				stats.CompletedTasks++
				continue
			}
			stats.PendingTasks++
			if task.Priority == HighPriority {
				stats.HighPriorityPending++
			}
		}
	}
	stats.CompletionRate = CompletionRate(stats.CompletedTasks, stats.TotalTasks)
	return stats
}

// CompletionRate is completed/total as a percentage rounded to one decimal
// place with ties to even, or 0 when there are no tasks.
func CompletionRate(completed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.RoundToEven(float64(completed)/float64(total)*1000) / 10
}

// staffDayFilter matches documents assigned to staffID under either staff
// field and scheduled inside window.
func staffDayFilter(staffID string, window DayWindow) bson.M {
	return bson.M{
		"$or": bson.A{
			bson.M{"nurseId": staffID},
			bson.M{"assignedStaffId": staffID},
		},
		"scheduledTime": bson.M{
			"$gte": window.Start,
			"$lt":  window.End,
		},
	}
}

func renderID(v bson.RawValue) string {
	switch v.Type {
	case bson.TypeObjectID:
		return v.ObjectID().Hex()
	case bson.TypeString:
		return v.StringValue()
	case bson.TypeInt32:
		return strconv.FormatInt(int64(v.Int32()), 10)
	case bson.TypeInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case 0:
		return ""
	default:
		return v.String()
	}
}

func (s *VisitDocumentStore) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "analytics.documents."+op,
		trace.WithAttributes(attribute.String("analytics.store", StoreDocument)))
	defer span.End()

	start := time.Now()
	err := classifyDocument(op, fn(ctx))
	s.metrics.ObserveQuery(StoreDocument, op, outcome(err), time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op)
	}
	return err
}

package analytics

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/topology"
)

// fakeVisitCollection returns canned documents and records what it was asked.
type fakeVisitCollection struct {
	docs     []interface{}
	err      error
	pipeline interface{}
	filter   interface{}
	findOpts []*options.FindOptions
}

func (f *fakeVisitCollection) Aggregate(_ context.Context, pipeline interface{}, _ ...*options.AggregateOptions) (*mongo.Cursor, error) {
	f.pipeline = pipeline
	if f.err != nil {
		return nil, f.err
	}
	return mongo.NewCursorFromDocuments(f.docs, nil, nil)
}

func (f *fakeVisitCollection) Find(_ context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error) {
	f.filter = filter
	f.findOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return mongo.NewCursorFromDocuments(f.docs, nil, nil)
}

func task(title string, completed bool, priority string) bson.M {
	return bson.M{"taskTitle": title, "completed": completed, "priority": priority, "taskCategory": "care"}
}

func TestStaffTasksToday(t *testing.T) {
	coll := &fakeVisitCollection{docs: []interface{}{
		bson.M{"_id": primitive.NewObjectID(), "taskCompletions": bson.A{
			task("Administer medication", true, "high"),
			task("Check vitals", false, "high"),
		}},
	}}
	store := NewVisitDocumentStoreWithCollection(coll).WithClock(fixedClock)

	got, err := store.StaffTasksToday(context.Background(), "N1")
	require.NoError(t, err)
	assert.Equal(t, &TaskStats{
		TotalTasks:          2,
		CompletedTasks:      1,
		PendingTasks:        1,
		HighPriorityPending: 1,
		TotalVisits:         1,
		CompletionRate:      50.0,
	}, got)

	pipeline, ok := coll.pipeline.(mongo.Pipeline)
	require.True(t, ok)
	require.Len(t, pipeline, 2)
	assert.Equal(t, "$match", pipeline[0][0].Key)
	assert.Equal(t, staffDayFilter("N1", DayWindowAt(fixedNow, time.UTC)), pipeline[0][0].Value)
	assert.Equal(t, "$project", pipeline[1][0].Key)
}

func TestStaffTasksToday_CountsVisitsNotTasks(t *testing.T) {
	coll := &fakeVisitCollection{docs: []interface{}{
		bson.M{"_id": "v1", "taskCompletions": bson.A{task("a", true, "low"), task("b", true, "low"), task("c", false, "low")}},
		bson.M{"_id": "v2", "taskCompletions": bson.A{}},
		bson.M{"_id": "v3", "taskCompletions": bson.A{task("d", false, "High")}},
	}}
	store := NewVisitDocumentStoreWithCollection(coll).WithClock(fixedClock)

	got, err := store.StaffTasksToday(context.Background(), "N2")
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalVisits)
	assert.Equal(t, 4, got.TotalTasks)
	assert.Equal(t, 2, got.CompletedTasks)
	assert.Equal(t, 2, got.PendingTasks)
	assert.Equal(t, 0, got.HighPriorityPending, "priority match is case-sensitive")
	assert.Equal(t, 50.0, got.CompletionRate)
}

func TestStaffTasksToday_NoDocuments(t *testing.T) {
	store := NewVisitDocumentStoreWithCollection(&fakeVisitCollection{}).WithClock(fixedClock)

	got, err := store.StaffTasksToday(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, &TaskStats{}, got)
}

func TestStaffTasksToday_Unreachable(t *testing.T) {
	store := NewVisitDocumentStoreWithCollection(&fakeVisitCollection{err: mongo.ErrClientDisconnected})

	got, err := store.StaffTasksToday(context.Background(), "N1")
	require.Error(t, err)
	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, "document store not available", PublicMessage(err))
}

func TestStaffTasksToday_ServerSelectionDeadlineIsUnavailable(t *testing.T) {
	selectionErr := topology.ServerSelectionError{Wrapped: context.DeadlineExceeded}
	store := NewVisitDocumentStoreWithCollection(&fakeVisitCollection{err: selectionErr})

	_, err := store.StaffVisitsToday(context.Background(), "N1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, "document store not available", PublicMessage(err))
}

func TestStaffTasksToday_RecoversWhenStoreReturns(t *testing.T) {
	coll := &fakeVisitCollection{err: topology.ServerSelectionError{Wrapped: topology.ErrServerSelectionTimeout}}
	store := NewVisitDocumentStoreWithCollection(coll).WithClock(fixedClock)

	_, err := store.StaffTasksToday(context.Background(), "N1")
	require.ErrorIs(t, err, ErrStoreUnavailable)

	coll.err = nil
	coll.docs = []interface{}{
		bson.M{"_id": "v1", "taskCompletions": bson.A{task("Check vitals", true, "high")}},
	}
	got, err := store.StaffTasksToday(context.Background(), "N1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.CompletedTasks)
	assert.Equal(t, 100.0, got.CompletionRate)
}

func TestStaffTasksToday_QueryError(t *testing.T) {
	store := NewVisitDocumentStoreWithCollection(&fakeVisitCollection{err: errors.New("unknown operator: $ifNul")})

	_, err := store.StaffTasksToday(context.Background(), "N1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuery)
	assert.NotErrorIs(t, err, ErrStoreUnavailable)
}

func TestNilStoreIsUnavailable(t *testing.T) {
	var store *VisitDocumentStore
	ctx := context.Background()

	_, err := store.StaffTasksToday(ctx, "N1")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	_, err = store.StaffVisitsToday(ctx, "N1")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, store.Ping(ctx), ErrStoreUnavailable)
}

func TestStaffVisitsToday(t *testing.T) {
	oid := primitive.NewObjectID()
	morning := time.Date(2025, 6, 12, 9, 0, 0, 0, time.UTC)
	afternoon := time.Date(2025, 6, 12, 14, 0, 0, 0, time.UTC)
	coll := &fakeVisitCollection{docs: []interface{}{
		bson.M{
			"_id":           oid,
			"patientName":   "Ada Moss",
			"scheduledTime": morning,
			"status":        "completed",
			"visitType":     "routine",
			"taskCompletions": bson.A{
				task("Check vitals", true, "high"),
				task("Update chart", false, "low"),
			},
		},
		bson.M{
			"_id":           "legacy-17",
			"patientName":   "Bert Lane",
			"scheduledTime": afternoon,
			"status":        "scheduled",
			"visitType":     "wound care",
		},
	}}
	store := NewVisitDocumentStoreWithCollection(coll).WithClock(fixedClock)

	got, err := store.StaffVisitsToday(context.Background(), "N1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, oid.Hex(), got[0].ID)
	assert.Equal(t, "Ada Moss", got[0].PatientName)
	assert.True(t, morning.Equal(got[0].ScheduledTime))
	assert.Equal(t, "routine", got[0].VisitType)
	assert.Equal(t, []TaskCompletion{
		{TaskTitle: "Check vitals", Completed: true, Priority: "high", TaskCategory: "care"},
		{TaskTitle: "Update chart", Completed: false, Priority: "low", TaskCategory: "care"},
	}, got[0].TaskCompletions)

	assert.Equal(t, "legacy-17", got[1].ID)
	assert.NotNil(t, got[1].TaskCompletions)
	assert.Empty(t, got[1].TaskCompletions)

	assert.Equal(t, staffDayFilter("N1", DayWindowAt(fixedNow, time.UTC)), coll.filter)
	require.Len(t, coll.findOpts, 1)
	assert.Equal(t, bson.D{{Key: "scheduledTime", Value: 1}}, coll.findOpts[0].Sort)
}

func TestStaffVisitsToday_NoDocuments(t *testing.T) {
	store := NewVisitDocumentStoreWithCollection(&fakeVisitCollection{})

	got, err := store.StaffVisitsToday(context.Background(), "N1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestStaffDayFilter(t *testing.T) {
	window := DayWindowAt(fixedNow, time.UTC)
	filter := staffDayFilter("N7", window)

	assert.Equal(t, bson.A{bson.M{"nurseId": "N7"}, bson.M{"assignedStaffId": "N7"}}, filter["$or"])
	assert.Equal(t, bson.M{"$gte": window.Start, "$lt": window.End}, filter["scheduledTime"])
}

func TestComputeTaskStatsCountsAreConsistent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	priorities := []string{"high", "low", "medium", "High"}
	for i := 0; i < 200; i++ {
		visits := make([][]TaskCompletion, rng.Intn(5))
		for v := range visits {
			tasks := make([]TaskCompletion, rng.Intn(6))
			for k := range tasks {
				tasks[k] = TaskCompletion{Completed: rng.Intn(2) == 0, Priority: priorities[rng.Intn(len(priorities))]}
			}
			visits[v] = tasks
		}

		stats := ComputeTaskStats(visits)
		assert.Equal(t, stats.TotalTasks, stats.CompletedTasks+stats.PendingTasks)
		assert.LessOrEqual(t, stats.HighPriorityPending, stats.PendingTasks)
		assert.Equal(t, len(visits), stats.TotalVisits)
		assert.GreaterOrEqual(t, stats.CompletionRate, 0.0)
		assert.LessOrEqual(t, stats.CompletionRate, 100.0)
		if stats.TotalTasks == 0 {
			assert.Equal(t, 0.0, stats.CompletionRate)
		}
	}
}

func TestCompletionRate(t *testing.T) {
	tests := []struct {
		completed, total int
		want             float64
	}{
		{0, 0, 0},
		{1, 2, 50},
		{1, 3, 33.3},
		{2, 3, 66.7},
		{3, 3, 100},
		{0, 7, 0},
		{1, 16, 6.2},
		{3, 16, 18.8},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CompletionRate(tt.completed, tt.total), "%d/%d", tt.completed, tt.total)
	}
}

func TestRenderID(t *testing.T) {
	oid := primitive.NewObjectID()
	tests := []struct {
		name string
		doc  bson.M
		want string
	}{
		{"object id", bson.M{"_id": oid}, oid.Hex()},
		{"string", bson.M{"_id": "visit-1"}, "visit-1"},
		{"int32", bson.M{"_id": int32(42)}, "42"},
		{"int64", bson.M{"_id": int64(9000000000)}, "9000000000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := bson.Marshal(tt.doc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, renderID(bson.Raw(raw).Lookup("_id")))
		})
	}
	assert.Equal(t, "", renderID(bson.RawValue{}))
}

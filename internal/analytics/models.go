package analytics

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// CriticalStatus is the patient status counted by CriticalPatientCount.
// Matching is exact and case-sensitive.
const CriticalStatus = "Critical"

// HighPriority is the task priority counted in TaskStats.HighPriorityPending.
const HighPriority = "high"

// StatusCount is one row of a grouped count.
type StatusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// CriticalPatients is the payload of the critical patients endpoint.
type CriticalPatients struct {
	CriticalPatients int64 `json:"critical_patients"`
}

// Performance is the daily performance snapshot.
type Performance struct {
	Patients         int64 `json:"patients"`
	Visits           int64 `json:"visits"`
	TodayVisits      int64 `json:"today_visits"`
	CriticalPatients int64 `json:"critical_patients"`
}

// Overview carries the same four counts as Performance under the dashboard's
// field names.
type Overview struct {
	TotalPatients    int64 `json:"total_patients"`
	TotalVisits      int64 `json:"total_visits"`
	TodayVisits      int64 `json:"today_visits"`
	CriticalPatients int64 `json:"critical_patients"`
}

// OverviewFrom converts a performance snapshot to dashboard field names.
func OverviewFrom(p Performance) Overview {
	return Overview{
		TotalPatients:    p.Patients,
		TotalVisits:      p.Visits,
		TodayVisits:      p.TodayVisits,
		CriticalPatients: p.CriticalPatients,
	}
}

// Dashboard is the dashboard stats payload.
type Dashboard struct {
	Overview         Overview      `json:"overview"`
	PatientsByStatus []StatusCount `json:"patients_by_status"`
	VisitsByStatus   []StatusCount `json:"visits_by_status"`
}

// TaskCompletion is one embedded task record of a visit document.
type TaskCompletion struct {
	TaskTitle    string `bson:"taskTitle" json:"taskTitle"`
	Completed    bool   `bson:"completed" json:"completed"`
	Priority     string `bson:"priority" json:"priority"`
	TaskCategory string `bson:"taskCategory" json:"taskCategory"`
}

// TaskStats summarises a staff member's tasks for one day.
type TaskStats struct {
	TotalTasks          int     `json:"totalTasks"`
	CompletedTasks      int     `json:"completedTasks"`
	PendingTasks        int     `json:"pendingTasks"`
	HighPriorityPending int     `json:"highPriorityPending"`
	TotalVisits         int     `json:"totalVisits"`
	CompletionRate      float64 `json:"completionRate"`
}

// visitDocument is the stored shape of a visit. Only the projected fields are
// decoded.
type visitDocument struct {
	ID              bson.RawValue    `bson:"_id"`
	PatientName     string           `bson:"patientName"`
	ScheduledTime   time.Time        `bson:"scheduledTime"`
	Status          string           `bson:"status"`
	VisitType       string           `bson:"visitType"`
	TaskCompletions []TaskCompletion `bson:"taskCompletions"`
}

// Visit is a visit document projected for the staff visits endpoint.
type Visit struct {
	ID              string           `json:"_id"`
	PatientName     string           `json:"patientName"`
	ScheduledTime   time.Time        `json:"scheduledTime"`
	Status          string           `json:"status"`
	VisitType       string           `json:"visitType"`
	TaskCompletions []TaskCompletion `json:"taskCompletions"`
}

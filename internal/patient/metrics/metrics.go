package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts patient lifecycle outcomes.
type Metrics struct {
	PatientsCreated prometheus.Counter
	SyncFailures    prometheus.Counter
	PatientsDeleted prometheus.Counter
	PatientsCopied  prometheus.Counter
	MergesDegraded  prometheus.Counter
	MergedRecords   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PatientsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "patientsync_patients_created_total",
			Help: "Patients created in the local store",
		}),
		SyncFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "patientsync_patient_sync_failures_total",
			Help: "Local creates the registry did not accept",
		}),
		PatientsDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "patientsync_patients_deleted_total",
			Help: "Patients deleted from the local store",
		}),
		PatientsCopied: f.NewCounter(prometheus.CounterOpts{
			Name: "patientsync_patients_copied_total",
			Help: "Registry patients copied into the local store",
		}),
		MergesDegraded: f.NewCounter(prometheus.CounterOpts{
			Name: "patientsync_merges_degraded_total",
			Help: "Merged listings served without registry records",
		}),
		MergedRecords: f.NewCounterVec(prometheus.CounterOpts{
			Name: "patientsync_merged_records_total",
			Help: "Records emitted by the merge engine, by provenance",
		}, []string{"source"}),
	}
}

func (m *Metrics) IncrementCreated() {
	m.PatientsCreated.Inc()
}

func (m *Metrics) IncrementSyncFailure() {
	m.SyncFailures.Inc()
}

func (m *Metrics) IncrementDeleted() {
	m.PatientsDeleted.Inc()
}

func (m *Metrics) IncrementCopied() {
	m.PatientsCopied.Inc()
}

func (m *Metrics) IncrementDegraded() {
	m.MergesDegraded.Inc()
}

func (m *Metrics) ObserveMerged(source string, n int) {
	if n > 0 {
		m.MergedRecords.WithLabelValues(source).Add(float64(n))
	}
}

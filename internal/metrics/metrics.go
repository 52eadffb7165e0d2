// Package metrics holds the process-wide prometheus collectors served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Recognitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facesense_recognitions_total",
		Help: "Recognition attempts by outcome.",
	}, []string{"outcome"})

	Enrollments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facesense_enrollments_total",
		Help: "Enrollment attempts by outcome.",
	}, []string{"outcome"})

	AttendanceMarks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facesense_attendance_marks_total",
		Help: "Attendance marks by intent and result.",
	}, []string{"intent", "result"})

	TrainDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "facesense_train_duration_seconds",
		Help:    "Time spent training the face model.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	ModelLabels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "facesense_model_labels",
		Help: "Identities known to the loaded face model.",
	})

	ModelLoads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facesense_model_loads_total",
		Help: "Face model loads from disk.",
	})
)

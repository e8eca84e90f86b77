package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "researchd_workflow_steps_total",
	Help: "Workflow steps executed, by step.",
}, []string{"step"})

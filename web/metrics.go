package web

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "segmentd",
	Name:      "http_requests_total",
	Help:      "HTTP requests by route and status code.",
}, []string{"route", "code"})

var segmentRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "segmentd",
	Name:      "segment_requests_total",
	Help:      "Segmentation requests by outcome (ok, degraded, error).",
}, []string{"outcome"})

var segmentLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "segmentd",
	Name:      "segment_duration_seconds",
	Help:      "Wall-clock time of segmentation requests.",
	Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
})

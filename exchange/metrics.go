package exchange

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/notargets/gohalo/types"
)

type metrics struct {
	rounds        prometheus.Counter
	bytesSent     prometheus.Counter
	messages      prometheus.Counter
	notifications prometheus.Counter
}

func newCounterVec(reg prometheus.Registerer, name, help string) *prometheus.CounterVec {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gohalo",
		Subsystem: "exchange",
		Name:      name,
		Help:      help,
	}, []string{"variant", "rank"})
	if reg == nil {
		return vec
	}
	if err := reg.Register(vec); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
		// Conflicting descriptor, count privately
		return vec
	}
	return vec
}

func newMetrics(v Variant, rank types.Rank, reg prometheus.Registerer) *metrics {
	labels := []string{v.String(), strconv.Itoa(int(rank))}
	return &metrics{
		rounds: newCounterVec(reg, "rounds_total",
			"Completed exchange rounds, one per triggered section").WithLabelValues(labels...),
		bytesSent: newCounterVec(reg, "sent_bytes_total",
			"Payload bytes handed to the transport").WithLabelValues(labels...),
		messages: newCounterVec(reg, "messages_total",
			"Sends, puts and notified writes issued to partners").WithLabelValues(labels...),
		notifications: newCounterVec(reg, "notifications_total",
			"Notifications observed and reset while draining").WithLabelValues(labels...),
	}
}

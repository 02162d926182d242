// Package telemetry provides semantic conventions for tracker observability.
package telemetry

import "go.opentelemetry.io/otel/attribute"

// Semantic convention attribute keys for tracker-specific telemetry.

const (
	// AttrSource identifies which upstream provider produced the signal.
	AttrSource = attribute.Key("source")
	// AttrEventCode annotates counters with the canonical event code.
	AttrEventCode = attribute.Key("event.code")
	// AttrOutcome records the Apply outcome (created, duplicate, rejected).
	AttrOutcome = attribute.Key("outcome")
	// AttrMethod labels notification metrics with the delivery method.
	AttrMethod = attribute.Key("method")
	// AttrResult records the outcome of an operation (success, error class, etc.).
	AttrResult = attribute.Key("result")
	// AttrEnvironment specifies the deployment environment for every metric.
	AttrEnvironment = attribute.Key("environment")
	// AttrTopic labels hub metrics with the class of the publish topic.
	AttrTopic = attribute.Key("topic_kind")
)

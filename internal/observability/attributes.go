// Package observability exports deploy, runner and publisher metrics through
// an OpenTelemetry meter backed by a Prometheus registry.
package observability

import (
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrOutcome = "outcome"
	attrState   = "state"
	attrKind    = "kind"
	attrVerb    = "verb"
	attrSuccess = "success"
)

func outcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String(attrOutcome, normalizeLabel(outcome))
}

func stateAttr(state string) attribute.KeyValue {
	return attribute.String(attrState, normalizeLabel(state))
}

func kindAttr(kind string) attribute.KeyValue {
	return attribute.String(attrKind, normalizeLabel(kind))
}

func verbAttr(verb string) attribute.KeyValue {
	return attribute.String(attrVerb, normalizeLabel(verb))
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

// normalizeLabel keeps label values to a small lowercase vocabulary.
// Empty values become "unknown".
func normalizeLabel(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "unknown"
	}
	return v
}

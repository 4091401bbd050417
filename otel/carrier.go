package otel

import (
	"context"

	"github.com/hugolhafner/extoffset/kafka"
	"go.opentelemetry.io/otel/propagation"
)

var _ propagation.TextMapCarrier = (*HeaderCarrier)(nil)

// HeaderCarrier reads and writes trace context in Kafka record headers. A
// record may repeat a key; the last occurrence wins.
type HeaderCarrier []kafka.Header

func (c HeaderCarrier) Get(key string) string {
	for i := len(c) - 1; i >= 0; i-- {
		if c[i].Key == key {
			return string(c[i].Value)
		}
	}
	return ""
}

func (c *HeaderCarrier) Set(key, value string) {
	for i := len(*c) - 1; i >= 0; i-- {
		if (*c)[i].Key == key {
			(*c)[i].Value = []byte(value)
			return
		}
	}
	*c = append(*c, kafka.Header{Key: key, Value: []byte(value)})
}

// Keys lists each header key once, in first-seen order.
func (c HeaderCarrier) Keys() []string {
	seen := make(map[string]struct{}, len(c))
	keys := make([]string, 0, len(c))
	for _, h := range c {
		if _, ok := seen[h.Key]; ok {
			continue
		}
		seen[h.Key] = struct{}{}
		keys = append(keys, h.Key)
	}
	return keys
}

// ExtractRecord returns ctx carrying the trace context found in rec's headers.
func ExtractRecord(ctx context.Context, prop propagation.TextMapPropagator, rec kafka.ConsumerRecord) context.Context {
	carrier := HeaderCarrier(rec.Headers)
	return prop.Extract(ctx, &carrier)
}

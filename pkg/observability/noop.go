package observability

import (
	"context"
	"time"
)

// NoopMetrics discards every measurement.
type NoopMetrics struct{}

func (NoopMetrics) RecordAgentRun(context.Context, time.Duration, int, error) {}

func (NoopMetrics) RecordToolCall(context.Context, string, time.Duration, error) {}

func (NoopMetrics) RecordLLMRequest(context.Context, string, time.Duration, time.Duration, error) {}

func (NoopMetrics) RecordIngestion(context.Context, time.Duration, int, int, error) {}

func (NoopMetrics) RecordHTTPRequest(string, string, int, time.Duration) {}

var _ Metrics = NoopMetrics{}

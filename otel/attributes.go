package otel

import (
	"go.opentelemetry.io/otel/attribute"
)

const (
	AttrTopic         = attribute.Key("messaging.destination.name")
	AttrPartition     = attribute.Key("messaging.destination.partition.id")
	AttrConsumerGroup = attribute.Key("messaging.consumer.group.name")
	AttrLoopID        = attribute.Key("extoffset.loop.id")
	AttrLoopState     = attribute.Key("extoffset.loop.state")
	AttrProcessStatus = attribute.Key("extoffset.process.status")
	AttrPollStatus    = attribute.Key("extoffset.poll.status")
	AttrFlushStatus   = attribute.Key("extoffset.flush.status")
	AttrFlushReason   = attribute.Key("extoffset.flush.reason")
	AttrErrorAction   = attribute.Key("extoffset.error.action")
	AttrErrorPhase    = attribute.Key("extoffset.error.phase")
)

// Status values
const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
	StatusError   = "error"
)

// Flush reason values
const (
	FlushReasonPeriodic = "periodic"
	FlushReasonEager    = "eager"
	FlushReasonRevoke   = "revoke"
	FlushReasonShutdown = "shutdown"
	FlushReasonSweep    = "sweep"
	FlushReasonReset    = "reset"
)

package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

var (
	// ErrOffsetOutOfRange is returned by Poll when the read position of an
	// assigned partition no longer exists in the log.
	ErrOffsetOutOfRange = errors.New("offset out of range")
	// ErrWakeup is returned by Poll when a blocking poll was abandoned on request.
	ErrWakeup = errors.New("consumer woken up")
	// ErrNoPosition is returned by Position for partitions the client has no read position for.
	ErrNoPosition = errors.New("no position for partition")
	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("client closed")
)

// OffsetOutOfRangeError lists the partitions whose read position no longer
// exists in the log. It matches ErrOffsetOutOfRange with errors.Is.
type OffsetOutOfRangeError struct {
	Partitions []TopicPartition
}

func (e *OffsetOutOfRangeError) Error() string {
	parts := make([]string, len(e.Partitions))
	for i, tp := range e.Partitions {
		parts[i] = tp.String()
	}
	return fmt.Sprintf("%s: %s", ErrOffsetOutOfRange, strings.Join(parts, ", "))
}

func (e *OffsetOutOfRangeError) Is(target error) bool {
	return target == ErrOffsetOutOfRange
}

// OutOfRangePartitions returns the partitions carried by an OffsetOutOfRangeError in err.
func OutOfRangePartitions(err error) []TopicPartition {
	var oor *OffsetOutOfRangeError
	if errors.As(err, &oor) {
		return oor.Partitions
	}
	return nil
}

// IsWakeup reports whether err means the poll was interrupted rather than failed.
func IsWakeup(err error) bool {
	return errors.Is(err, ErrWakeup) || errors.Is(err, context.Canceled)
}

// IsRetriable reports whether a poll error is transient and polling may continue.
func IsRetriable(err error) bool {
	if errors.Is(err, ErrOffsetOutOfRange) || errors.Is(err, ErrClosed) || errors.Is(err, kgo.ErrClientClosed) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return kerr.IsRetriable(err)
}

package offset

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hugolhafner/extoffset/kafka"
)

// InstanceID identifies one consumer instance inside owner strings.
func InstanceID() string {
	return uuid.NewString()
}

// Owner builds the owner string stamped on a record claimed by a consumer instance:
// cluster-topic-partition-group-timestampms-hostname-instance.
func Owner(cluster, group string, tp kafka.TopicPartition, instance string, now time.Time) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}

	return strings.Join(
		[]string{
			cluster,
			tp.Topic,
			strconv.FormatInt(int64(tp.Partition), 10),
			group,
			strconv.FormatInt(now.UnixMilli(), 10),
			host,
			instance,
		}, "-",
	)
}

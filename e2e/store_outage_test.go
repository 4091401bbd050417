//go:build e2e

package e2e

import (
	"errors"
	"testing"
	"time"

	"github.com/hugolhafner/extoffset/store/memory"
	"github.com/stretchr/testify/require"
)

func TestE2E_StoreOutageSuspendsPolling(t *testing.T) {
	broker := ensureContainer(t)

	topic := testTopicName(t, "outage")
	group := testGroupID(t, "outage")
	createTopics(t, broker, 2, topic)
	produceToPartitions(t, broker, topic, 2, 25)

	store := memory.New()
	p := newCollector(0)
	app, errCh := startApplication(t, broker, group, store, p, []string{topic})
	eventually(t, func() bool { return p.Distinct() == 50 }, consumeWait, "first batch processed")

	store.SetUnavailable(errors.New("connection refused"))
	health := app.Manager().Health()
	eventually(t, func() bool { return !health.Healthy() }, eventualWait, "outage detected")
	// a poll started before the outage was detected may still be in flight
	time.Sleep(time.Second)

	produceToPartitions(t, broker, topic, 2, 25)
	require.Never(t, func() bool { return p.Distinct() > 50 }, 2*time.Second, 100*time.Millisecond)

	store.SetUnavailable(nil)
	eventually(t, func() bool { return p.Distinct() == 100 }, consumeWait, "polling resumed after recovery")

	stopApplication(t, app, errCh)
	requireStoredAtEnd(t, broker, store, group, topic)
}

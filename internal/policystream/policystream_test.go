package policystream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardctl/guardctl/internal/models"
)

func TestSubscribeReplacesPriorChannel(t *testing.T) {
	b := New()
	first := b.Subscribe("agent-1")
	second := b.Subscribe("agent-1")

	assert.Equal(t, 1, b.SubscriberCount())

	_, ok := <-first.C()
	assert.False(t, ok, "replaced channel must be closed")

	b.Publish(models.PolicyChangeNotification{PolicyID: "p1", UpdatedAt: time.Now()})
	select {
	case notif := <-second.C():
		assert.Equal(t, "p1", notif.PolicyID)
	default:
		t.Fatal("expected notification on current subscription")
	}
}

func TestOverflowDropsOldestAndKeepsLatest(t *testing.T) {
	b := New()
	sub := b.Subscribe("agent-2")

	base := time.Now()
	for i := 0; i < channelCapacity+10; i++ {
		b.Publish(models.PolicyChangeNotification{
			PolicyID:  "p1",
			UpdatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	var last models.PolicyChangeNotification
	for {
		select {
		case n := <-sub.C():
			last = n
			continue
		default:
		}
		break
	}
	require.Equal(t, base.Add(time.Duration(channelCapacity+9)*time.Second), last.UpdatedAt)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe("agent-3")
	b.Unsubscribe("agent-3")

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.Equal(t, 0, b.SubscriberCount())
}

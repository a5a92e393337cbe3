// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/guardctl/guardctl/internal/models"
	"github.com/guardctl/guardctl/internal/policystream"
)

func TestStreamPolicyFeedForwardsBroadcastNotifications(t *testing.T) {
	feed := policystream.New()
	h := &handlers{deps: Deps{PolicyFeed: feed}}

	srv := httptest.NewServer(http.HandlerFunc(h.streamPolicyFeed))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// give streamPolicyFeed's goroutine time to subscribe before publishing
	require.Eventually(t, func() bool { return feed.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)

	feed.Publish(models.PolicyChangeNotification{PolicyID: "p1", PolicyJSON: `{"id":"p1"}`, UpdatedAt: time.Now()})

	var notif models.PolicyChangeNotification
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&notif))
	require.Equal(t, "p1", notif.PolicyID)
}

// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gossip implements DC-to-DC session replication: Broadcast sends
// a SessionEvent to this DC agent's configured peers, Receive applies
// last-writer-wins on events it receives (revocations included), and
// failed peer sends are retried with exponential backoff. Its one caller,
// decision.Service, broadcasts each session the agent caches; no code in
// this module broadcasts a revocation. The
// backoff formula (base * 2^attempts, capped) is the same one this
// codebase already uses for retrying a failed publish to an external
// collaborator.
package gossip

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/guardctl/guardctl/internal/agentcache"
	"github.com/guardctl/guardctl/internal/models"
	"github.com/guardctl/guardctl/internal/rpc"
)

const (
	baseBackoff = 5 * time.Second
	maxBackoff  = 2 * time.Minute
)

// Peer is the subset of the RPC client the gossip sender needs against one
// peer endpoint.
type Peer interface {
	GossipSession(ctx context.Context, req rpc.GossipSessionRequest) (rpc.GossipSessionResponse, error)
}

// seenKey dedupes inbound events so a replayed or looped message is never
// reapplied.
type seenKey struct {
	sessionID string
	timestamp int64
}

// Node is one DC agent's gossip participant: it sends local events to
// peers and applies inbound events to the local session cache.
type Node struct {
	originID string
	cache    *agentcache.Cache
	peers    map[string]Peer
	log      zerolog.Logger

	mu       sync.Mutex
	seen     map[seenKey]struct{}
	revoked  map[string]struct{} // session ids observed revoked — revocation is never un-revoked
	attempts map[string]int      // per-peer consecutive failure count, for backoff
}

// NewNode builds a Node broadcasting to the given named peers.
func NewNode(originID string, cache *agentcache.Cache, peers map[string]Peer, log zerolog.Logger) *Node {
	return &Node{
		originID: originID, cache: cache, peers: peers, log: log,
		seen: make(map[seenKey]struct{}), revoked: make(map[string]struct{}), attempts: make(map[string]int),
	}
}

// Broadcast sends ev to every peer, retrying failures with exponential
// backoff in the background. It returns immediately; gossip send failures
// never block the originating operation.
func (n *Node) Broadcast(ctx context.Context, ev rpc.GossipSessionRequest) {
	ev.OriginID = n.originID
	for name, peer := range n.peers {
		go n.sendWithRetry(ctx, name, peer, ev)
	}
}

func (n *Node) sendWithRetry(ctx context.Context, peerName string, peer Peer, ev rpc.GossipSessionRequest) {
	for {
		_, err := peer.GossipSession(ctx, ev)
		if err == nil {
			n.mu.Lock()
			n.attempts[peerName] = 0
			n.mu.Unlock()
			return
		}

		n.mu.Lock()
		n.attempts[peerName]++
		attempt := n.attempts[peerName]
		n.mu.Unlock()

		n.log.Warn().Err(err).Str("peer", peerName).Int("attempt", attempt).Msg("gossip send failed; backing off")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoffFor(attempt)):
		}
	}
}

func backoffFor(attempt int) time.Duration {
	if attempt > 30 {
		return maxBackoff
	}
	d := time.Duration(float64(baseBackoff) * math.Pow(2, float64(attempt-1)))
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Receive applies an inbound SessionEvent from a peer: duplicates and
// already-superseded events are dropped, last-writer-wins by timestamp
// (session_id lexicographic order on a tie), and a revocation once
// observed can never be un-revoked by a later non-revoked event.
func (n *Node) Receive(ev rpc.GossipSessionRequest) error {
	key := seenKey{sessionID: ev.SessionID, timestamp: ev.Timestamp.UnixNano()}

	n.mu.Lock()
	if _, dup := n.seen[key]; dup {
		n.mu.Unlock()
		return nil
	}
	n.seen[key] = struct{}{}

	alreadyRevoked := false
	if _, ok := n.revoked[ev.SessionID]; ok {
		alreadyRevoked = true
	}
	if ev.Revoked {
		n.revoked[ev.SessionID] = struct{}{}
	}
	n.mu.Unlock()

	if alreadyRevoked && !ev.Revoked {
		return nil
	}

	if ev.Revoked {
		return n.cache.RevokeSession(ev.SessionID)
	}
	session := models.Session{
		ID: ev.SessionID, UserID: ev.UserID, SourceIP: ev.SourceIP,
		VerifiedMethod: ev.VerifiedMethod, Status: models.SessionActive, Expires: ev.Expires,
	}
	applied, err := n.cache.UpsertSessionIfNewer(session, ev.UserName, ev.Timestamp)
	if err != nil {
		return err
	}
	if !applied {
		n.log.Debug().Str("session_id", ev.SessionID).Msg("gossip: dropped stale session event, newer state already cached")
	}
	return nil
}

// PeerNamesFromList parses a comma-separated peer endpoint list from
// configuration, trimming whitespace and dropping empty entries.
func PeerNamesFromList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ABOUTME: Tests for the session registry: uniqueness, FIFO, isolation, lifetime
// ABOUTME: Uses short lifetimes so timer-driven teardown is observable

package mcp

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrYang2016/learn-assistant/internal/auth"
)

func testIdentity() auth.Identity {
	return auth.Identity{UserID: "user-1", APIKeyID: "key-1"}
}

func msg(id string) *JSONRPCResponse {
	return NewResult(json.RawMessage(id), "ok")
}

func TestSessionIDUniqueness(t *testing.T) {
	reg := NewSessionRegistry(time.Minute, nil)
	defer reg.Shutdown()

	const n = 100
	var mu sync.Mutex
	ids := make(map[string]bool, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess := reg.Create(testIdentity(), nil)
			mu.Lock()
			ids[sess.ID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, ids, n)
	assert.Equal(t, n, reg.Len())
}

func TestFIFODelivery(t *testing.T) {
	reg := NewSessionRegistry(time.Minute, nil)
	defer reg.Shutdown()

	sess := reg.Create(testIdentity(), nil)
	require.True(t, reg.Enqueue(sess.ID, msg(`1`)))
	require.True(t, reg.Enqueue(sess.ID, msg(`2`)))
	require.True(t, reg.Enqueue(sess.ID, msg(`3`)))

	drained := sess.Drain()
	require.Len(t, drained, 3)
	assert.Equal(t, json.RawMessage(`1`), drained[0].ID)
	assert.Equal(t, json.RawMessage(`2`), drained[1].ID)
	assert.Equal(t, json.RawMessage(`3`), drained[2].ID)

	// Queue is empty after draining.
	assert.Empty(t, sess.Drain())
}

func TestEnqueueSignalsNotify(t *testing.T) {
	reg := NewSessionRegistry(time.Minute, nil)
	defer reg.Shutdown()

	sess := reg.Create(testIdentity(), nil)
	reg.Enqueue(sess.ID, msg(`1`))

	select {
	case <-sess.Notify():
	case <-time.After(time.Second):
		t.Fatal("enqueue did not signal the notify channel")
	}
}

func TestSessionIsolation(t *testing.T) {
	reg := NewSessionRegistry(time.Minute, nil)
	defer reg.Shutdown()

	a := reg.Create(testIdentity(), nil)
	b := reg.Create(testIdentity(), nil)

	reg.Enqueue(a.ID, msg(`1`))

	assert.Empty(t, b.Drain())
	drained := a.Drain()
	require.Len(t, drained, 1)
}

func TestEnqueueUnknownSession(t *testing.T) {
	reg := NewSessionRegistry(time.Minute, nil)
	defer reg.Shutdown()

	assert.False(t, reg.Enqueue("nonexistent", msg(`1`)))
}

func TestDestroyIsIdempotent(t *testing.T) {
	reg := NewSessionRegistry(time.Minute, nil)
	sess := reg.Create(testIdentity(), nil)

	reg.Destroy(sess.ID)
	reg.Destroy(sess.ID)

	assert.False(t, reg.Enqueue(sess.ID, msg(`1`)))
	select {
	case <-sess.Done():
	default:
		t.Fatal("done channel not closed after destroy")
	}
}

func TestLifetimeTimeoutDestroysSession(t *testing.T) {
	reg := NewSessionRegistry(50*time.Millisecond, nil)
	sess := reg.Create(testIdentity(), nil)

	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatal("session not destroyed at lifetime")
	}
	assert.False(t, reg.Enqueue(sess.ID, msg(`1`)))
	assert.Zero(t, reg.Len())
}

func TestShutdownDestroysAllSessions(t *testing.T) {
	reg := NewSessionRegistry(time.Minute, nil)
	a := reg.Create(testIdentity(), nil)
	b := reg.Create(testIdentity(), nil)

	reg.Shutdown()

	assert.Zero(t, reg.Len())
	assert.False(t, reg.Enqueue(a.ID, msg(`1`)))
	assert.False(t, reg.Enqueue(b.ID, msg(`1`)))
}

func TestIdentityFixedForSessionLifetime(t *testing.T) {
	reg := NewSessionRegistry(time.Minute, nil)
	defer reg.Shutdown()

	sess := reg.Create(auth.Identity{UserID: "alice", APIKeyID: "k1"}, nil)
	got, ok := reg.Get(sess.ID)
	require.True(t, ok)
	assert.Equal(t, "alice", got.Identity.UserID)
	assert.Equal(t, "k1", got.Identity.APIKeyID)
}

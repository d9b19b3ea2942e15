package presence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Akido22/mmogamelab/internal/protocol"
)

func TestLogoutOthers_ByTurnSameCharacter(t *testing.T) {
	h := newHarness()
	dir := memDirectory{"p": {"c1", "c2"}}
	m := h.addApp("main", PolicyByTurn, dir)
	h.newSession("main", "s1")
	h.newSession("main", "s2")
	ctx := context.Background()

	require.NoError(t, m.Login(ctx, "s1", "c1"))
	_, err := m.Ready(ctx, "s1", "")
	require.NoError(t, err)

	require.NoError(t, m.Login(ctx, "s2", "c1"))

	_, ok := h.appSession("main", "s1")
	assert.False(t, ok, "s1 must be logged out")
	s1 := h.session("main", "s1")
	assert.Equal(t, "", s1.User)
	assert.False(t, s1.Authorized)

	as2, ok := h.appSession("main", "s2")
	require.True(t, ok)
	assert.Equal(t, StateAuthorized, as2.State)
	assert.Equal(t, "c1", as2.Character)

	// the character stays online through the hand-over
	assert.True(t, h.markers["main"].has("c1"))
	_, offline := h.observer.counts()
	assert.Equal(t, 0, offline)

	assert.Equal(t, []string{protocol.ChannelID("s1")}, h.notifier.channels)
	assert.Contains(t, h.activity["main"].acts("s1"), ActKicked)
}

func TestLogoutOthers_SinglePolicyDropsSiblingCharacter(t *testing.T) {
	h := newHarness()
	dir := memDirectory{"p": {"c1", "c2"}}
	m := h.addApp("main", PolicySingle, dir)
	h.newSession("main", "s1")
	h.newSession("main", "s2")
	ctx := context.Background()

	require.NoError(t, m.Login(ctx, "s1", "c1"))
	require.NoError(t, m.Login(ctx, "s2", "c2"))

	_, ok := h.appSession("main", "s1")
	assert.False(t, ok)
	assert.False(t, h.markers["main"].has("c1"))
	assert.True(t, h.markers["main"].has("c2"))
	assert.Equal(t, []string{"main/c1"}, h.observer.offline)
}

func TestLogoutOthers_SimultaneousLeavesSiblingsAlone(t *testing.T) {
	h := newHarness()
	dir := memDirectory{"p": {"c1", "c2"}}
	m := h.addApp("main", PolicySimultaneous, dir)
	h.newSession("main", "s1")
	h.newSession("main", "s2")
	ctx := context.Background()

	require.NoError(t, m.Login(ctx, "s1", "c1"))
	_, err := m.Ready(ctx, "s1", "")
	require.NoError(t, err)
	before, _ := h.appSession("main", "s1")

	require.NoError(t, m.Login(ctx, "s2", "c2"))

	after, ok := h.appSession("main", "s1")
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Equal(t, "c1", h.session("main", "s1").User)

	as2, ok := h.appSession("main", "s2")
	require.True(t, ok)
	assert.Equal(t, StateAuthorized, as2.State)
	assert.Equal(t, "c2", as2.Character)
	assert.Empty(t, h.notifier.channels)
}

func TestLogoutOthers_SimultaneousStillDropsSameCharacter(t *testing.T) {
	h := newHarness()
	m := h.addApp("main", PolicySimultaneous, memDirectory{"p": {"c1", "c2"}})
	h.newSession("main", "s1")
	h.newSession("main", "s2")
	ctx := context.Background()

	require.NoError(t, m.Login(ctx, "s1", "c1"))
	require.NoError(t, m.Login(ctx, "s2", "c1"))

	_, ok := h.appSession("main", "s1")
	assert.False(t, ok)
}

func TestLogoutOthers_DisconnectedSiblingIsCleared(t *testing.T) {
	h := newHarness()
	m := h.addApp("main", PolicyByTurn, memDirectory{"p": {"c1"}})
	h.newSession("main", "s1")
	h.newSession("main", "s2")
	ctx := context.Background()

	require.NoError(t, m.Login(ctx, "s1", "c1"))
	_, err := m.Ready(ctx, "s1", "")
	require.NoError(t, err)
	require.NoError(t, m.Disconnected(ctx, "s1"))
	s1Before := h.session("main", "s1")

	require.NoError(t, m.Login(ctx, "s2", "c1"))

	_, ok := h.appSession("main", "s1")
	assert.False(t, ok)
	// a DISCONNECTED sibling's Session is left as it was
	assert.Equal(t, s1Before, h.session("main", "s1"))
}

func TestLogoutOthers_CrossApplication(t *testing.T) {
	h := newHarness()
	dir := memDirectory{"p": {"c1"}}
	alpha := h.addApp("alpha", PolicySingle, dir)
	beta := h.addApp("beta", PolicySingle, dir)
	h.newSession("alpha", "s1")
	h.newSession("beta", "s2")
	ctx := context.Background()

	require.NoError(t, alpha.Login(ctx, "s1", "c1"))
	require.NoError(t, beta.Login(ctx, "s2", "c1"))

	_, ok := h.appSession("alpha", "s1")
	assert.False(t, ok)
	assert.Equal(t, "", h.session("alpha", "s1").User)
	assert.Contains(t, h.activity["alpha"].acts("s1"), ActKicked)
	assert.False(t, h.markers["alpha"].has("c1"))
	assert.True(t, h.markers["beta"].has("c1"))

	_, ok = h.appSession("beta", "s2")
	assert.True(t, ok)
}

func TestLogoutOthers_PushFailureIsSwallowed(t *testing.T) {
	h := newHarness()
	h.notifier.fail = true
	m := h.addApp("main", PolicyByTurn, memDirectory{"p": {"c1"}})
	h.newSession("main", "s1")
	h.newSession("main", "s2")
	ctx := context.Background()

	require.NoError(t, m.Login(ctx, "s1", "c1"))
	require.NoError(t, m.Login(ctx, "s2", "c1"))

	_, ok := h.appSession("main", "s1")
	assert.False(t, ok)
}

func TestDrop_MissingRecord(t *testing.T) {
	h := newHarness()
	m := h.addApp("main", PolicySingle, nil)
	h.newSession("main", "s1")
	ctx := context.Background()

	dropped, err := m.drop(ctx, AppSessionKey("main", "s1"), "s1", "main", "c1")
	require.NoError(t, err)
	assert.False(t, dropped)
	assert.Empty(t, h.activity["main"].acts("s1"))
}

func TestLogoutOthers_SiblingGoneSinceQuery(t *testing.T) {
	h := newHarness()
	stale := &staleAppSessions{memAppSessions: h.appSessions}
	h.store = stale
	m := h.addApp("main", PolicySingle, nil)
	h.newSession("main", "s1")
	h.newSession("main", "s2")
	ctx := context.Background()

	require.NoError(t, m.Login(ctx, "s1", "c1"))
	bound, err := h.appSessions.ByCharacters(ctx, []string{"c1"})
	require.NoError(t, err)
	require.Len(t, bound, 1)
	stale.bound = bound

	require.NoError(t, m.Logout(ctx, "s1"))
	require.NoError(t, m.Login(ctx, "s2", "c1"))

	as2, ok := h.appSession("main", "s2")
	require.True(t, ok)
	assert.Equal(t, StateAuthorized, as2.State)
	assert.True(t, h.markers["main"].has("c1"))

	assert.Empty(t, h.notifier.channels)
	assert.Equal(t, []string{ActLogin, ActLogout}, h.activity["main"].acts("s1"))
}

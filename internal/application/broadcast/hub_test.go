package broadcast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-notifications-nosql/internal/application/changefeed"
	"github.com/go-notifications-nosql/internal/domain"
	"github.com/go-notifications-nosql/internal/pkg/id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func notify(a domain.Audience) domain.Event {
	return domain.NewNotificationEvent(&domain.Notification{
		NotificationID: id.New(),
		Title:          "t",
		Audience:       a,
		CreatedAt:      time.Now(),
	})
}

func drain(s *Session) []domain.Event {
	var out []domain.Event
	for {
		select {
		case e, ok := <-s.Events():
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

var (
	admin  = domain.Viewer{UserID: "u1", Role: "admin"}
	member = domain.Viewer{UserID: "u2", Role: "member"}
)

func TestHub_RoutesByAudience(t *testing.T) {
	h := NewHub(8, nil)
	a, err := h.Join(admin, TransportSocket)
	require.NoError(t, err)
	m, err := h.Join(member, TransportStream)
	require.NoError(t, err)

	h.Publish(notify(domain.Audience{AudienceType: domain.AudienceAll}))
	h.Publish(notify(domain.Audience{AudienceType: domain.AudienceRole, Roles: []string{"admin"}}))
	h.Publish(notify(domain.Audience{AudienceType: domain.AudienceUser, Users: []string{"u2"}}))

	assert.Len(t, drain(a), 2)
	assert.Len(t, drain(m), 2)
}

func TestHub_NoDuplicateAcrossChannels(t *testing.T) {
	h := NewHub(8, nil)
	s, err := h.Join(admin, TransportSocket)
	require.NoError(t, err)

	// admin matches both ROLE_admin and USER_u1
	h.Publish(notify(domain.Audience{AudienceType: domain.AudienceRole, Roles: []string{"admin", "owner"}}))
	e := notify(domain.Audience{AudienceType: domain.AudienceUser, Users: []string{"u1", "u1"}})
	h.Publish(e)
	h.Publish(e) // a replay from the source is suppressed too

	assert.Len(t, drain(s), 2)
}

func TestHub_ReadEventsGoToTheReader(t *testing.T) {
	h := NewHub(8, nil)
	a, _ := h.Join(admin, TransportSocket)
	m, _ := h.Join(member, TransportSocket)

	h.Publish(domain.ReadEvent(domain.ReadReceipt{UserID: "u1", NotificationID: id.New(), ReadAt: time.Now()}))
	assert.Len(t, drain(a), 1)
	assert.Empty(t, drain(m))
}

func TestHub_CloseUnregistersEverywhere(t *testing.T) {
	h := NewHub(8, nil)
	s, err := h.Join(admin, TransportPoll)
	require.NoError(t, err)
	other, err := h.Join(domain.Viewer{UserID: "u3", Role: "admin"}, TransportPoll)
	require.NoError(t, err)
	assert.Equal(t, 2, h.Members(domain.ChannelAll))
	assert.Equal(t, 2, h.Members(domain.RoleChannel("admin")))

	s.Close()
	s.Close()
	assert.Equal(t, 1, h.Count())
	assert.Equal(t, 1, h.Members(domain.ChannelAll))
	assert.Equal(t, 1, h.Members(domain.RoleChannel("admin")))
	assert.Zero(t, h.Members(domain.UserChannel("u1")))

	_, open := <-s.Events()
	assert.False(t, open)

	h.Publish(notify(domain.Audience{AudienceType: domain.AudienceAll}))
	assert.Len(t, drain(other), 1)
}

func TestHub_RepeatedJoinLeaveDoesNotLeak(t *testing.T) {
	h := NewHub(1, nil)
	for i := 0; i < 500; i++ {
		s, err := h.Join(member, TransportPoll)
		require.NoError(t, err)
		s.Close()
	}
	assert.Zero(t, h.Count())
	assert.Zero(t, h.Members(domain.ChannelAll))
}

func TestHub_FullBufferDrops(t *testing.T) {
	h := NewHub(1, nil)
	s, _ := h.Join(member, TransportStream)
	all := domain.Audience{AudienceType: domain.AudienceAll}
	first := notify(all)
	h.Publish(first)
	h.Publish(notify(all))

	got := drain(s)
	require.Len(t, got, 1)
	assert.Equal(t, first.ID(), got[0].ID())
}

func TestHub_DroppedEventCanBeRedelivered(t *testing.T) {
	h := NewHub(1, nil)
	s, _ := h.Join(member, TransportStream)
	all := domain.Audience{AudienceType: domain.AudienceAll}
	first, second := notify(all), notify(all)

	h.Publish(first)
	h.Publish(second) // buffer full
	require.Len(t, drain(s), 1)

	h.Publish(second)
	h.Publish(first) // already delivered
	got := drain(s)
	require.Len(t, got, 1)
	assert.Equal(t, second.ID(), got[0].ID())
}

func TestHub_CloseEndsSessionsAndRefusesJoins(t *testing.T) {
	h := NewHub(4, nil)
	s, _ := h.Join(member, TransportSocket)
	h.Close()

	_, open := <-s.Events()
	assert.False(t, open)
	assert.Zero(t, h.Count())

	_, err := h.Join(admin, TransportSocket)
	assert.True(t, errors.Is(err, domain.ErrUnavailable))
	assert.NotPanics(t, func() {
		h.Publish(notify(domain.Audience{AudienceType: domain.AudienceAll}))
		s.Close()
		h.Close()
	})
}

func TestHub_JoinRequiresIdentity(t *testing.T) {
	h := NewHub(4, nil)
	_, err := h.Join(domain.Viewer{UserID: "u1"}, TransportSocket)
	assert.True(t, errors.Is(err, domain.ErrBadRequest))
}

func TestHub_RunFollowsFeedUntilCancelled(t *testing.T) {
	feed := changefeed.New(nil)
	h := NewHub(4, nil)
	s, err := h.Join(member, TransportStream)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx, feed)
		close(done)
	}()
	require.Eventually(t, func() bool { return feed.Subscribers() == 1 }, time.Second, time.Millisecond)

	feed.Publish(notify(domain.Audience{AudienceType: domain.AudienceAll}))
	select {
	case e := <-s.Events():
		assert.Equal(t, domain.EventNew, e.Type)
	case <-time.After(time.Second):
		t.Fatal("event not routed")
	}

	cancel()
	<-done
	assert.Zero(t, feed.Subscribers())
	_, open := <-s.Events()
	assert.False(t, open)
}

func TestHub_RunStopsWhenFeedCloses(t *testing.T) {
	feed := changefeed.New(nil)
	h := NewHub(4, nil)
	s, err := h.Join(member, TransportSocket)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		h.Run(context.Background(), feed)
		close(done)
	}()
	require.Eventually(t, func() bool { return feed.Subscribers() == 1 }, time.Second, time.Millisecond)

	feed.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub kept running on a closed feed")
	}
	_, open := <-s.Events()
	assert.False(t, open)
	_, err = h.Join(admin, TransportPoll)
	assert.True(t, errors.Is(err, domain.ErrUnavailable))
}

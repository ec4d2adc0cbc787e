package telegram

import (
	"context"
	"errors"
	"testing"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/backupbot/internal/config"
)

func TestClient_API_UnauthorizedError(t *testing.T) {
	manager := NewManager(&config.Config{}, nil)
	client := NewClient(manager)

	api, err := client.API()

	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.Nil(t, api)
}

func TestClient_ResolveUsername_UnauthorizedError(t *testing.T) {
	client := NewClient(NewManager(&config.Config{}, nil))

	_, err := client.ResolveUsername(context.Background(), "@testchannel")

	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestClient_GetChat_Cached(t *testing.T) {
	client := NewClient(NewManager(&config.Config{}, nil))
	chat := Chat{ID: MarkChannel(42), Title: "archive", Kind: ChatChannel}
	client.remember([]Chat{chat})

	got, err := client.GetChat(context.Background(), MarkChannel(42))

	require.NoError(t, err)
	assert.Equal(t, chat, got)
}

func TestChatsFromEntities(t *testing.T) {
	chats := chatsFromEntities(
		[]tg.ChatClass{
			&tg.Chat{ID: 10, Title: "family"},
			&tg.Channel{ID: 20, AccessHash: 99, Title: "news", Username: "news", Broadcast: true},
			&tg.Channel{ID: 21, Min: true},
			&tg.ChannelForbidden{ID: 22, Title: "gone"},
		},
		[]tg.UserClass{
			&tg.User{ID: 30, AccessHash: 7, FirstName: "Ann", LastName: "Lee"},
			&tg.User{ID: 31, Self: true, FirstName: "Me"},
			&tg.UserEmpty{ID: 32},
		},
	)

	require.Len(t, chats, 4)

	assert.Equal(t, int64(-10), chats[0].ID)
	assert.Equal(t, ChatGroup, chats[0].Kind)
	assert.Equal(t, &tg.InputPeerChat{ChatID: 10}, chats[0].InputPeer())

	assert.Equal(t, int64(-1000000000020), chats[1].ID)
	assert.True(t, chats[1].Broadcast)
	assert.Equal(t, "news", chats[1].Username)
	assert.Equal(t, &tg.InputPeerChannel{ChannelID: 20, AccessHash: 99}, chats[1].InputPeer())
	assert.True(t, chats[1].IsGroupOrChannel())

	assert.Equal(t, "Ann Lee", chats[2].Title)
	assert.False(t, chats[2].IsGroupOrChannel())

	assert.Equal(t, &tg.InputPeerSelf{}, chats[3].InputPeer())
}

func TestChat_InputPeer_Empty(t *testing.T) {
	assert.Equal(t, &tg.InputPeerEmpty{}, Chat{}.InputPeer())
}

func TestSentMessageID(t *testing.T) {
	tests := []struct {
		name    string
		updates tg.UpdatesClass
		want    int
	}{
		{name: "short sent", updates: &tg.UpdateShortSentMessage{ID: 5}, want: 5},
		{name: "message id update", updates: &tg.Updates{Updates: []tg.UpdateClass{&tg.UpdateMessageID{ID: 77}}}, want: 77},
		{name: "channel message", updates: &tg.Updates{Updates: []tg.UpdateClass{
			&tg.UpdateNewChannelMessage{Message: &tg.Message{ID: 12}},
		}}, want: 12},
		{name: "nothing", updates: &tg.UpdatesTooLong{}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sentMessageID(tt.updates))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify(nil))

	flood := classify(errors.New("rpc error code 420: FLOOD_WAIT_15"))
	wait, ok := AsFloodWait(flood)
	require.True(t, ok)
	assert.Equal(t, "15s", wait.String())

	wrapped := classify(errors.New("send: rpc error code 420: FLOOD_WAIT_7 (caused by messages.sendMedia)"))
	wait, ok = AsFloodWait(wrapped)
	require.True(t, ok)
	assert.Equal(t, "7s", wait.String())

	plain := errors.New("connection reset")
	assert.Equal(t, plain, classify(plain))

	_, ok = AsFloodWait(plain)
	assert.False(t, ok)
}

func TestFloodWaitError_Unwrap(t *testing.T) {
	inner := errors.New("FLOOD_WAIT_3")
	err := classify(inner)

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "flood wait 3s")
}

package redisfeed

import (
	"testing"
	"time"

	"duochat/domain"
	"duochat/domain/event"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func Test_Wire_Insert_RoundTrip(t *testing.T) {
	req := require.New(t)

	msg := domain.Message{
		ID:        uuid.New(),
		ChatID:    uuid.New(),
		SenderID:  uuid.New(),
		Content:   "https://example.com",
		Kind:      domain.KindLink,
		IsRead:    false,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
		UpdatedAt: lo.ToPtr(time.Now().UTC().Truncate(time.Microsecond)),
	}
	in := event.ChangeEvent{Kind: event.ChangeInsert, ChatID: msg.ChatID, Message: &msg}

	payload, err := encodeEvent(in)
	req.NoError(err)

	out, err := decodeEvent(payload)
	req.NoError(err)
	req.Equal(event.ChangeInsert, out.Kind)
	req.Equal(msg.ChatID, out.ChatID)
	req.NotNil(out.Message)
	req.Equal(msg, *out.Message)
	req.Equal(msg.ID, out.ID())
}

func Test_Wire_Delete_Carries_Only_Id(t *testing.T) {
	req := require.New(t)

	in := event.ChangeEvent{Kind: event.ChangeDelete, ChatID: uuid.New(), MessageID: uuid.New()}
	payload, err := encodeEvent(in)
	req.NoError(err)

	out, err := decodeEvent(payload)
	req.NoError(err)
	req.Equal(event.ChangeDelete, out.Kind)
	req.Nil(out.Message)
	req.Equal(in.MessageID, out.MessageID)
}

func Test_Wire_Rejects_Garbage(t *testing.T) {
	req := require.New(t)

	_, err := decodeEvent([]byte("not json"))
	req.Error(err)

	_, err = decodeEvent([]byte(`{"kind":"INSERT","chat_id":"nope"}`))
	req.Error(err)
}

package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendalink/vendalink/internal/contact"
	"github.com/vendalink/vendalink/internal/conversation"
	"github.com/vendalink/vendalink/internal/message"
	"github.com/vendalink/vendalink/internal/timeline"
	"github.com/vendalink/vendalink/internal/waba"
)

type fakeContacts struct {
	byToken map[string]contact.Resolution
	seq     int
}

func (f *fakeContacts) Resolve(_ context.Context, raw string) (contact.Resolution, error) {
	token := contact.NormalizeIdentifier(raw)
	if token == "" {
		return contact.Resolution{}, contact.ErrMissingIdentifier
	}
	if res, ok := f.byToken[token]; ok {
		return res, nil
	}
	f.seq++
	res := contact.Resolution{
		Contact:  contact.Contact{ID: fmt.Sprintf("contact-%d", f.seq)},
		Identity: contact.Identity{ID: fmt.Sprintf("identity-%d", f.seq), Type: contact.IdentityTypeWhatsApp, Value: token},
		Created:  true,
	}
	if f.byToken == nil {
		f.byToken = map[string]contact.Resolution{}
	}
	f.byToken[token] = res
	return res, nil
}

type statusCall struct {
	session, status, accountID string
}

type fakeChannels struct {
	channel     waba.Channel
	statusCalls []statusCall
}

func (f *fakeChannels) Resolve(_ context.Context, rawAccountID, _ string, _ map[string]any) (waba.Channel, error) {
	if contact.NormalizeIdentifier(rawAccountID) == "" {
		return waba.Channel{}, waba.ErrMissingAccountID
	}
	return f.channel, nil
}

func (f *fakeChannels) UpdateStatus(_ context.Context, sessionName, status, rawAccountID string) error {
	f.statusCalls = append(f.statusCalls, statusCall{sessionName, status, rawAccountID})
	return nil
}

type rawRecord struct {
	channelID string
	processed bool
}

type fakeMessages struct {
	raw      []rawRecord
	inserted []message.InsertInput
	seen     map[string]bool
}

func (f *fakeMessages) Insert(_ context.Context, input message.InsertInput) (message.Message, error) {
	if input.ExternalID != "" {
		if f.seen[input.ExternalID] {
			return message.Message{}, message.ErrDuplicate
		}
		if f.seen == nil {
			f.seen = map[string]bool{}
		}
		f.seen[input.ExternalID] = true
	}
	f.inserted = append(f.inserted, input)
	return message.Message{ID: fmt.Sprintf("msg-%d", len(f.inserted)), ConversationID: input.ConversationID}, nil
}

func (f *fakeMessages) RecordRaw(_ context.Context, channelID string, _ []byte, processed bool) (string, error) {
	f.raw = append(f.raw, rawRecord{channelID, processed})
	return fmt.Sprintf("raw-%d", len(f.raw)), nil
}

func (f *fakeMessages) MarkRawProcessed(_ context.Context, rawID string) error {
	var idx int
	if _, err := fmt.Sscanf(rawID, "raw-%d", &idx); err != nil {
		return err
	}
	f.raw[idx-1].processed = true
	return nil
}

type fakeConversations struct {
	byPair  map[string]string
	applied []string
	seq     int
}

func (f *fakeConversations) FindOrCreate(_ context.Context, contactID, channelID string, _ message.Direction, _ time.Time) (conversation.Conversation, error) {
	key := contactID + "/" + channelID
	if id, ok := f.byPair[key]; ok {
		return conversation.Conversation{ID: id, ContactID: contactID, ChannelID: channelID}, nil
	}
	f.seq++
	id := fmt.Sprintf("conv-%d", f.seq)
	if f.byPair == nil {
		f.byPair = map[string]string{}
	}
	f.byPair[key] = id
	return conversation.Conversation{ID: id, ContactID: contactID, ChannelID: channelID}, nil
}

func (f *fakeConversations) ApplyMessage(_ context.Context, conversationID string, _ message.Direction, _ time.Time) error {
	f.applied = append(f.applied, conversationID)
	return nil
}

type fakeTimeline struct {
	events []timeline.Event
}

func (f *fakeTimeline) Append(_ context.Context, ev timeline.Event) error {
	f.events = append(f.events, ev)
	return nil
}

type fakeScheduler struct {
	scheduled []string
}

func (f *fakeScheduler) Schedule(conversationID string) {
	f.scheduled = append(f.scheduled, conversationID)
}

type fixture struct {
	svc           *Service
	contacts      *fakeContacts
	channels      *fakeChannels
	messages      *fakeMessages
	conversations *fakeConversations
	timeline      *fakeTimeline
	scheduler     *fakeScheduler
}

func newFixture() *fixture {
	f := &fixture{
		contacts:      &fakeContacts{},
		channels:      &fakeChannels{channel: waba.Channel{ID: "chan-1", PhoneID: "5511888880000"}},
		messages:      &fakeMessages{},
		conversations: &fakeConversations{},
		timeline:      &fakeTimeline{},
		scheduler:     &fakeScheduler{},
	}
	f.svc = NewService(nil, f.contacts, f.channels, f.messages, f.conversations, f.timeline, f.scheduler)
	return f
}

const inboundEvent = `{
	"event": "message",
	"session": "default",
	"me": {"id": "5511888880000@c.us"},
	"payload": {
		"id": "ext-1",
		"from": "5511999990000@s.whatsapp.net",
		"fromMe": false,
		"body": "oi",
		"timestamp": 1700000000
	}
}`

func TestHandleInbound(t *testing.T) {
	t.Parallel()
	f := newFixture()

	res, err := f.svc.Handle(context.Background(), []byte(inboundEvent))
	require.NoError(t, err)

	assert.False(t, res.Skipped)
	assert.Equal(t, "conv-1", res.ConversationID)
	assert.Equal(t, "msg-1", res.MessageID)

	require.Len(t, f.messages.inserted, 1)
	inserted := f.messages.inserted[0]
	assert.Equal(t, "ext-1", inserted.ExternalID)
	assert.Equal(t, message.DirectionInbound, inserted.Direction)
	assert.Equal(t, "oi", inserted.Content)
	assert.Equal(t, "identity-1", inserted.IdentityID)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), inserted.SentAt)

	require.Len(t, f.messages.raw, 1)
	assert.True(t, f.messages.raw[0].processed)
	assert.Equal(t, []string{"conv-1"}, f.conversations.applied)
	assert.Equal(t, []string{"conv-1"}, f.scheduler.scheduled)

	require.Len(t, f.timeline.events, 1)
	assert.Equal(t, timeline.EventMessageReceived, f.timeline.events[0].Type)
	assert.Equal(t, "contact-1", f.timeline.events[0].ContactID)
}

func TestHandleDuplicateIsSkipped(t *testing.T) {
	t.Parallel()
	f := newFixture()

	first, err := f.svc.Handle(context.Background(), []byte(inboundEvent))
	require.NoError(t, err)
	require.False(t, first.Skipped)

	second, err := f.svc.Handle(context.Background(), []byte(inboundEvent))
	require.NoError(t, err)

	assert.True(t, second.Skipped)
	assert.Equal(t, ReasonDuplicateMessage, second.Reason)
	assert.Len(t, f.messages.inserted, 1)
	// Both audit rows end up processed.
	require.Len(t, f.messages.raw, 2)
	assert.True(t, f.messages.raw[1].processed)
	assert.Equal(t, []string{"conv-1"}, f.scheduler.scheduled)
}

func TestHandleIdentitySuffixVariants(t *testing.T) {
	t.Parallel()
	f := newFixture()

	a := `{"me":{"id":"5511888880000@c.us"},"payload":{"id":"ext-a","from":"5511999990000@s.whatsapp.net","body":"oi"}}`
	b := `{"me":{"id":"5511888880000@c.us"},"payload":{"id":"ext-b","from":"5511999990000@c.us","body":"tudo bem?"}}`

	resA, err := f.svc.Handle(context.Background(), []byte(a))
	require.NoError(t, err)
	resB, err := f.svc.Handle(context.Background(), []byte(b))
	require.NoError(t, err)

	// Same normalized token resolves to the same contact and conversation.
	assert.Equal(t, resA.ConversationID, resB.ConversationID)
	assert.Len(t, f.contacts.byToken, 1)
	assert.Len(t, f.messages.inserted, 2)
}

func TestHandleOutbound(t *testing.T) {
	t.Parallel()
	f := newFixture()

	body := `{"me":{"id":"5511888880000@c.us"},"payload":{"id":"ext-out","to":"5511999990000@c.us","fromMe":true,"body":"bom dia"}}`
	res, err := f.svc.Handle(context.Background(), []byte(body))
	require.NoError(t, err)

	assert.False(t, res.Skipped)
	require.Len(t, f.messages.inserted, 1)
	assert.Equal(t, message.DirectionOutbound, f.messages.inserted[0].Direction)
	// Outbound messages are not tied to the contact's identity mailbox.
	assert.Empty(t, f.messages.inserted[0].IdentityID)
	require.Len(t, f.timeline.events, 1)
	assert.Equal(t, timeline.EventMessageSent, f.timeline.events[0].Type)
}

func TestHandleSkips(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		reason     string
		wantRaw    int
		wantInsert int
	}{
		{
			name:    "missing channel identifier",
			body:    `{"payload":{"id":"x","from":"5511999990000@c.us","body":"oi"}}`,
			reason:  ReasonMissingChannelIdentifier,
			wantRaw: 0,
		},
		{
			name:    "unparseable body",
			body:    `{{{`,
			reason:  ReasonMissingChannelIdentifier,
			wantRaw: 0,
		},
		{
			name:    "empty message",
			body:    `{"me":{"id":"5511888880000@c.us"},"payload":{"id":"x","from":"5511999990000@c.us","body":"   "}}`,
			reason:  ReasonEmptyMessage,
			wantRaw: 1,
		},
		{
			name:    "group message",
			body:    `{"me":{"id":"5511888880000@c.us"},"payload":{"id":"x","from":"123-456@g.us","body":"oi","participant":"5511999990000@c.us"}}`,
			reason:  ReasonGroupMessage,
			wantRaw: 1,
		},
		{
			name:    "missing contact identifier",
			body:    `{"me":{"id":"5511888880000@c.us"},"payload":{"id":"x","body":"oi"}}`,
			reason:  ReasonMissingContactIdentifier,
			wantRaw: 1,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture()

			res, err := f.svc.Handle(context.Background(), []byte(tt.body))
			require.NoError(t, err)

			assert.True(t, res.Skipped)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Len(t, f.messages.raw, tt.wantRaw)
			for _, raw := range f.messages.raw {
				assert.True(t, raw.processed)
			}
			assert.Len(t, f.messages.inserted, tt.wantInsert)
			assert.Empty(t, f.scheduler.scheduled)
		})
	}
}

func TestHandleSessionStatus(t *testing.T) {
	t.Parallel()
	f := newFixture()

	body := `{"event":"session.status","session":"default","me":{"id":"5511888880000@c.us"},"payload":{"status":"WORKING"}}`
	res, err := f.svc.Handle(context.Background(), []byte(body))
	require.NoError(t, err)

	assert.True(t, res.Skipped)
	assert.Equal(t, ReasonSessionStatus, res.Reason)
	require.Len(t, f.channels.statusCalls, 1)
	assert.Equal(t, statusCall{"default", "WORKING", "5511888880000@c.us"}, f.channels.statusCalls[0])
	assert.Empty(t, f.messages.raw)
}

func TestHandleWithoutScheduler(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.svc = NewService(nil, f.contacts, f.channels, f.messages, f.conversations, f.timeline, nil)

	res, err := f.svc.Handle(context.Background(), []byte(inboundEvent))
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Len(t, f.messages.inserted, 1)
}

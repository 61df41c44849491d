package notifier

import (
	"log/slog"
	"testing"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSlackSender struct {
	channels []slack.Channel
	posted   map[string][]slack.MsgOption
}

func (f *fakeSlackSender) PostMessage(channelID string, options ...slack.MsgOption) (string, string, error) {
	if f.posted == nil {
		f.posted = make(map[string][]slack.MsgOption)
	}
	f.posted[channelID] = append(f.posted[channelID], options...)
	return "", "", nil
}

func (f *fakeSlackSender) GetConversations(_ *slack.GetConversationsParameters) ([]slack.Channel, string, error) {
	return f.channels, "", nil
}

func (f *fakeSlackSender) AuthTest() (*slack.AuthTestResponse, error) {
	return &slack.AuthTestResponse{UserID: "U1"}, nil
}

func makeChannel(id string, member, archived bool) slack.Channel {
	var ch slack.Channel
	ch.ID = id
	ch.IsMember = member
	ch.IsArchived = archived
	return ch
}

func TestSlackNotifier(t *testing.T) {
	sender := fakeSlackSender{channels: []slack.Channel{
		makeChannel("C1", true, false),
		makeChannel("C2", false, false),
		makeChannel("C3", true, true),
	}}
	n := SlackNotifier{Logger: slog.Default(), SlackSender: &sender}

	n.Notify("reauthorization required")

	// only joined, unarchived channels are notified
	require.Len(t, sender.posted, 1)
	assert.Contains(t, sender.posted, "C1")
}

func TestNotifiers(t *testing.T) {
	sender := fakeSlackSender{channels: []slack.Channel{makeChannel("C1", true, false)}}
	n := Notifiers{
		SLogNotifier{Logger: slog.Default()},
		&SlackNotifier{Logger: slog.Default(), SlackSender: &sender},
	}

	n.Notify("something happened")
	assert.Len(t, sender.posted, 1)
}

package alert

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/sitewatch/internal/domain"
)

type recordingPublisher struct {
	name string
	err  error

	mu       sync.Mutex
	messages []Message
}

func (p *recordingPublisher) Name() string { return p.name }

func (p *recordingPublisher) Publish(_ context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return p.err
}

func TestMultiPublisher_FailureDoesNotStopOthers(t *testing.T) {
	failing := &recordingPublisher{name: "failing", err: errors.New("broker down")}
	ok := &recordingPublisher{name: "ok"}
	m := NewMultiPublisher(testLogger(), failing, nil, ok)

	msg := Message{CameraID: "cam-1", Alerts: []domain.Alert{{Target: "h1", Message: "m", Urgency: domain.UrgencyHigh}}}
	err := m.Publish(context.Background(), msg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Len(t, failing.messages, 1)
	require.Len(t, ok.messages, 1)
	assert.Equal(t, msg, ok.messages[0])
}

func TestMultiPublisher_SkipsEmpty(t *testing.T) {
	p := &recordingPublisher{name: "p"}
	m := NewMultiPublisher(testLogger(), p)

	require.NoError(t, m.Publish(context.Background(), Message{CameraID: "cam-1"}))
	assert.Empty(t, p.messages)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), Message{}))
	assert.Equal(t, "nop", p.Name())
}

func TestAlertTopic(t *testing.T) {
	assert.Equal(t, "sitewatch/cam-1/alerts", AlertTopic("sitewatch", "cam-1"))
	assert.Equal(t, "site/a/cam-2/alerts", AlertTopic("site/a/", "cam-2"))
}

func TestNewMQTTPublisher_RequiresBroker(t *testing.T) {
	_, err := NewMQTTPublisher(MQTTConfig{}, testLogger())
	assert.Error(t, err)
}

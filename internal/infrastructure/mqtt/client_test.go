package mqtt

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/etiennerc-wobz/payement-item-association/internal/transport"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
)

type stubToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *stubToken {
	t := &stubToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func pendingToken() *stubToken {
	return &stubToken{done: make(chan struct{})}
}

func (t *stubToken) Wait() bool {
	<-t.done
	return true
}

func (t *stubToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *stubToken) Done() <-chan struct{} { return t.done }
func (t *stubToken) Error() error          { return t.err }

// stubClient only implements Subscribe; any other call panics.
type stubClient struct {
	paho.Client
	token  paho.Token
	topics []string
}

func (c *stubClient) Subscribe(topic string, _ byte, _ paho.MessageHandler) paho.Token {
	c.topics = append(c.topics, topic)
	return c.token
}

func newTestClient(buf *bytes.Buffer) *Client {
	return &Client{
		cfg:    Config{ConnectWait: 20 * time.Millisecond},
		logger: slog.New(slog.NewTextHandler(buf, nil)),
		subs:   map[string]transport.Handler{"items": func(string, []byte) {}},
	}
}

func TestOnConnect_ResubscribeTimeoutIsLogged(t *testing.T) {
	var buf bytes.Buffer
	c := newTestClient(&buf)
	stub := &stubClient{token: pendingToken()}

	c.onConnect(stub)

	assert.Equal(t, []string{"items"}, stub.topics)
	assert.Contains(t, buf.String(), "timed out resubscribing")
	assert.Contains(t, buf.String(), "topic=items")
}

func TestOnConnect_ResubscribeErrorIsLogged(t *testing.T) {
	var buf bytes.Buffer
	c := newTestClient(&buf)

	c.onConnect(&stubClient{token: completedToken(errors.New("not authorized"))})

	assert.Contains(t, buf.String(), "failed to resubscribe")
	assert.Contains(t, buf.String(), "not authorized")
}

func TestOnConnect_ResubscribeSuccessIsQuiet(t *testing.T) {
	var buf bytes.Buffer
	c := newTestClient(&buf)

	c.onConnect(&stubClient{token: completedToken(nil)})

	assert.Empty(t, buf.String())
}

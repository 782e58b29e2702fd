package sipstack

import (
	"sync"
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/phone/pkg/phone"
)

func newTestSession(t *testing.T) *callSession {
	t.Helper()
	s, err := New(testEndpoint(t))
	require.NoError(t, err)

	cs := &callSession{
		id:     "test-call-id",
		kind:   phone.SessionOutgoing,
		stack:  s,
		log:    s.log,
		state:  phone.HandleInitial,
		events: make(chan phone.HandleState, sessionEventBuffer),
	}
	s.addSession(cs)
	t.Cleanup(cs.cleanup)
	return cs
}

func TestAckRequest(t *testing.T) {
	s, err := New(testEndpoint(t))
	require.NoError(t, err)

	target := s.IdentityURI("bob")
	invite := s.inviteRequest(target, "ack-call-id", "tag-local", []byte("v=0"))

	res := sip.NewResponseFromRequest(invite, 200, "OK", nil)
	res.To().Params.Add("tag", "tag-remote")
	res.AppendHeader(&sip.ContactHeader{Address: sip.Uri{
		Scheme: "sip", User: "bob", Host: "10.0.0.7", Port: 5080,
	}})

	ack := ackRequest(invite, res)

	assert.Equal(t, sip.ACK, ack.Method)
	// запрос идет на Contact из финального ответа
	assert.Equal(t, "10.0.0.7", ack.Recipient.Host)
	assert.Equal(t, 5080, ack.Recipient.Port)

	require.NotNil(t, ack.CSeq())
	assert.Equal(t, invite.CSeq().SeqNo, ack.CSeq().SeqNo)
	assert.Equal(t, sip.ACK, ack.CSeq().MethodName)

	require.NotNil(t, ack.CallID())
	assert.Equal(t, invite.CallID().Value(), ack.CallID().Value())

	require.NotNil(t, ack.From())
	fromTag, _ := ack.From().Params.Get("tag")
	assert.Equal(t, "tag-local", fromTag)

	require.NotNil(t, ack.To())
	toTag, _ := ack.To().Params.Get("tag")
	assert.Equal(t, "tag-remote", toTag)
}

func TestCallSession_StateEvents(t *testing.T) {
	t.Run("Слушатель получает буферизованные события", func(t *testing.T) {
		cs := newTestSession(t)

		cs.setState(phone.HandleEstablishing)
		cs.setState(phone.HandleEstablished)

		got := make(chan phone.HandleState, sessionEventBuffer)
		cs.OnStateChange(func(st phone.HandleState) { got <- st })

		for _, want := range []phone.HandleState{phone.HandleEstablishing, phone.HandleEstablished} {
			select {
			case st := <-got:
				assert.Equal(t, want, st)
			case <-time.After(time.Second):
				t.Fatalf("event %s not delivered", want)
			}
		}
	})

	t.Run("Повтор состояния подавляется", func(t *testing.T) {
		cs := newTestSession(t)

		cs.setState(phone.HandleEstablishing)
		cs.setState(phone.HandleEstablishing)

		assert.Len(t, cs.events, 1)
	})

	t.Run("Переход параллельно с cleanup не паникует", func(t *testing.T) {
		for i := 0; i < 100; i++ {
			cs := newTestSession(t)

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				cs.setState(phone.HandleEstablishing)
			}()
			go func() {
				defer wg.Done()
				cs.cleanup()
			}()
			wg.Wait()

			// после закрытия канала переходы это no-op
			cs.setState(phone.HandleEstablished)
			assert.Nil(t, cs.stack.findSession(cs.id))
		}
	})

	t.Run("Повторный cleanup безопасен", func(t *testing.T) {
		cs := newTestSession(t)
		cs.cleanup()
		cs.cleanup()
	})
}

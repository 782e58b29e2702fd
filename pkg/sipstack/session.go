package sipstack

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"

	"github.com/arzzra/phone/pkg/mediabridge"
	"github.com/arzzra/phone/pkg/phone"
)

// callSession одна сигнальная сессия, исходящая или входящая.
// Реализует phone.ICallHandle.
//
// События состояния не вызывают слушателя из сетевых или управляющих
// горутин напрямую: они проходят через канал и доставляются отдельным
// диспетчером последовательно, в порядке возникновения. Это исключает
// реентерабельные вызовы ядра изнутри его собственных операций.
type callSession struct {
	id    string // Call-ID сессии
	kind  phone.SessionKind
	stack *Stack
	log   *slog.Logger

	remoteParty string

	mu           sync.Mutex
	state        phone.HandleState
	listener     func(phone.HandleState)
	eventsClosed bool
	events       chan phone.HandleState
	dispatch     sync.Once

	media *mediabridge.UDPTransport

	localTag  string
	remoteTag string

	invite       *sip.Request
	inviteOK     *sip.Response       // финальный 2xx исходящего INVITE
	serverTx     sip.ServerTransaction // транзакция входящего INVITE
	remoteTarget sip.Uri
	cseq         atomic.Uint32

	answered   atomic.Bool // входящий: 200 OK отправлен
	terminated atomic.Bool
}

const sessionEventBuffer = 8

func (cs *callSession) ID() string              { return cs.id }
func (cs *callSession) Kind() phone.SessionKind { return cs.kind }
func (cs *callSession) RemoteParty() string     { return cs.remoteParty }

func (cs *callSession) State() phone.HandleState {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.state
}

// OnStateChange регистрирует слушателя и запускает диспетчер событий.
// События, возникшие до регистрации, буферизованы и доставляются первыми.
func (cs *callSession) OnStateChange(fn func(phone.HandleState)) {
	cs.mu.Lock()
	cs.listener = fn
	cs.mu.Unlock()

	cs.dispatch.Do(func() {
		go cs.dispatchLoop()
	})
}

func (cs *callSession) dispatchLoop() {
	for st := range cs.events {
		cs.mu.Lock()
		fn := cs.listener
		cs.mu.Unlock()
		if fn != nil {
			fn(st)
		}
	}
}

func (cs *callSession) setState(st phone.HandleState) {
	cs.mu.Lock()
	if cs.eventsClosed || cs.state == st {
		cs.mu.Unlock()
		return
	}
	cs.state = st
	// отправка под mu: проверка eventsClosed и запись в канал атомарны
	// относительно close в cleanup. Блокировки нет, буфер канала больше
	// числа различимых переходов жизненного цикла.
	cs.events <- st
	cs.mu.Unlock()

	cs.log.Debug("session state",
		slog.String("call_id", cs.id),
		slog.String("state", string(st)))
}

// MediaTransport возвращает согласованный медиа транспорт сессии
func (cs *callSession) MediaTransport() (mediabridge.Transport, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.media == nil {
		return nil, errors.New("no negotiated media transport")
	}
	return cs.media, nil
}

// Terminate завершает сессию подходящим примитивом:
// CANCEL для неотвеченного исходящего INVITE, отказ для неотвеченного
// входящего, BYE для установленного диалога. Повторный вызов это no-op.
func (cs *callSession) Terminate(ctx context.Context) error {
	if !cs.terminated.CompareAndSwap(false, true) {
		return nil
	}
	cs.setState(phone.HandleTerminating)

	var err error
	switch {
	case cs.kind == phone.SessionOutgoing && !cs.establishedOK():
		err = cs.sendCancel()
	case cs.kind == phone.SessionIncoming && !cs.answered.Load():
		err = cs.respondFinal(603, "Decline")
	default:
		err = cs.sendBye(ctx)
	}

	cs.setState(phone.HandleTerminated)
	cs.cleanup()
	if err != nil {
		return errors.Wrap(phone.ErrTransportFailure, err.Error())
	}
	return nil
}

// remoteTerminated завершает сессию по инициативе удаленной стороны:
// BYE установленного диалога или CANCEL неотвеченного INVITE
func (cs *callSession) remoteTerminated() {
	if !cs.terminated.CompareAndSwap(false, true) {
		return
	}
	cs.setState(phone.HandleTerminating)
	cs.setState(phone.HandleTerminated)
	cs.cleanup()
}

// fail завершает неудавшуюся исходящую сессию без сетевых операций
func (cs *callSession) fail(reason string) {
	if !cs.terminated.CompareAndSwap(false, true) {
		return
	}
	cs.log.Debug("session failed",
		slog.String("call_id", cs.id),
		slog.String("reason", reason))
	cs.setState(phone.HandleTerminated)
	cs.cleanup()
}

func (cs *callSession) establishedOK() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.inviteOK != nil
}

// cleanup снимает сессию с учета, закрывает медиа и канал событий.
// После закрытия канала setState становится no-op.
func (cs *callSession) cleanup() {
	cs.stack.removeSession(cs.id)

	cs.mu.Lock()
	media := cs.media
	cs.media = nil
	if !cs.eventsClosed {
		cs.eventsClosed = true
		close(cs.events)
	}
	cs.mu.Unlock()

	if media != nil {
		_ = media.Close()
	}
}

// sendBye отправляет внутридиалоговый BYE и дожидается финального ответа
func (cs *callSession) sendBye(ctx context.Context) error {
	req := cs.byeRequest()

	tx, err := cs.stack.client.TransactionRequest(ctx, req, sipgo.ClientRequestAddVia)
	if err != nil {
		return err
	}
	defer tx.Terminate()

	res, err := waitFinal(ctx, tx)
	if err != nil {
		return err
	}
	if res.StatusCode >= 300 {
		cs.log.Debug("bye rejected",
			slog.String("call_id", cs.id),
			slog.Int("status", int(res.StatusCode)))
	}
	return nil
}

// byeRequest строит внутридиалоговый BYE.
// Локальная сторона исходящей сессии это From приглашения,
// у входящей стороны роли заголовков зеркальные.
func (cs *callSession) byeRequest() *sip.Request {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	req := sip.NewRequest(sip.BYE, cs.remoteTarget)

	if cs.kind == phone.SessionOutgoing {
		if h := cs.invite.From(); h != nil {
			req.AppendHeader(sip.HeaderClone(h))
		}
		if cs.inviteOK != nil {
			if h := cs.inviteOK.To(); h != nil {
				req.AppendHeader(sip.HeaderClone(h))
			}
		}
	} else {
		from := &sip.FromHeader{
			Address: cs.invite.To().Address,
			Params:  sip.NewParams(),
		}
		from.Params.Add("tag", cs.localTag)
		req.AppendHeader(from)

		to := &sip.ToHeader{
			Address: cs.invite.From().Address,
			Params:  sip.NewParams(),
		}
		to.Params.Add("tag", cs.remoteTag)
		req.AppendHeader(to)
	}

	if h := cs.invite.CallID(); h != nil {
		req.AppendHeader(sip.HeaderClone(h))
	}
	req.AppendHeader(&sip.CSeqHeader{SeqNo: cs.cseq.Add(1), MethodName: sip.BYE})

	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	return req
}

// ackRequest строит ACK на 2xx внутри диалога: From, Call-ID, Via
// и номер CSeq берутся из приглашения, To с тегом удаленной стороны
// из финального ответа.
func ackRequest(invite *sip.Request, ok *sip.Response) *sip.Request {
	recipient := invite.Recipient
	if ct := ok.Contact(); ct != nil {
		recipient = ct.Address
	}

	req := sip.NewRequest(sip.ACK, recipient)
	req.SipVersion = invite.SipVersion

	if via := invite.Via(); via != nil {
		req.AppendHeader(via.Clone())
	}
	sip.CopyHeaders("Route", invite, req)
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)

	if h := invite.From(); h != nil {
		req.AppendHeader(sip.HeaderClone(h))
	}
	if h := ok.To(); h != nil {
		req.AppendHeader(sip.HeaderClone(h))
	}
	if h := invite.CallID(); h != nil {
		req.AppendHeader(sip.HeaderClone(h))
	}
	if h := invite.CSeq(); h != nil {
		req.AppendHeader(&sip.CSeqHeader{SeqNo: h.SeqNo, MethodName: sip.ACK})
	}

	req.SetTransport(invite.Transport())
	req.SetDestination(invite.Destination())
	return req
}

// sendCancel отменяет неотвеченный исходящий INVITE.
// CANCEL копирует Via, From, To, Call-ID и номер CSeq приглашения,
// финальный 487 придет на транзакцию самого INVITE.
func (cs *callSession) sendCancel() error {
	cs.mu.Lock()
	invite := cs.invite
	cs.mu.Unlock()

	req := sip.NewRequest(sip.CANCEL, invite.Recipient)
	req.SipVersion = invite.SipVersion

	if via := invite.Via(); via != nil {
		req.AppendHeader(via.Clone())
	}
	sip.CopyHeaders("Route", invite, req)
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)

	if h := invite.From(); h != nil {
		req.AppendHeader(sip.HeaderClone(h))
	}
	if h := invite.To(); h != nil {
		req.AppendHeader(sip.HeaderClone(h))
	}
	if h := invite.CallID(); h != nil {
		req.AppendHeader(sip.HeaderClone(h))
	}
	if h := invite.CSeq(); h != nil {
		req.AppendHeader(&sip.CSeqHeader{SeqNo: h.SeqNo, MethodName: sip.CANCEL})
	}

	req.SetTransport(invite.Transport())
	req.SetDestination(invite.Destination())

	return cs.stack.client.WriteRequest(req)
}

// respondFinal отвечает финальным кодом на входящий INVITE
func (cs *callSession) respondFinal(status int, reason string) error {
	cs.mu.Lock()
	invite := cs.invite
	tx := cs.serverTx
	localTag := cs.localTag
	cs.mu.Unlock()

	if tx == nil {
		return errors.New("no server transaction")
	}

	res := sip.NewResponseFromRequest(invite, status, reason, nil)
	ensureToTag(res, localTag)
	return tx.Respond(res)
}

// ensureToTag добавляет локальный tag в To финального ответа UAS
func ensureToTag(res *sip.Response, tag string) {
	to := res.To()
	if to == nil {
		return
	}
	if to.Params == nil {
		to.Params = sip.NewParams()
	}
	if _, ok := to.Params.Get("tag"); !ok {
		to.Params.Add("tag", tag)
	}
}

// remotePartyOfUri извлекает идентификатор абонента из URI
func remotePartyOfUri(uri sip.Uri) string {
	if uri.User != "" {
		return uri.User
	}
	return uri.Host
}

// remotePartyOfFrom предпочитает отображаемое имя, затем URI
func remotePartyOfFrom(from *sip.FromHeader) string {
	if from == nil {
		return ""
	}
	if from.DisplayName != "" {
		return from.DisplayName
	}
	return remotePartyOfUri(from.Address)
}

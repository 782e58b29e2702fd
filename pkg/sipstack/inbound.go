package sipstack

import (
	"context"
	"log/slog"

	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"

	"github.com/arzzra/phone/pkg/mediabridge"
	"github.com/arzzra/phone/pkg/phone"
)

// handleInvite принимает входящий INVITE: создает сессию, отвечает
// 100 и 180 и отдает хендл обработчику входящих. Решение об ответе
// или отказе принимает ядро.
func (s *Stack) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	incoming := s.incomingHandler()
	if incoming == nil {
		res := sip.NewResponseFromRequest(req, 480, "Temporarily Unavailable", nil)
		if err := tx.Respond(res); err != nil {
			s.log.Error("invite reject failed", slog.String("error", err.Error()))
		}
		return
	}

	callID := req.CallID()
	if callID == nil {
		res := sip.NewResponseFromRequest(req, 400, "Missing Call-ID", nil)
		_ = tx.Respond(res)
		return
	}
	if existing := s.findSession(callID.Value()); existing != nil {
		// ретрансмиссия обслуживаемого приглашения
		return
	}

	cs := &callSession{
		id:          callID.Value(),
		kind:        phone.SessionIncoming,
		stack:       s,
		log:         s.log,
		remoteParty: remotePartyOfFrom(req.From()),
		state:       phone.HandleInitial,
		events:      make(chan phone.HandleState, sessionEventBuffer),
		localTag:    sip.GenerateTagN(16),
		invite:      req,
		serverTx:    tx,
	}
	if from := req.From(); from != nil && from.Params != nil {
		cs.remoteTag, _ = from.Params.Get("tag")
	}
	if ct := req.Contact(); ct != nil {
		cs.remoteTarget = ct.Address
	} else if from := req.From(); from != nil {
		cs.remoteTarget = from.Address
	}
	if cseq := req.CSeq(); cseq != nil {
		cs.cseq.Store(cseq.SeqNo)
	}
	s.addSession(cs)

	trying := sip.NewResponseFromRequest(req, 100, "Trying", nil)
	if err := tx.Respond(trying); err != nil {
		s.log.Error("trying failed", slog.String("error", err.Error()))
	}
	ringing := sip.NewResponseFromRequest(req, 180, "Ringing", nil)
	ensureToTag(ringing, cs.localTag)
	if err := tx.Respond(ringing); err != nil {
		s.log.Error("ringing failed", slog.String("error", err.Error()))
	}
	cs.setState(phone.HandleEstablishing)

	s.log.Debug("incoming invite",
		slog.String("call_id", cs.id),
		slog.String("remote", cs.remoteParty))
	incoming(cs)
}

// handleAck завершает установление входящего диалога
func (s *Stack) handleAck(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID()
	if callID == nil {
		return
	}
	cs := s.findSession(callID.Value())
	if cs == nil {
		return
	}
	if cs.kind == phone.SessionIncoming && cs.answered.Load() {
		cs.setState(phone.HandleEstablished)
	}
}

// handleBye завершает диалог по инициативе удаленной стороны
func (s *Stack) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	if err := tx.Respond(res); err != nil {
		s.log.Error("bye response failed", slog.String("error", err.Error()))
	}

	callID := req.CallID()
	if callID == nil {
		return
	}
	if cs := s.findSession(callID.Value()); cs != nil {
		s.log.Debug("remote bye", slog.String("call_id", cs.id))
		cs.remoteTerminated()
	}
}

// handleCancel отменяет неотвеченный входящий INVITE
func (s *Stack) handleCancel(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	if err := tx.Respond(res); err != nil {
		s.log.Error("cancel response failed", slog.String("error", err.Error()))
	}

	callID := req.CallID()
	if callID == nil {
		return
	}
	cs := s.findSession(callID.Value())
	if cs == nil || cs.answered.Load() {
		// отмена отвеченного приглашения игнорируется
		return
	}
	if err := cs.respondFinal(487, "Request Terminated"); err != nil {
		s.log.Debug("487 response failed",
			slog.String("call_id", cs.id),
			slog.String("error", err.Error()))
	}
	s.log.Debug("remote cancel", slog.String("call_id", cs.id))
	cs.remoteTerminated()
}

// Accept отвечает на входящий INVITE с SDP ответом.
// Медиа транспорт открывается до отправки 200, так что хендл готов
// отдать его мосту сразу после возврата. Событие Established придет
// после ACK удаленной стороны.
func (cs *callSession) Accept(ctx context.Context) error {
	if cs.kind != phone.SessionIncoming {
		return errors.Wrap(phone.ErrNoActiveSession, "accept on outgoing session")
	}
	if cs.terminated.Load() {
		return errors.Wrap(phone.ErrNoActiveSession, "session already terminated")
	}
	if !cs.answered.CompareAndSwap(false, true) {
		return nil
	}

	remote, pt, err := parseSDP(cs.invite.Body())
	if err != nil {
		cs.answered.Store(false)
		if rerr := cs.respondFinal(488, "Not Acceptable Here"); rerr != nil {
			cs.log.Debug("488 response failed", slog.String("error", rerr.Error()))
		}
		cs.remoteTerminated()
		return errors.Wrap(phone.ErrMediaAttachFailure, err.Error())
	}

	mediaCfg := cs.stack.mediaCfg
	mediaCfg.PayloadType = pt
	media, err := mediabridge.NewUDPTransport(mediaCfg)
	if err != nil {
		cs.answered.Store(false)
		return errors.Wrap(phone.ErrTransportFailure, err.Error())
	}
	media.SetRemote(remote)

	answer, err := buildSDP(cs.stack.contact.Address.Host, media.LocalAddr().Port, []uint8{pt})
	if err != nil {
		cs.answered.Store(false)
		_ = media.Close()
		return errors.Wrap(phone.ErrTransportFailure, err.Error())
	}

	ok := sip.NewResponseFromRequest(cs.invite, 200, "OK", answer)
	ensureToTag(ok, cs.localTag)
	contact := cs.stack.contact
	ok.AppendHeader(&contact)
	ok.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))

	cs.mu.Lock()
	tx := cs.serverTx
	cs.mu.Unlock()
	if err := tx.Respond(ok); err != nil {
		cs.answered.Store(false)
		_ = media.Close()
		return errors.Wrap(phone.ErrTransportFailure, err.Error())
	}

	cs.mu.Lock()
	cs.media = media
	cs.mu.Unlock()

	cs.log.Debug("invite accepted", slog.String("call_id", cs.id))
	return nil
}

// Reject отклоняет неотвеченный входящий INVITE кодом 486
func (cs *callSession) Reject(ctx context.Context) error {
	if cs.kind != phone.SessionIncoming {
		return errors.Wrap(phone.ErrNoActiveSession, "reject on outgoing session")
	}
	if cs.answered.Load() {
		return errors.Wrap(phone.ErrNoActiveSession, "session already answered")
	}
	if !cs.terminated.CompareAndSwap(false, true) {
		return nil
	}

	err := cs.respondFinal(486, "Busy Here")
	cs.setState(phone.HandleTerminated)
	cs.cleanup()
	if err != nil {
		return errors.Wrap(phone.ErrTransportFailure, err.Error())
	}
	cs.log.Debug("invite rejected", slog.String("call_id", cs.id))
	return nil
}

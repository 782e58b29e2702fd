package sipstack

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/arzzra/phone/pkg/mediabridge"
	"github.com/arzzra/phone/pkg/phone"
)

// Invite инициирует исходящую сессию: открывает медиа транспорт,
// отправляет INVITE с SDP предложением и возвращает хендл сессии.
// Дальнейший прогресс приглашения доставляется событиями хендла.
func (s *Stack) Invite(ctx context.Context, target sip.Uri) (phone.ICallHandle, error) {
	media, err := mediabridge.NewUDPTransport(s.mediaCfg)
	if err != nil {
		return nil, errors.Wrap(phone.ErrTransportFailure, err.Error())
	}

	offer, err := buildSDP(s.contact.Address.Host, media.LocalAddr().Port, offeredPayloadTypes)
	if err != nil {
		_ = media.Close()
		return nil, errors.Wrap(phone.ErrTransportFailure, err.Error())
	}

	callID := uuid.NewString()
	localTag := sip.GenerateTagN(16)
	req := s.inviteRequest(target, callID, localTag, offer)

	cs := &callSession{
		id:           callID,
		kind:         phone.SessionOutgoing,
		stack:        s,
		log:          s.log,
		remoteParty:  remotePartyOfUri(target),
		state:        phone.HandleInitial,
		events:       make(chan phone.HandleState, sessionEventBuffer),
		media:        media,
		localTag:     localTag,
		invite:       req,
		remoteTarget: target,
	}
	if cseq := req.CSeq(); cseq != nil {
		cs.cseq.Store(cseq.SeqNo)
	}

	tx, err := s.client.TransactionRequest(ctx, req, sipgo.ClientRequestAddVia)
	if err != nil {
		_ = media.Close()
		return nil, errors.Wrap(phone.ErrTransportFailure, err.Error())
	}

	s.addSession(cs)
	// вызов живет дольше контекста операции originate
	go cs.runOutbound(context.WithoutCancel(ctx), tx)

	s.log.Debug("invite sent",
		slog.String("call_id", callID),
		slog.String("target", target.String()))
	return cs, nil
}

func (s *Stack) inviteRequest(target sip.Uri, callID, localTag string, offer []byte) *sip.Request {
	req := sip.NewRequest(sip.INVITE, target)

	from := &sip.FromHeader{
		DisplayName: s.ep.DisplayName,
		Address:     s.identity(),
		Params:      sip.NewParams(),
	}
	from.Params.Add("tag", localTag)
	req.AppendHeader(from)
	req.AppendHeader(&sip.ToHeader{Address: target, Params: sip.NewParams()})

	contact := s.contact
	req.AppendHeader(&contact)

	cid := sip.CallIDHeader(callID)
	req.AppendHeader(&cid)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.INVITE})

	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)

	req.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	req.SetBody(offer)
	return req
}

// runOutbound ведет клиентскую транзакцию INVITE до финального исхода.
// Digest challenge обслуживается один раз повтором приглашения.
func (cs *callSession) runOutbound(ctx context.Context, tx sip.ClientTransaction) {
	authRetried := false
	req := cs.invite

	for {
		var res *sip.Response
		select {
		case <-ctx.Done():
			tx.Terminate()
			cs.fail("context canceled")
			return
		case <-tx.Done():
			if cs.terminated.Load() {
				return
			}
			if err := tx.Err(); err != nil {
				cs.fail(err.Error())
				return
			}
			cs.fail("transaction ended without final response")
			return
		case res = <-tx.Responses():
		}

		switch {
		case res.StatusCode == 100:
			continue

		case res.StatusCode < 200:
			cs.setState(phone.HandleEstablishing)

		case res.StatusCode < 300:
			cs.completeOutbound(req, res)
			return

		case (res.StatusCode == 401 || res.StatusCode == 407) && !authRetried:
			// ACK на не-2xx генерирует транзакционный слой
			authRetried = true
			tx.Terminate()

			authReq, err := withAuthorization(req, res, cs.stack.ep)
			if err != nil {
				cs.fail(err.Error())
				return
			}
			authTx, err := cs.stack.client.TransactionRequest(ctx, authReq,
				sipgo.ClientRequestIncreaseCSEQ,
				sipgo.ClientRequestAddVia,
			)
			if err != nil {
				cs.fail(err.Error())
				return
			}

			cs.mu.Lock()
			cs.invite = authReq
			if cseq := authReq.CSeq(); cseq != nil {
				cs.cseq.Store(cseq.SeqNo)
			}
			cs.mu.Unlock()
			req, tx = authReq, authTx

		case res.StatusCode == 487:
			// наш CANCEL уже завершил сессию
			return

		default:
			cs.fail(fmt.Sprintf("call rejected: %d %s", res.StatusCode, res.Reason))
			return
		}
	}
}

// completeOutbound фиксирует установленный диалог: ACK на 2xx,
// адрес и payload type из SDP ответа, событие Established
func (cs *callSession) completeOutbound(req *sip.Request, res *sip.Response) {
	cs.mu.Lock()
	cs.inviteOK = res
	if ct := res.Contact(); ct != nil {
		cs.remoteTarget = ct.Address
	}
	if to := res.To(); to != nil && to.Params != nil {
		cs.remoteTag, _ = to.Params.Get("tag")
	}
	media := cs.media
	cs.mu.Unlock()

	if err := cs.stack.client.WriteRequest(ackRequest(req, res)); err != nil {
		cs.log.Error("ack failed",
			slog.String("call_id", cs.id),
			slog.String("error", err.Error()))
	}

	if media != nil {
		remote, pt, err := parseSDP(res.Body())
		if err != nil {
			// без ответного SDP звука не будет, но диалог установлен
			cs.log.Error("sdp answer rejected",
				slog.String("call_id", cs.id),
				slog.String("error", err.Error()))
		} else {
			media.SetRemote(remote)
			media.SetPayloadType(pt)
		}
	}

	cs.setState(phone.HandleEstablished)
}

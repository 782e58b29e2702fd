package sipstack

import (
	"context"
	"strconv"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"
	"github.com/pkg/errors"

	"github.com/arzzra/phone/pkg/phone"
)

// buildRegister собирает REGISTER с заданным сроком привязки.
// Expires: 0 снимает регистрацию.
func (s *Stack) buildRegister(expires int) *sip.Request {
	req := sip.NewRequest(sip.REGISTER, s.ep.Registrar)

	from := &sip.FromHeader{
		DisplayName: s.ep.DisplayName,
		Address:     s.identity(),
		Params:      sip.NewParams(),
	}
	from.Params.Add("tag", sip.GenerateTagN(16))
	req.AppendHeader(from)
	// Params инициализируется явно: ответ на запрос пишет туда to-tag
	req.AppendHeader(&sip.ToHeader{Address: s.identity(), Params: sip.NewParams()})

	contact := s.contact
	req.AppendHeader(&contact)

	callID := sip.CallIDHeader(s.regCallID)
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: s.regSeq.Add(1), MethodName: sip.REGISTER})

	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	req.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(expires)))
	return req
}

// register выполняет один цикл регистрации, включая ответ на digest
// challenge. Ошибки типизированы таксономией ядра: отклоненные учетные
// данные как ErrAuthRejected, все остальное как ErrTransportFailure.
func (s *Stack) register(ctx context.Context, expires int) error {
	req := s.buildRegister(expires)

	tx, err := s.client.TransactionRequest(ctx, req, sipgo.ClientRequestAddVia)
	if err != nil {
		return errors.Wrap(phone.ErrTransportFailure, err.Error())
	}
	defer tx.Terminate()

	res, err := waitFinal(ctx, tx)
	if err != nil {
		return errors.Wrap(phone.ErrTransportFailure, err.Error())
	}

	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		return nil
	case res.StatusCode == 401 || res.StatusCode == 407:
		return s.registerWithAuth(ctx, req, res)
	case res.StatusCode == 403:
		return errors.Wrapf(phone.ErrAuthRejected,
			"registrar response %d %s", res.StatusCode, res.Reason)
	default:
		return errors.Wrapf(phone.ErrTransportFailure,
			"unexpected registrar response %d %s", res.StatusCode, res.Reason)
	}
}

// registerWithAuth повторяет REGISTER с digest ответом на challenge.
// Повторный challenge означает отклоненные учетные данные.
func (s *Stack) registerWithAuth(ctx context.Context, req *sip.Request, challenge *sip.Response) error {
	authReq, err := withAuthorization(req, challenge, s.ep)
	if err != nil {
		return err
	}

	tx, err := s.client.TransactionRequest(ctx, authReq,
		sipgo.ClientRequestIncreaseCSEQ,
		sipgo.ClientRequestAddVia,
	)
	if err != nil {
		return errors.Wrap(phone.ErrTransportFailure, err.Error())
	}
	defer tx.Terminate()

	res, err := waitFinal(ctx, tx)
	if err != nil {
		return errors.Wrap(phone.ErrTransportFailure, err.Error())
	}

	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		return nil
	case res.StatusCode == 401 || res.StatusCode == 403 || res.StatusCode == 407:
		return errors.Wrapf(phone.ErrAuthRejected,
			"registrar response %d %s", res.StatusCode, res.Reason)
	default:
		return errors.Wrapf(phone.ErrTransportFailure,
			"unexpected registrar response %d %s", res.StatusCode, res.Reason)
	}
}

// withAuthorization строит повтор запроса с digest ответом на challenge
// из 401 или 407. Via удаляется, транзакционный слой добавит новый.
func withAuthorization(req *sip.Request, res *sip.Response, ep phone.Endpoint) (*sip.Request, error) {
	challengeHeader := "WWW-Authenticate"
	authzHeader := "Authorization"
	if res.StatusCode == 407 {
		challengeHeader = "Proxy-Authenticate"
		authzHeader = "Proxy-Authorization"
	}

	hdr := res.GetHeader(challengeHeader)
	if hdr == nil {
		return nil, errors.Wrapf(phone.ErrTransportFailure,
			"%d response without %s header", res.StatusCode, challengeHeader)
	}

	chal, err := digest.ParseChallenge(hdr.Value())
	if err != nil {
		return nil, errors.Wrapf(phone.ErrTransportFailure,
			"parsing auth challenge: %s", err.Error())
	}

	cred, err := digest.Digest(chal, digest.Options{
		Method:   req.Method.String(),
		URI:      req.Recipient.String(),
		Username: ep.Username,
		Password: ep.Password,
	})
	if err != nil {
		return nil, errors.Wrapf(phone.ErrAuthRejected,
			"computing digest: %s", err.Error())
	}

	authReq := req.Clone()
	authReq.RemoveHeader("Via")
	authReq.AppendHeader(sip.NewHeader(authzHeader, cred.String()))
	return authReq, nil
}

// waitFinal ждет финальный ответ клиентской транзакции,
// пропуская провизорные
func waitFinal(ctx context.Context, tx sip.ClientTransaction) (*sip.Response, error) {
	for {
		select {
		case <-ctx.Done():
			tx.Terminate()
			return nil, ctx.Err()
		case <-tx.Done():
			if err := tx.Err(); err != nil {
				return nil, err
			}
			return nil, errors.New("transaction ended without final response")
		case res := <-tx.Responses():
			if res.StatusCode < 200 {
				continue
			}
			return res, nil
		}
	}
}

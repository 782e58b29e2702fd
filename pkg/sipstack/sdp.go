package sipstack

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/pion/sdp/v3"
	"github.com/pkg/errors"

	"github.com/arzzra/phone/pkg/mediabridge"
)

// offeredPayloadTypes кодеки предложения в порядке предпочтения
var offeredPayloadTypes = []uint8{
	mediabridge.PayloadTypePCMU,
	mediabridge.PayloadTypePCMA,
}

func rtpmapValue(pt uint8) string {
	if pt == mediabridge.PayloadTypePCMA {
		return fmt.Sprintf("%d PCMA/8000", pt)
	}
	return fmt.Sprintf("%d PCMU/8000", pt)
}

// buildSDP собирает описание единственной аудио линии G.711
func buildSDP(host string, port int, payloadTypes []uint8) ([]byte, error) {
	formats := make([]string, 0, len(payloadTypes))
	attrs := make([]sdp.Attribute, 0, len(payloadTypes)+1)
	for _, pt := range payloadTypes {
		formats = append(formats, strconv.Itoa(int(pt)))
		attrs = append(attrs, sdp.Attribute{Key: "rtpmap", Value: rtpmapValue(pt)})
	}
	attrs = append(attrs, sdp.Attribute{Key: "sendrecv"})

	sessID := uint64(time.Now().UnixNano())
	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      sessID,
			SessionVersion: sessID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: host,
		},
		SessionName: "phone",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: host},
		},
		TimeDescriptions: []sdp.TimeDescription{{}},
		MediaDescriptions: []*sdp.MediaDescription{{
			MediaName: sdp.MediaName{
				Media:   "audio",
				Port:    sdp.RangedPort{Value: port},
				Protos:  []string{"RTP", "AVP"},
				Formats: formats,
			},
			Attributes: attrs,
		}},
	}
	return desc.Marshal()
}

// parseSDP извлекает адрес аудио линии и первый поддерживаемый
// payload type из описания удаленной стороны
func parseSDP(body []byte) (*net.UDPAddr, uint8, error) {
	if len(body) == 0 {
		return nil, 0, errors.New("empty session description")
	}

	desc := sdp.SessionDescription{}
	if err := desc.Unmarshal(body); err != nil {
		return nil, 0, errors.Wrap(err, "failed to parse sdp")
	}

	var audio *sdp.MediaDescription
	for _, m := range desc.MediaDescriptions {
		if m.MediaName.Media == "audio" {
			audio = m
			break
		}
	}
	if audio == nil {
		return nil, 0, errors.New("no audio media in sdp")
	}

	host := ""
	if audio.ConnectionInformation != nil && audio.ConnectionInformation.Address != nil {
		host = audio.ConnectionInformation.Address.Address
	} else if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
		host = desc.ConnectionInformation.Address.Address
	}
	if host == "" {
		return nil, 0, errors.New("no connection address in sdp")
	}

	port := audio.MediaName.Port.Value
	if port == 0 {
		return nil, 0, errors.New("audio media is disabled")
	}

	for _, f := range audio.MediaName.Formats {
		v, err := strconv.Atoi(f)
		if err != nil {
			continue
		}
		pt := uint8(v)
		if mediabridge.SupportedPayloadType(pt) {
			ip := net.ParseIP(host)
			if ip == nil {
				return nil, 0, fmt.Errorf("invalid connection address %q", host)
			}
			return &net.UDPAddr{IP: ip, Port: port}, pt, nil
		}
	}
	return nil, 0, errors.New("no supported audio codec in sdp")
}

package mediabridge

import (
	"fmt"

	"github.com/zaf/g711"
)

// Payload типы из RFC 3551, которые мост умеет декодировать в PCM
const (
	PayloadTypePCMU = uint8(0) // G.711 μ-law
	PayloadTypePCMA = uint8(8) // G.711 A-law
)

// decodePayload декодирует полезную нагрузку RTP пакета в 16-битный LPCM.
// Неизвестные payload типы не являются ошибкой потока в целом,
// вызывающая сторона просто пропускает такой кадр.
func decodePayload(payloadType uint8, payload []byte) ([]byte, error) {
	switch payloadType {
	case PayloadTypePCMU:
		return g711.DecodeUlaw(payload), nil
	case PayloadTypePCMA:
		return g711.DecodeAlaw(payload), nil
	default:
		return nil, fmt.Errorf("unsupported payload type: %d", payloadType)
	}
}

// SupportedPayloadType сообщает, сможет ли мост декодировать данный payload type
func SupportedPayloadType(payloadType uint8) bool {
	return payloadType == PayloadTypePCMU || payloadType == PayloadTypePCMA
}

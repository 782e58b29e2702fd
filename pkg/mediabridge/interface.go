package mediabridge

import (
	"net"

	"github.com/pion/rtp"
)

// Track представляет один входящий медиа поток внутри транспорта.
// Чтение блокируется до прихода следующего RTP пакета.
type Track interface {
	// ID возвращает идентификатор трека внутри транспорта
	ID() string
	// PayloadType возвращает согласованный payload type трека
	PayloadType() uint8
	// ReadRTP читает следующий RTP пакет трека
	ReadRTP() (*rtp.Packet, error)
	// Close останавливает трек, после чего ReadRTP возвращает ошибку
	Close() error
}

// Receiver это принимающее направление одной медиа линии транспорта.
type Receiver interface {
	Track() Track
}

// Transport это согласованный медиа транспорт установленной сессии.
// Владельцем транспорта остается сигнальный слой, мост только читает.
type Transport interface {
	// LocalAddr возвращает локальный адрес транспорта
	LocalAddr() *net.UDPAddr
	// Receivers перечисляет входящие приемники транспорта.
	// Пустой список допустим: сессия может быть только сигнальной.
	Receivers() []Receiver
	// Close закрывает транспорт и все его треки
	Close() error
}

// TransportProvider отдает медиа транспорт сессии.
// Реализуется хендлом сигнальной сессии.
type TransportProvider interface {
	MediaTransport() (Transport, error)
}

// PlaybackSink это устройство воспроизведения, предоставленное извне.
// Мост единственный, кто пишет в sink; презентационный слой только читает.
type PlaybackSink interface {
	// SetStream назначает источник воспроизведения.
	// nil отсоединяет текущий поток и очищает выход.
	SetStream(stream *Stream) error
	// Play запускает воспроизведение назначенного потока
	Play() error
	// Stop останавливает воспроизведение. Безопасен без назначенного потока.
	Stop() error
}

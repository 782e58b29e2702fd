// Package mediabridge связывает согласованный медиа транспорт установленной
// сессии с устройством воспроизведения.
//
// Пакет не владеет состоянием сигнализации. Он получает транспортный объект
// от хендла сессии, собирает из его приемников составной поток декодированного
// PCM аудио и назначает этот поток в playback sink. При завершении сессии
// привязка полностью освобождается: треки останавливаются, поток отсоединяется.
//
// Основные типы:
//   - Bridge - создание и освобождение медиа привязки
//   - Transport / Receiver / Track - абстракция принимающей стороны RTP
//   - Stream - составной поток PCM кадров из нескольких треков
//   - PlaybackSink - выходное устройство (задается извне)
package mediabridge

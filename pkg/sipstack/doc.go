// Package sipstack реализует клиента сигнального стека поверх sipgo.
//
// Пакет закрывает интерфейсы ядра phone.ISignaling и phone.ICallHandle:
// регистрация с digest авторизацией, исходящий INVITE с SDP предложением,
// диспетчеризация входящих INVITE, выбор корректного примитива завершения
// (CANCEL до ответа, BYE после) и доступ к согласованному медиа транспорту.
//
// Стек владеет sipgo компонентами (UserAgent, Server, Client) и таблицей
// активных сессий по Call-ID. События сессий доставляются слушателям
// последовательно, в порядке получения из транспорта.
package sipstack

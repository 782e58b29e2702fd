// Package phone реализует клиентское ядро управления вызовами:
// машину состояний регистрации и машину состояний единственного
// активного вызова с передачей согласованного медиа на воспроизведение.
//
// Два контроллера:
//   - Connection владеет жизненным циклом регистрации на регистраторе
//     и клиентом сигнального стека
//   - Session ведет ровно один вызов, исходящий или входящий,
//     и отклоняет конфликтующие попытки второго
//
// Сам сетевой протокол делегирован внешнему сигнальному стеку через
// интерфейс ISignaling (реализация поверх sipgo в pkg/sipstack),
// транспорт медиа и воспроизведение - пакету mediabridge.
//
// Презентационный слой наблюдает State контроллеров и вызывает их
// операции: Connect, Disconnect, Originate, Accept, Reject, Terminate.
package phone

package phone

import (
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/pkg/errors"
)

// Config учетные данные аккаунта на сигнальном регистраторе.
// Пригодна к использованию только когда все три поля непусты.
type Config struct {
	// Registrar адрес регистратора, со схемой или без
	// (например "sip.example.com" или "sips:sip.example.com")
	Registrar string
	// Username имя пользователя аккаунта
	Username string
	// Password пароль аккаунта
	Password string
	// DisplayName отображаемое имя, опционально
	DisplayName string
}

// Validate проверяет что конфигурация пригодна для подключения
func (c Config) Validate() error {
	if strings.TrimSpace(c.Registrar) == "" {
		return errors.Wrap(ErrConfigInvalid, "registrar address is empty")
	}
	if strings.TrimSpace(c.Username) == "" {
		return errors.Wrap(ErrConfigInvalid, "username is empty")
	}
	if strings.TrimSpace(c.Password) == "" {
		return errors.Wrap(ErrConfigInvalid, "password is empty")
	}
	return nil
}

// Endpoint полностью определенная цель подключения:
// нормализованный URI регистратора плюс учетные данные.
type Endpoint struct {
	Registrar   sip.Uri
	Username    string
	Password    string
	DisplayName string
}

// NormalizeRegistrar превращает адрес регистратора в полный URI.
// Адрес без схемы получает защищенную схему sips, явная схема сохраняется.
func NormalizeRegistrar(addr string) (sip.Uri, error) {
	addr = strings.TrimSpace(addr)

	var uri sip.Uri
	if !strings.HasPrefix(addr, "sip:") && !strings.HasPrefix(addr, "sips:") {
		addr = "sips:" + addr
	}
	if err := sip.ParseUri(addr, &uri); err != nil {
		return sip.Uri{}, errors.Wrap(err, "failed to parse registrar address")
	}
	return uri, nil
}

// Endpoint строит цель подключения из валидной конфигурации
func (c Config) Endpoint() (Endpoint, error) {
	if err := c.Validate(); err != nil {
		return Endpoint{}, err
	}
	registrar, err := NormalizeRegistrar(c.Registrar)
	if err != nil {
		return Endpoint{}, errors.Wrap(ErrConfigInvalid, err.Error())
	}
	return Endpoint{
		Registrar:   registrar,
		Username:    c.Username,
		Password:    c.Password,
		DisplayName: c.DisplayName,
	}, nil
}

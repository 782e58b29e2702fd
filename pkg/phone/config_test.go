package phone

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "Валидная конфигурация",
			config:  Config{Registrar: "sip.example.com", Username: "alice", Password: "secret"},
			wantErr: false,
		},
		{
			name:    "Отображаемое имя опционально",
			config:  Config{Registrar: "sip.example.com", Username: "alice", Password: "secret", DisplayName: "Alice"},
			wantErr: false,
		},
		{
			name:    "Пустой регистратор",
			config:  Config{Username: "alice", Password: "secret"},
			wantErr: true,
		},
		{
			name:    "Пустое имя пользователя",
			config:  Config{Registrar: "sip.example.com", Password: "secret"},
			wantErr: true,
		},
		{
			name:    "Пустой пароль",
			config:  Config{Registrar: "sip.example.com", Username: "alice"},
			wantErr: true,
		},
		{
			name:    "Регистратор из одних пробелов",
			config:  Config{Registrar: "   ", Username: "alice", Password: "secret"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrConfigInvalid))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNormalizeRegistrar(t *testing.T) {
	t.Run("Адрес без схемы получает sips", func(t *testing.T) {
		uri, err := NormalizeRegistrar("sip.example.com")
		require.NoError(t, err)
		assert.Equal(t, "sips", uri.Scheme)
		assert.Equal(t, "sip.example.com", uri.Host)
	})

	t.Run("Явная схема sip сохраняется", func(t *testing.T) {
		uri, err := NormalizeRegistrar("sip:sip.example.com:5080")
		require.NoError(t, err)
		assert.Equal(t, "sip", uri.Scheme)
		assert.Equal(t, "sip.example.com", uri.Host)
		assert.Equal(t, 5080, uri.Port)
	})

	t.Run("Явная схема sips сохраняется", func(t *testing.T) {
		uri, err := NormalizeRegistrar("sips:secure.example.com")
		require.NoError(t, err)
		assert.Equal(t, "sips", uri.Scheme)
		assert.Equal(t, "secure.example.com", uri.Host)
	})
}

func TestConfig_Endpoint(t *testing.T) {
	t.Run("Успешная сборка endpoint", func(t *testing.T) {
		ep, err := validConfig().Endpoint()
		require.NoError(t, err)
		assert.Equal(t, "alice", ep.Username)
		assert.Equal(t, "secret", ep.Password)
		assert.Equal(t, "example.com", ep.Registrar.Host)
	})

	t.Run("Невалидная конфигурация отклоняется типизированно", func(t *testing.T) {
		_, err := Config{}.Endpoint()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConfigInvalid))
	})
}

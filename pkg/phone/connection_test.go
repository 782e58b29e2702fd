package phone

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnection_Connect_Success(t *testing.T) {
	client := &fakeSignaling{}
	conn := NewConnection(factoryOf(client, nil))

	require.Equal(t, Disconnected, conn.State())

	err := conn.Connect(context.Background(), validConfig(), func(ICallHandle) {})
	require.NoError(t, err)
	assert.Equal(t, Connected, conn.State())
	assert.NotNil(t, conn.Client())
}

func TestConnection_Connect_InvalidConfig(t *testing.T) {
	client := &fakeSignaling{}
	conn := NewConnection(factoryOf(client, nil))

	err := conn.Connect(context.Background(), Config{Username: "alice"}, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigInvalid))
	// невалидная конфигурация не меняет состояние
	assert.Equal(t, Disconnected, conn.State())
	assert.Nil(t, conn.Client())
}

func TestConnection_Connect_FactoryError(t *testing.T) {
	conn := NewConnection(factoryOf(nil, errors.New("no route to host")))

	err := conn.Connect(context.Background(), validConfig(), nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransportFailure))
	assert.Equal(t, ConnError, conn.State())
	assert.Nil(t, conn.Client())
}

func TestConnection_Connect_AuthRejected(t *testing.T) {
	client := &fakeSignaling{
		startErr: errors.Wrap(ErrAuthRejected, "registrar response 403"),
	}
	conn := NewConnection(factoryOf(client, nil))

	err := conn.Connect(context.Background(), validConfig(), nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuthRejected))
	assert.Equal(t, ConnError, conn.State())
	// частично запущенный клиент остановлен и не сохранен
	assert.Equal(t, 1, client.stopCount())
	assert.Nil(t, conn.Client())
}

func TestConnection_Connect_AlreadyConnected(t *testing.T) {
	client := &fakeSignaling{}
	conn := NewConnection(factoryOf(client, nil))

	require.NoError(t, conn.Connect(context.Background(), validConfig(), nil))

	err := conn.Connect(context.Background(), validConfig(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyConnected))
	assert.Equal(t, Connected, conn.State())
}

func TestConnection_Disconnect(t *testing.T) {
	client := &fakeSignaling{}
	conn := NewConnection(factoryOf(client, nil))

	require.NoError(t, conn.Connect(context.Background(), validConfig(), nil))
	require.NoError(t, conn.Disconnect(context.Background()))

	assert.Equal(t, Disconnected, conn.State())
	assert.Nil(t, conn.Client())
	assert.Equal(t, 1, client.stopCount())
}

func TestConnection_Disconnect_WithoutClientIsNoop(t *testing.T) {
	conn := NewConnection(factoryOf(&fakeSignaling{}, nil))

	require.NoError(t, conn.Disconnect(context.Background()))
	assert.Equal(t, Disconnected, conn.State())
}

func TestConnection_Disconnect_RecoversFromError(t *testing.T) {
	conn := NewConnection(factoryOf(nil, errors.New("boom")))

	_ = conn.Connect(context.Background(), validConfig(), nil)
	require.Equal(t, ConnError, conn.State())

	// disconnect возвращает контроллер в исходное состояние
	require.NoError(t, conn.Disconnect(context.Background()))
	assert.Equal(t, Disconnected, conn.State())
}

func TestConnection_Disconnect_StopErrorClearsClient(t *testing.T) {
	client := &fakeSignaling{stopErr: errors.New("socket already closed")}
	conn := NewConnection(factoryOf(client, nil))

	require.NoError(t, conn.Connect(context.Background(), validConfig(), nil))

	err := conn.Disconnect(context.Background())
	require.Error(t, err)
	// ссылка сброшена несмотря на ошибку остановки
	assert.Nil(t, conn.Client())
	assert.Equal(t, Disconnected, conn.State())
}

func TestConnection_ReconnectAfterDisconnect(t *testing.T) {
	client := &fakeSignaling{}
	conn := NewConnection(factoryOf(client, nil))

	require.NoError(t, conn.Connect(context.Background(), validConfig(), nil))
	require.NoError(t, conn.Disconnect(context.Background()))
	require.NoError(t, conn.Connect(context.Background(), validConfig(), nil))

	assert.Equal(t, Connected, conn.State())
}

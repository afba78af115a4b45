package utils

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type configPrueba struct {
	LogLevel string `json:"LOG_LEVEL" yaml:"LOG_LEVEL"`
	Marcos   int    `json:"USER_FRAMES" yaml:"USER_FRAMES"`
}

func TestCargarConfiguracion(t *testing.T) {
	dir := t.TempDir()

	var testCases = []struct {
		description string
		archivo     string
		contenido   string
		expect      configPrueba
		expectErr   bool
	}{
		{
			description: "json",
			archivo:     "kernel.json",
			contenido:   `{"LOG_LEVEL":"debug","USER_FRAMES":8}`,
			expect:      configPrueba{LogLevel: "debug", Marcos: 8},
		},
		{
			description: "yaml",
			archivo:     "kernel.yaml",
			contenido:   "LOG_LEVEL: warn\nUSER_FRAMES: 3\n",
			expect:      configPrueba{LogLevel: "warn", Marcos: 3},
		},
		{
			description: "json inválido",
			archivo:     "roto.json",
			contenido:   `{"LOG_LEVEL":`,
			expectErr:   true,
		},
	}

	for _, testCase := range testCases {
		ruta := filepath.Join(dir, testCase.archivo)
		require.NoError(t, os.WriteFile(ruta, []byte(testCase.contenido), 0644))

		config, err := CargarConfiguracion[configPrueba](ruta)
		if testCase.expectErr {
			assert.Error(t, err, testCase.description)
			continue
		}
		require.NoError(t, err, testCase.description)
		assert.Equal(t, testCase.expect, *config, testCase.description)
	}

	_, err := CargarConfiguracion[configPrueba](filepath.Join(dir, "no-existe.json"))
	assert.Error(t, err)
}

func TestModulo_ServidorYCliente(t *testing.T) {
	modulo := NuevoModulo("Kernel", "")
	modulo.RegistrarHandler(MensajeHandshake, "default", func(msg *Mensaje) (interface{}, error) {
		return map[string]interface{}{"status": "OK", "origen": msg.Origen}, nil
	})
	modulo.RegistrarHandler(MensajeEstadoMarcos, "default", func(msg *Mensaje) (interface{}, error) {
		return map[string]interface{}{"usados": ExtraerEntero(msg, "marcos", -1)}, nil
	})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := modulo.PrepararServidor("127.0.0.1", 0)
	server.Listener = listener
	go func() { _ = server.Start() }()
	defer func() { _ = modulo.Detener(context.Background()) }()

	cliente := NewHTTPClientURL("http://"+listener.Addr().String(), "Test->Kernel")
	require.Eventually(t, func() bool { return cliente.VerificarConexion() == nil }, 2*time.Second, 10*time.Millisecond)

	respuesta, err := cliente.EnviarHTTPMensaje(MensajeHandshake, "handshake", nil)
	require.NoError(t, err)
	assert.Equal(t, "Test->Kernel", respuesta.(map[string]interface{})["origen"])

	respuesta, err = cliente.EnviarHTTPMensaje(MensajeEstadoMarcos, "", map[string]interface{}{"marcos": 3})
	require.NoError(t, err)
	assert.EqualValues(t, 3, respuesta.(map[string]interface{})["usados"])

	_, err = cliente.EnviarHTTPMensaje(99, "", nil)
	assert.Error(t, err)
}

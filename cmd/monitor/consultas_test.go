package main

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/LosCuervosXeneizes/nucleo/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func servidorKernel(t *testing.T) *utils.HTTPClient {
	t.Helper()
	modulo := utils.NuevoModulo("Kernel", "")
	modulo.RegistrarHandler(utils.MensajeHandshake, "handshake", func(msg *utils.Mensaje) (interface{}, error) {
		return map[string]interface{}{"status": "OK", "origen": msg.Origen}, nil
	})
	modulo.RegistrarHandler(utils.MensajeEstadoMarcos, "default", func(msg *utils.Mensaje) (interface{}, error) {
		return map[string]interface{}{"status": "OK", "marcos": 4}, nil
	})
	modulo.RegistrarHandler(utils.MensajeMemoryDump, "default", func(msg *utils.Mensaje) (interface{}, error) {
		tid := utils.ExtraerEntero(msg, "tid", -1)
		if tid <= 0 {
			return map[string]interface{}{"status": "ERROR", "mensaje": "TID inválido"}, nil
		}
		return map[string]interface{}{"status": "OK", "tid": tid}, nil
	})
	servidor := httptest.NewServer(modulo.PrepararServidor("127.0.0.1", 0).Handler())
	t.Cleanup(servidor.Close)
	return utils.NewHTTPClientURL(servidor.URL, "Monitor")
}

func TestConectarConReintentos(t *testing.T) {
	cliente := servidorKernel(t)
	datos, err := conectarConReintentos(cliente, 1)
	require.NoError(t, err)
	assert.Equal(t, "Monitor", datos["origen"])

	esperaReintento = time.Millisecond
	caido := utils.NewHTTPClientURL("http://127.0.0.1:1", "Monitor")
	_, err = conectarConReintentos(caido, 2)
	assert.ErrorContains(t, err, "2 intentos")
}

func TestConsultar(t *testing.T) {
	cliente := servidorKernel(t)

	respuesta, err := consultar(cliente, "marcos", nil)
	require.NoError(t, err)
	assert.Equal(t, float64(4), respuesta["marcos"])

	respuesta, err = consultar(cliente, "dump", []string{"3"})
	require.NoError(t, err)
	assert.Equal(t, float64(3), respuesta["tid"])

	respuesta, err = consultar(cliente, "dump", []string{"0"})
	assert.ErrorIs(t, err, utils.ErrRespuesta)
	assert.ErrorContains(t, err, "TID inválido")
	assert.Equal(t, "ERROR", respuesta["status"])

	_, err = consultar(cliente, "dump", nil)
	assert.Error(t, err)
	_, err = consultar(cliente, "dump", []string{"x"})
	assert.Error(t, err)
	_, err = consultar(cliente, "otra", nil)
	assert.ErrorContains(t, err, "desconocida")
}

package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/LosCuervosXeneizes/nucleo/internal/idgen"
	"github.com/LosCuervosXeneizes/nucleo/kernel"
	"github.com/LosCuervosXeneizes/nucleo/userprog"
	"github.com/LosCuervosXeneizes/nucleo/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func arrancar(t *testing.T, marcos int) *bytes.Buffer {
	t.Helper()
	cfg := kernel.DefaultConfig()
	cfg.LogLevel = "ERROR"
	cfg.UserFrames = marcos
	cfg.SwapPath = filepath.Join(t.TempDir(), "swap.bin")
	cfg.FilesystemURL = "mem://localhost/" + idgen.New() + "/fs"
	cfg.DumpPath = "mem://localhost/" + idgen.New() + "/dump"

	salida := &bytes.Buffer{}
	k, err := kernel.Boot(context.Background(), cfg, userprog.NewConsole(nil, salida))
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Shutdown(context.Background()) })
	require.NoError(t, instalarProgramas(k))
	nucleo = k
	return salida
}

func TestProgramas(t *testing.T) {
	var testCases = []struct {
		description string
		marcos      int
		comando     string
		estado      int
		salida      string
	}{
		{description: "sum", marcos: 16, comando: "sum 10 1 2 3", estado: 0, salida: "55 16\nsum: exit(0)\n"},
		{description: "sum sin argumentos", marcos: 16, comando: "sum 1", estado: 1, salida: "sum: exit(1)\n"},
		{description: "stack", marcos: 4, comando: "stack 6", estado: 0, salida: "stack: 6 niveles\nstack: exit(0)\n"},
		{description: "pager", marcos: 6, comando: "pager 24", estado: 0, salida: "pager: 24 páginas verificadas\npager: exit(0)\n"},
		{description: "pager fuera de rango", marcos: 6, comando: "pager 65", estado: 1, salida: "pager: exit(1)\n"},
	}
	for _, testCase := range testCases {
		salida := arrancar(t, testCase.marcos)
		estado, err := nucleo.Run(testCase.comando)
		require.NoError(t, err, testCase.description)
		assert.Equal(t, testCase.estado, estado, testCase.description)
		assert.Equal(t, testCase.salida, salida.String(), testCase.description)
	}
}

func TestProgramas_PagerDesaloja(t *testing.T) {
	arrancar(t, 4)
	estado, err := nucleo.Run("pager 16")
	require.NoError(t, err)
	assert.Equal(t, 0, estado)
	assert.Positive(t, nucleo.Frames().Stats().Evictions)
}

func TestHandlers(t *testing.T) {
	arrancar(t, 8)
	_, err := nucleo.Run("sum 5 1 1 1")
	require.NoError(t, err)

	respuesta, err := HandlerHandshake(&utils.Mensaje{Origen: "test"})
	require.NoError(t, err)
	datos := respuesta.(map[string]interface{})
	assert.Equal(t, "OK", datos["status"])
	assert.Equal(t, nucleo.ID(), datos["id"])

	respuesta, err = HandlerEstadoMarcos(&utils.Mensaje{})
	require.NoError(t, err)
	assert.Equal(t, "OK", respuesta.(map[string]interface{})["status"])

	respuesta, err = HandlerEstadoHilos(&utils.Mensaje{})
	require.NoError(t, err)
	assert.NotEmpty(t, respuesta.(map[string]interface{})["hilos"])

	respuesta, err = HandlerMemoryDump(&utils.Mensaje{Datos: map[string]interface{}{}})
	require.NoError(t, err)
	assert.Equal(t, "ERROR", respuesta.(map[string]interface{})["status"])

	respuesta, err = HandlerMemoryDump(&utils.Mensaje{Datos: map[string]interface{}{"tid": float64(999)}})
	require.NoError(t, err)
	assert.Equal(t, "ERROR", respuesta.(map[string]interface{})["status"])

	respuesta, err = HandlerEstadisticas(&utils.Mensaje{})
	require.NoError(t, err)
	assert.Equal(t, nucleo.ID(), respuesta.(kernel.Status).ID)
}

func TestCodigoSalida(t *testing.T) {
	assert.Equal(t, 0, codigoSalida(0))
	assert.Equal(t, 7, codigoSalida(7))
	assert.Equal(t, 1, codigoSalida(-1))
	assert.Equal(t, 1, codigoSalida(300))
}

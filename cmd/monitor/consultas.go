package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/LosCuervosXeneizes/nucleo/utils"
)

var esperaReintento = 2 * time.Second

// consultas asocia cada consulta de línea de comandos con su tipo de mensaje
var consultas = map[string]int{
	"hilos":        utils.MensajeEstadoHilos,
	"marcos":       utils.MensajeEstadoMarcos,
	"estadisticas": utils.MensajeEstadisticas,
	"dump":         utils.MensajeMemoryDump,
}

// conectarConReintentos hace el handshake con el kernel hasta intentosMax veces
func conectarConReintentos(cliente *utils.HTTPClient, intentosMax int) (map[string]interface{}, error) {
	utils.InfoLog.Info("Iniciando conexión", "destino", "Kernel")

	datosHandshake := map[string]interface{}{"nombre": "Monitor", "tipo": "MONITOR"}
	var ultimoErr error
	for i := 1; i <= intentosMax; i++ {
		respuesta, err := cliente.EnviarHTTPMensaje(utils.MensajeHandshake, "handshake", datosHandshake)
		if err == nil {
			utils.InfoLog.Info("Conexión establecida", "destino", "Kernel")
			datos, _ := respuesta.(map[string]interface{})
			return datos, nil
		}
		ultimoErr = err

		utils.InfoLog.Warn("Reintentando conexión", "destino", "Kernel", "intento", i, "próximo_en", esperaReintento)
		if i < intentosMax {
			time.Sleep(esperaReintento)
		}
	}
	return nil, fmt.Errorf("no se pudo establecer conexión después de %d intentos: %w", intentosMax, ultimoErr)
}

// consultar envía la consulta pedida y devuelve la respuesta decodificada
func consultar(cliente *utils.HTTPClient, consulta string, args []string) (map[string]interface{}, error) {
	tipo, ok := consultas[consulta]
	if !ok {
		return nil, fmt.Errorf("consulta desconocida %q", consulta)
	}

	datos := map[string]interface{}{}
	if tipo == utils.MensajeMemoryDump {
		if len(args) == 0 {
			return nil, fmt.Errorf("dump requiere un TID")
		}
		tid, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, fmt.Errorf("TID inválido %q: %w", args[0], err)
		}
		datos["tid"] = tid
	}

	utils.InfoLog.Debug("Enviando consulta", "consulta", consulta, "tipo", tipo)
	return cliente.Consultar(tipo, datos)
}

package main

import (
	"github.com/LosCuervosXeneizes/nucleo/kernel"
	"github.com/LosCuervosXeneizes/nucleo/threads"
	"github.com/LosCuervosXeneizes/nucleo/utils"
)

// HandlerHandshake identifica al kernel ante quien se conecta
func HandlerHandshake(msg *utils.Mensaje) (interface{}, error) {
	utils.InfoLog.Info("Handshake recibido", "origen", msg.Origen)
	return map[string]interface{}{
		"status":  "OK",
		"modulo":  "Kernel",
		"id":      nucleo.ID(),
		"version": kernel.Version,
	}, nil
}

// HandlerEstadoHilos devuelve el volcado de hilos y procesos
func HandlerEstadoHilos(msg *utils.Mensaje) (interface{}, error) {
	return map[string]interface{}{
		"status":   "OK",
		"ticks":    nucleo.Scheduler().Ticks(),
		"hilos":    nucleo.Scheduler().Snapshot(),
		"procesos": nucleo.Processes().Processes(),
	}, nil
}

func HandlerEstadoMarcos(msg *utils.Mensaje) (interface{}, error) {
	return map[string]interface{}{
		"status":       "OK",
		"estadisticas": nucleo.Frames().Stats(),
		"marcos":       nucleo.Frames().Snapshot(),
	}, nil
}

// HandlerMemoryDump vuelca las páginas residentes del hilo pedido
func HandlerMemoryDump(msg *utils.Mensaje) (interface{}, error) {
	tid := utils.ExtraerEntero(msg, "tid", -1)
	if tid <= 0 {
		return map[string]interface{}{"status": "ERROR", "mensaje": "TID inválido o faltante"}, nil
	}

	archivo, err := nucleo.Dump(threads.ID(tid))
	if err != nil {
		utils.ErrorLog.Error("Error en memory dump", "tid", tid, "error", err)
		return map[string]interface{}{"status": "ERROR", "mensaje": err.Error()}, nil
	}
	return map[string]interface{}{"status": "OK", "archivo": archivo}, nil
}

func HandlerEstadisticas(msg *utils.Mensaje) (interface{}, error) {
	return nucleo.Status(), nil
}

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/LosCuervosXeneizes/nucleo/utils"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Println("Uso: ./monitor <ruta_configuracion> <hilos|marcos|estadisticas|dump> [tid]")
		fmt.Println("Ejemplo: ./monitor configs/monitor.json dump 3")
		os.Exit(1)
	}

	rutaConfig := os.Args[1]
	consulta := os.Args[2]

	utils.InicializarLogger("INFO", "Monitor")
	config, err := utils.CargarConfiguracion[MonitorConfig](rutaConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	utils.InicializarLogger(config.LogLevel, "Monitor")
	if config.Reintentos <= 0 {
		config.Reintentos = 3
	}

	kernelClient := utils.NewHTTPClient(config.IPKernel, config.PortKernel, "Monitor->Kernel")
	if err := kernelClient.VerificarConexion(); err != nil {
		utils.InfoLog.Warn("Kernel no disponible todavía", "error", err)
	}
	if _, err := conectarConReintentos(kernelClient, config.Reintentos); err != nil {
		utils.ErrorLog.Error("No se pudo conectar con Kernel", "error", err)
		os.Exit(1)
	}

	respuesta, err := consultar(kernelClient, consulta, os.Args[3:])
	if err != nil {
		utils.ErrorLog.Error("Error en la consulta", "consulta", consulta, "error", err)
		os.Exit(1)
	}

	salida, _ := json.MarshalIndent(respuesta, "", "  ")
	fmt.Println(string(salida))
}

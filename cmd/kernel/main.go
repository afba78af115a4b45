package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/LosCuervosXeneizes/nucleo/utils"
)

func main() {
	utils.InicializarLogger("INFO", "kernel")
	utils.InfoLog.Info("Kernel iniciando", "args", os.Args)

	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "Uso: %s <archivo_configuracion> <programa> [argumentos...]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Ejemplo: %s configs/kernel.json sum 10 1 2 3\n", os.Args[0])
		os.Exit(1)
	}

	configPath := os.Args[1]
	lineaComando := strings.Join(os.Args[2:], " ")

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		utils.ErrorLog.Error("El archivo de configuración no existe", "archivo", configPath)
		os.Exit(1)
	}

	if err := inicializarKernel(configPath); err != nil {
		utils.ErrorLog.Error("Error durante la inicialización del Kernel", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		utils.InfoLog.Info("Ctrl+C recibido. Finalizando Kernel")
		os.Exit(130)
	}()

	// Run usa la goroutine que arrancó el núcleo como hilo main
	estado, err := nucleo.Run(lineaComando)
	if err != nil {
		utils.ErrorLog.Error("No se pudo ejecutar el programa inicial", "programa", lineaComando, "error", err)
	}
	if nucleo.Halted() {
		utils.InfoLog.Info("Kernel apagado por HALT")
	}

	finalizarKernel()
	os.Exit(codigoSalida(estado))
}

// codigoSalida lleva el estado de salida del programa al rango del sistema
func codigoSalida(estado int) int {
	if estado < 0 || estado > 255 {
		return 1
	}
	return estado
}

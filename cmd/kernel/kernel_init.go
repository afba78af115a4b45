package main

import (
	"context"
	"os"
	"time"

	"github.com/LosCuervosXeneizes/nucleo/kernel"
	"github.com/LosCuervosXeneizes/nucleo/userprog"
	"github.com/LosCuervosXeneizes/nucleo/utils"
)

var (
	kernelModulo *utils.Modulo
	kernelConfig kernel.Config
	nucleo       *kernel.Kernel
)

// inicializarKernel carga la configuración, arranca el núcleo, instala los
// programas de demostración y levanta el servidor de estado
func inicializarKernel(configPath string) error {
	kernelModulo = utils.NuevoModulo("Kernel", configPath)

	cfg, err := kernel.LoadConfig(configPath)
	if err != nil {
		return err
	}
	kernelConfig = cfg

	nucleo, err = kernel.Boot(context.Background(), cfg, userprog.NewConsole(os.Stdin, os.Stdout))
	if err != nil {
		return err
	}
	utils.InfoLog.Info("Inicializando Kernel", "config_path", configPath, "id", nucleo.ID())

	if err := instalarProgramas(nucleo); err != nil {
		return err
	}

	registrarHandlers()
	kernelModulo.IniciarServidor(cfg.IPKernel, cfg.PuertoKernel)

	utils.InfoLog.Info("Kernel inicializado correctamente")
	return nil
}

// registrarHandlers registra todos los manejadores HTTP
func registrarHandlers() {
	kernelModulo.RegistrarHandler(utils.MensajeHandshake, "handshake", HandlerHandshake)
	kernelModulo.RegistrarHandler(utils.MensajeEstadoHilos, "default", HandlerEstadoHilos)
	kernelModulo.RegistrarHandler(utils.MensajeEstadoMarcos, "default", HandlerEstadoMarcos)
	kernelModulo.RegistrarHandler(utils.MensajeMemoryDump, "default", HandlerMemoryDump)
	kernelModulo.RegistrarHandler(utils.MensajeEstadisticas, "default", HandlerEstadisticas)

	utils.InfoLog.Info("Handlers registrados correctamente")
}

// finalizarKernel detiene el servidor y libera swap y trazas
func finalizarKernel() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := kernelModulo.Detener(ctx); err != nil {
		utils.ErrorLog.Error("Error deteniendo servidor", "error", err)
	}
	if nucleo != nil {
		if err := nucleo.Shutdown(ctx); err != nil {
			utils.ErrorLog.Error("Error finalizando Kernel", "error", err)
		}
	}
}

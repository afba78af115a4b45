package main

// MonitorConfig es la configuración del monitor
type MonitorConfig struct {
	IPKernel   string `json:"IP_KERNEL" yaml:"IP_KERNEL"`
	PortKernel int    `json:"PUERTO_KERNEL" yaml:"PUERTO_KERNEL"`
	LogLevel   string `json:"LOG_LEVEL" yaml:"LOG_LEVEL"`
	Reintentos int    `json:"REINTENTOS" yaml:"REINTENTOS"`
}

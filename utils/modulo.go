package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Modulo representa un módulo genérico del sistema
type Modulo struct {
	Nombre      string
	Server      *HTTPServer
	ConfigPath  string
	HandlerFunc map[string]map[string]HTTPHandlerFunc
}

// NuevoModulo crea una nueva instancia de un módulo
func NuevoModulo(nombre string, configPath string) *Modulo {
	return &Modulo{
		Nombre:      nombre,
		ConfigPath:  configPath,
		HandlerFunc: make(map[string]map[string]HTTPHandlerFunc),
	}
}

// RegistrarHandler registra un handler para un tipo de mensaje y operación específicos
func (m *Modulo) RegistrarHandler(tipo int, operacion string, handler HTTPHandlerFunc) {
	clave := strconv.Itoa(tipo)
	if _, existe := m.HandlerFunc[clave]; !existe {
		m.HandlerFunc[clave] = make(map[string]HTTPHandlerFunc)
	}
	m.HandlerFunc[clave][operacion] = handler
}

// PrepararServidor crea el servidor HTTP del módulo y le registra los handlers
func (m *Modulo) PrepararServidor(ip string, puerto int) *HTTPServer {
	m.Server = NewHTTPServer(ip, puerto, m.Nombre)

	for tipoStr, handlersPorOperacion := range m.HandlerFunc {
		tipo, err := strconv.Atoi(tipoStr)
		if err != nil {
			ErrorLog.Error("Error al convertir tipo de mensaje a entero", "tipo", tipoStr, "error", err)
			continue
		}

		handlers := handlersPorOperacion
		m.Server.RegisterHTTPHandler(tipo, func(msg *Mensaje) (interface{}, error) {
			operacion := msg.Operacion
			if operacion == "" {
				operacion = "default"
			}

			handler, existe := handlers[operacion]
			if !existe {
				handler, existe = handlers["default"]
				if !existe {
					ErrorLog.Error("No hay handler para operación", "tipo", tipo, "operacion", operacion)
					return nil, fmt.Errorf("no hay handler para operación %s", operacion)
				}
			}

			return handler(msg)
		})
	}
	return m.Server
}

// IniciarServidor crea el servidor y lo pone a escuchar en segundo plano
func (m *Modulo) IniciarServidor(ip string, puerto int) {
	server := m.PrepararServidor(ip, puerto)

	go func() {
		if err := server.Start(); err != nil {
			ErrorLog.Error("Error al iniciar servidor HTTP", "error", err)
		}
	}()

	InfoLog.Info("Servidor HTTP iniciado", "módulo", m.Nombre, "dirección", fmt.Sprintf("%s:%d", ip, puerto))
}

// Detener cierra el servidor HTTP del módulo si estaba iniciado
func (m *Modulo) Detener(ctx context.Context) error {
	if m.Server == nil {
		return nil
	}
	return m.Server.Shutdown(ctx)
}

// CargarConfiguracion decodifica un archivo JSON o YAML (según la extensión) en T
func CargarConfiguracion[T any](ruta string) (*T, error) {
	InfoLog.Info("Cargando configuración", "ruta", ruta)

	absPath, err := filepath.Abs(ruta)
	if err != nil {
		return nil, fmt.Errorf("error obteniendo ruta absoluta de %s: %w", ruta, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("error abriendo archivo de configuración %s: %w", absPath, err)
	}

	config, err := DecodificarConfiguracion[T](absPath, data)
	if err != nil {
		return nil, err
	}

	InfoLog.Info("Configuración cargada correctamente", "archivo", absPath)
	return config, nil
}

// DecodificarConfiguracion decodifica el contenido según la extensión del nombre
func DecodificarConfiguracion[T any](nombre string, data []byte) (*T, error) {
	var config T
	switch strings.ToLower(filepath.Ext(nombre)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("error decodificando configuración YAML %s: %w", nombre, err)
		}
	default:
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("error decodificando configuración JSON %s: %w", nombre, err)
		}
	}
	return &config, nil
}

// ============================================================================
// Constantes para tipos de mensajes del kernel
// ============================================================================
const (
	// === COMUNICACIÓN BÁSICA (1-9) ===
	MensajeHandshake = 1 // Conexión inicial
	MensajeOperacion = 2 // Operaciones genéricas

	// === CONSULTAS DE ESTADO (10-19) ===
	MensajeEstadoHilos  = 10 // Volcado de hilos
	MensajeEstadoMarcos = 11 // Ocupación de la tabla de marcos
	MensajeMemoryDump   = 15 // Volcado de la tabla de marcos a archivo
	MensajeEstadisticas = 16 // Métricas del planificador y la memoria virtual
)

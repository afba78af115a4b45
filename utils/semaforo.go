package utils

// Semaforo implementa un semáforo contador con canales.
// Los permisos disponibles son los elementos en el buffer del canal.
type Semaforo struct {
	c chan struct{}
}

// NewSemaforo crea un semáforo con capacidad máxima y permisos iniciales
func NewSemaforo(capacidad int, iniciales int) *Semaforo {
	if capacidad <= 0 {
		capacidad = 1
	}
	if iniciales > capacidad {
		iniciales = capacidad
	}
	s := &Semaforo{
		c: make(chan struct{}, capacidad),
	}
	for i := 0; i < iniciales; i++ {
		s.c <- struct{}{}
	}
	return s
}

// Wait (P) consume un permiso, bloquea si no hay
func (s *Semaforo) Wait() {
	<-s.c
}

// Signal (V) devuelve un permiso
func (s *Semaforo) Signal() {
	select {
	case s.c <- struct{}{}:
	default:
		// Capacidad completa, no hace nada para prevenir incremento excesivo
	}
}

// TryWait intenta consumir un permiso sin bloquear
func (s *Semaforo) TryWait() bool {
	select {
	case <-s.c:
		return true
	default:
		return false
	}
}

// Disponibles devuelve la cantidad de permisos sin consumir
func (s *Semaforo) Disponibles() int {
	return len(s.c)
}

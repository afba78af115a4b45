package main

import (
	"fmt"
	"strconv"

	"github.com/LosCuervosXeneizes/nucleo/kernel"
	"github.com/LosCuervosXeneizes/nucleo/loader"
	"github.com/LosCuervosXeneizes/nucleo/userprog"
	"github.com/LosCuervosXeneizes/nucleo/vm"
)

const (
	baseCodigo = 0x08048000
	// baseDatos es el segmento sin inicializar del paginador
	baseDatos       = 0x08100000
	paginasDatos    = 64
	profundidadPila = 8
)

type programa struct {
	nombre    string
	segmentos []loader.SegmentData
	entrada   userprog.Program
}

func programasDemo() []programa {
	codigo := func(nombre string) loader.SegmentData {
		return loader.SegmentData{VAddr: baseCodigo, Data: []byte("codigo de " + nombre)}
	}
	return []programa{
		{nombre: "sum", segmentos: []loader.SegmentData{codigo("sum")}, entrada: programaSum},
		{nombre: "stack", segmentos: []loader.SegmentData{codigo("stack")}, entrada: programaStack},
		{nombre: "pager", segmentos: []loader.SegmentData{
			codigo("pager"),
			{VAddr: baseDatos, MemSize: paginasDatos * vm.PageSize, Writable: true},
		}, entrada: programaPager},
	}
}

// instalarProgramas copia las imágenes de demostración al sistema de archivos
func instalarProgramas(k *kernel.Kernel) error {
	for _, p := range programasDemo() {
		if err := k.Register(p.nombre, loader.Build(baseCodigo, p.segmentos), p.entrada); err != nil {
			return fmt.Errorf("instalando %s: %w", p.nombre, err)
		}
	}
	return nil
}

func imprimir(u *userprog.UserContext, texto string) {
	direccion := u.PushString(texto)
	u.Syscall(userprog.SysWrite, 1, direccion, uint32(len(texto)))
	u.Pop((len(texto) + 4) &^ 3)
}

// argumentoEntero se comporta como atoi: lo que no es número vale 0
func argumentoEntero(args []string, i, porDefecto int) int {
	if i >= len(args) {
		return porDefecto
	}
	n, _ := strconv.Atoi(args[i])
	return n
}

// programaSum: sum a b c d imprime fib(a) y a+b+c+d
func programaSum(u *userprog.UserContext) int {
	args := u.Args()
	if len(args) != 5 {
		return 1
	}
	a, b := argumentoEntero(args, 1, 0), argumentoEntero(args, 2, 0)
	c, d := argumentoEntero(args, 3, 0), argumentoEntero(args, 4, 0)

	fib := u.Syscall(userprog.SysFib, uint32(a))
	suma := u.Syscall(userprog.SysSumFour, uint32(a), uint32(b), uint32(c), uint32(d))
	imprimir(u, fmt.Sprintf("%d %d\n", fib, suma))
	return 0
}

// programaStack hace crecer la pila un marco de página por nivel de recursión
func programaStack(u *userprog.UserContext) int {
	niveles := argumentoEntero(u.Args(), 1, profundidadPila)
	if !marcoPila(u, niveles) {
		return 1
	}
	imprimir(u, fmt.Sprintf("stack: %d niveles\n", niveles))
	return 0
}

func marcoPila(u *userprog.UserContext, nivel int) bool {
	if nivel <= 0 {
		return true
	}
	marco := u.Push(vm.PageSize)
	u.StoreWord(marco, uint32(nivel))
	ok := marcoPila(u, nivel-1) && u.LoadWord(marco) == uint32(nivel)
	u.Pop(vm.PageSize)
	return ok
}

// programaPager escribe más páginas de las que hay marcos y las verifica
func programaPager(u *userprog.UserContext) int {
	paginas := argumentoEntero(u.Args(), 1, paginasDatos/2)
	if paginas <= 0 || paginas > paginasDatos {
		return 1
	}
	for i := 0; i < paginas; i++ {
		u.StoreWord(uint32(baseDatos+i*vm.PageSize), uint32(i)*7+1)
	}
	for i := 0; i < paginas; i++ {
		if u.LoadWord(uint32(baseDatos+i*vm.PageSize)) != uint32(i)*7+1 {
			imprimir(u, fmt.Sprintf("pager: página %d corrupta\n", i))
			return 1
		}
	}
	imprimir(u, fmt.Sprintf("pager: %d páginas verificadas\n", paginas))
	return 0
}

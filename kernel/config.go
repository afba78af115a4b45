package kernel

import (
	"errors"
	"fmt"

	"github.com/LosCuervosXeneizes/nucleo/threads"
	"github.com/LosCuervosXeneizes/nucleo/userprog"
	"github.com/LosCuervosXeneizes/nucleo/utils"
	"github.com/LosCuervosXeneizes/nucleo/vm"
)

// Swap device kinds.
const (
	SwapFile   = "file"
	SwapObject = "object"
)

// Config is the kernel configuration file.
type Config struct {
	LogLevel string `json:"LOG_LEVEL" yaml:"LOG_LEVEL"`

	MLFQS         bool `json:"MLFQS" yaml:"MLFQS"`
	Aging         bool `json:"AGING" yaml:"AGING"`
	TimeSlice     int  `json:"TIME_SLICE" yaml:"TIME_SLICE"`
	TimerFreq     int  `json:"TIMER_FREQ" yaml:"TIMER_FREQ"`
	AgingInterval int  `json:"AGING_INTERVAL" yaml:"AGING_INTERVAL"`
	MaxThreads    int  `json:"MAX_THREADS" yaml:"MAX_THREADS"`

	UserFrames int    `json:"USER_FRAMES" yaml:"USER_FRAMES"`
	SwapType   string `json:"SWAP_TYPE" yaml:"SWAP_TYPE"`
	SwapPath   string `json:"SWAP_PATH,omitempty" yaml:"SWAP_PATH,omitempty"`
	SwapSlots  int    `json:"SWAP_SLOTS" yaml:"SWAP_SLOTS"`
	SwapDelay  int    `json:"SWAP_DELAY" yaml:"SWAP_DELAY"`
	StackSlack int    `json:"STACK_SLACK" yaml:"STACK_SLACK"`
	StackLimit int    `json:"STACK_LIMIT" yaml:"STACK_LIMIT"`
	DumpPath   string `json:"DUMP_PATH,omitempty" yaml:"DUMP_PATH,omitempty"`

	FilesystemURL string `json:"FILESYSTEM_URL,omitempty" yaml:"FILESYSTEM_URL,omitempty"`
	MaxOpenFiles  int    `json:"MAX_OPEN_FILES" yaml:"MAX_OPEN_FILES"`
	MaxChildren   int    `json:"MAX_CHILDREN" yaml:"MAX_CHILDREN"`

	Tracing   bool   `json:"TRACING" yaml:"TRACING"`
	TraceFile string `json:"TRACE_FILE,omitempty" yaml:"TRACE_FILE,omitempty"`

	IPKernel     string `json:"IP_KERNEL" yaml:"IP_KERNEL"`
	PuertoKernel int    `json:"PUERTO_KERNEL" yaml:"PUERTO_KERNEL"`
}

// DefaultConfig returns the configuration used for keys a file leaves out.
func DefaultConfig() Config {
	sched := threads.DefaultConfig()
	procs := userprog.DefaultConfig()
	return Config{
		LogLevel:      "INFO",
		TimeSlice:     sched.TimeSlice,
		TimerFreq:     sched.TimerFreq,
		AgingInterval: sched.AgingInterval,
		MaxThreads:    sched.MaxThreads,
		UserFrames:    64,
		SwapType:      SwapFile,
		SwapSlots:     256,
		StackSlack:    int(vm.DefaultStackSlack),
		StackLimit:    int(vm.DefaultStackLimit),
		MaxOpenFiles:  procs.MaxOpenFiles,
		MaxChildren:   procs.MaxChildren,
		IPKernel:      "127.0.0.1",
		PuertoKernel:  8001,
	}
}

// LoadConfig reads a JSON or YAML configuration file and fills missing keys
// with their defaults.
func LoadConfig(path string) (Config, error) {
	loaded, err := utils.CargarConfiguracion[Config](path)
	if err != nil {
		return Config{}, err
	}
	cfg := loaded.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.TimeSlice == 0 {
		c.TimeSlice = d.TimeSlice
	}
	if c.TimerFreq == 0 {
		c.TimerFreq = d.TimerFreq
	}
	if c.AgingInterval == 0 {
		c.AgingInterval = d.AgingInterval
	}
	if c.MaxThreads == 0 {
		c.MaxThreads = d.MaxThreads
	}
	if c.UserFrames == 0 {
		c.UserFrames = d.UserFrames
	}
	if c.SwapType == "" {
		c.SwapType = d.SwapType
	}
	if c.SwapSlots == 0 {
		c.SwapSlots = d.SwapSlots
	}
	if c.StackSlack == 0 {
		c.StackSlack = d.StackSlack
	}
	if c.StackLimit == 0 {
		c.StackLimit = d.StackLimit
	}
	if c.MaxOpenFiles == 0 {
		c.MaxOpenFiles = d.MaxOpenFiles
	}
	if c.MaxChildren == 0 {
		c.MaxChildren = d.MaxChildren
	}
	if c.IPKernel == "" {
		c.IPKernel = d.IPKernel
	}
	if c.PuertoKernel == 0 {
		c.PuertoKernel = d.PuertoKernel
	}
	return c
}

// Validate rejects settings the kernel cannot run with.
func (c Config) Validate() error {
	var errs []error
	for _, setting := range []struct {
		key   string
		value int
	}{
		{"TIME_SLICE", c.TimeSlice},
		{"TIMER_FREQ", c.TimerFreq},
		{"AGING_INTERVAL", c.AgingInterval},
		{"MAX_THREADS", c.MaxThreads},
		{"USER_FRAMES", c.UserFrames},
		{"SWAP_SLOTS", c.SwapSlots},
		{"MAX_OPEN_FILES", c.MaxOpenFiles},
		{"MAX_CHILDREN", c.MaxChildren},
	} {
		if setting.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", setting.key, setting.value))
		}
	}
	if c.SwapDelay < 0 || c.StackSlack < 0 {
		errs = append(errs, errors.New("SWAP_DELAY and STACK_SLACK must not be negative"))
	}
	if c.StackLimit < vm.PageSize || c.StackLimit >= int(vm.PhysBase) {
		errs = append(errs, fmt.Errorf("STACK_LIMIT %d out of range", c.StackLimit))
	}
	if c.SwapType != SwapFile && c.SwapType != SwapObject {
		errs = append(errs, fmt.Errorf("SWAP_TYPE %q is neither %q nor %q", c.SwapType, SwapFile, SwapObject))
	}
	return errors.Join(errs...)
}

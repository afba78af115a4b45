package threads

import (
	"fmt"

	"github.com/LosCuervosXeneizes/nucleo/fixedpoint"
	"github.com/LosCuervosXeneizes/nucleo/utils"
)

var (
	loadDecay  = fixedpoint.FromInt(59).DivInt(60)
	loadWeight = fixedpoint.FromInt(1).DivInt(60)
)

// updateLoadAvgLocked applies load_avg = 59/60*load_avg + 1/60*ready_threads,
// where ready_threads counts the READY threads plus the running one unless idle.
func (s *Scheduler) updateLoadAvgLocked() {
	readyThreads := len(s.ready)
	if s.current != s.idle {
		readyThreads++
	}
	s.loadAvg = loadDecay.Mul(s.loadAvg).Add(loadWeight.MulInt(readyThreads))
	utils.InfoLog.Debug(fmt.Sprintf("Load average recalculated: %d/100", s.loadAvg.Scaled(100)))
}

// updateRecentCPULocked decays every thread's recent CPU:
// recent_cpu = (2*load_avg)/(2*load_avg+1)*recent_cpu + nice.
func (s *Scheduler) updateRecentCPULocked() {
	twice := s.loadAvg.MulInt(2)
	coefficient := twice.Div(twice.AddInt(1))
	for _, t := range s.all {
		if t == s.idle {
			continue
		}
		t.recentCPU = coefficient.Mul(t.recentCPU).SaturatingAddInt(t.nice)
	}
}

func (s *Scheduler) updatePrioritiesLocked() {
	for _, t := range s.all {
		if t == s.idle {
			continue
		}
		s.mlfqsPriorityLocked(t)
	}
}

// mlfqsPriorityLocked sets priority = PRI_MAX - recent_cpu/4 - nice*2, clamped.
func (s *Scheduler) mlfqsPriorityLocked(t *Thread) {
	p := fixedpoint.FromInt(PriMax).Sub(t.recentCPU.DivInt(4)).SubInt(t.nice * 2).Trunc()
	t.basePriority = clampPriority(p)
	t.priority = t.basePriority
}

// ageLocked raises the base priority of every thread that has been READY for
// at least one aging interval.
func (s *Scheduler) ageLocked() {
	interval := int64(s.cfg.AgingInterval)
	for _, t := range s.ready {
		if s.ticks-t.readySince < interval || t.basePriority >= PriMax {
			continue
		}
		t.basePriority++
		s.refreshPriorityLocked(t, 0)
		utils.InfoLog.Debug(fmt.Sprintf("(%d) - Aged to base priority %d", t.id, t.basePriority))
	}
}

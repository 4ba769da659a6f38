// Package kmetrics centralizes the prometheus/client_golang collectors the
// scheduler, VFS entry cache, and syscall dispatcher export, so every
// subsystem shares one registry wired up once at boot rather than each
// inventing its own.
package kmetrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every counter/gauge a kernel instance exposes.
type Registry struct {
	reg prometheus.Registerer

	RunQueueDepth   prometheus.Gauge
	ContextSwitches prometheus.Counter
	VFSCacheHits    prometheus.Counter
	VFSCacheMisses  prometheus.Counter
	SyscallTotal    *prometheus.CounterVec
	PageFaults      prometheus.Counter
}

// New registers and returns a Registry backed by reg. Passing nil is valid
// and yields collectors that are never exposed (but still safe to
// increment), useful for unit tests that don't care about metrics.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		reg: reg,
		RunQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "maestro_sched_runqueue_depth",
			Help: "Number of runnable threads currently queued.",
		}),
		ContextSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maestro_sched_context_switches_total",
			Help: "Total voluntary and involuntary context switches.",
		}),
		VFSCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maestro_vfs_entry_cache_hits_total",
			Help: "Entry-cache lookups resolved without walking a filesystem driver.",
		}),
		VFSCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maestro_vfs_entry_cache_misses_total",
			Help: "Entry-cache lookups that required a FileSystem.Lookup call.",
		}),
		SyscallTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maestro_syscall_total",
			Help: "Syscalls dispatched, labeled by syscall name.",
		}, []string{"syscall"}),
		PageFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maestro_mm_page_faults_total",
			Help: "Page faults resolved by the address-space fault handler.",
		}),
	}
	if reg != nil {
		reg.MustRegister(r.RunQueueDepth, r.ContextSwitches, r.VFSCacheHits, r.VFSCacheMisses, r.SyscallTotal, r.PageFaults)
	}
	return r
}

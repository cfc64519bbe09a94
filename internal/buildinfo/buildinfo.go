package buildinfo

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

func Info() map[string]string {
	return map[string]string{
		"version": Version,
		"commit":  Commit,
		"builtAt": BuiltAt,
		"go":      runtime.Version(),
	}
}

// System describes the machine the solver runs on.
type System struct {
	Hostname string `json:"hostname,omitempty"`
	Platform string `json:"platform,omitempty"`
	Kernel   string `json:"kernel,omitempty"`
	CPU      string `json:"cpu,omitempty"`
	Cores    int    `json:"cores"`
	MemoryGB uint64 `json:"memoryGb"`
}

func (s System) String() string {
	return fmt.Sprintf("%s, %s (%d cores), %d GB", s.Platform, s.CPU, s.Cores, s.MemoryGB)
}

// Host collects System facts. Lookups that fail leave their fields empty.
func Host(ctx context.Context) System {
	s := System{Cores: runtime.NumCPU()}
	if h, err := host.InfoWithContext(ctx); err == nil {
		s.Hostname = h.Hostname
		s.Platform = h.Platform + " " + h.PlatformVersion
		s.Kernel = h.KernelVersion
	}
	if cs, err := cpu.InfoWithContext(ctx); err == nil && len(cs) > 0 {
		s.CPU = cs[0].ModelName
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.MemoryGB = vm.Total / 1024 / 1024 / 1024
	}
	return s
}

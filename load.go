package main

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// LoadSample is the opaque CPU/mem/disk/peer-count reading the loadbal
// action reports (spec §1 Out of scope, §4.6).
type LoadSample struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemPercent  float64 `json:"mem_percent"`
	DiskPercent float64 `json:"disk_percent"`
	PeerCount   int     `json:"peer_count"`
}

// LoadSampler is the interface the spec describes as "an opaque sampler
// returning CPU/memory/disk utilization scalars and a peer count" — live
// resource sampling itself is out of scope, but the daemon needs a concrete
// caller-facing contract to answer the loadbal action against.
type LoadSampler interface {
	Sample(peerCount int) (LoadSample, error)
}

// GopsutilSampler is the real implementation, grounded on the teacher pack's
// use of gopsutil (c6ai-hlf-easy/node/peer.go) for process/host sampling.
type GopsutilSampler struct {
	DiskPath string
}

// Sample reads host-wide CPU, memory, and disk utilization.
func (s GopsutilSampler) Sample(peerCount int) (LoadSample, error) {
	out := LoadSample{PeerCount: peerCount}

	cpuPercents, err := cpu.Percent(0, false)
	if err == nil && len(cpuPercents) > 0 {
		out.CPUPercent = cpuPercents[0]
	}

	vm, err := mem.VirtualMemory()
	if err == nil {
		out.MemPercent = vm.UsedPercent
	}

	path := s.DiskPath
	if path == "" {
		path = "/"
	}
	du, err := disk.Usage(path)
	if err == nil {
		out.DiskPercent = du.UsedPercent
	}

	return out, nil
}

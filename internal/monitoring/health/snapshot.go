package health

import "time"

// ProcessStats holds the gopsutil sample folded into the snapshot as the
// informational "process" component: it never flips Healthy to false, it
// just gives the daily digest some resource-trend context.
type ProcessStats struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemPercent  float32 `json:"mem_percent"`
	DiskPercent float64 `json:"disk_percent"`
}

// Snapshot is the persisted health record (spec §3 HealthSnapshot), stored
// at monitoring:health:current (TTL 1h) and pushed onto the bounded
// monitoring:health:history list.
type Snapshot struct {
	Timestamp  int64           `json:"timestamp"`
	Healthy    bool            `json:"healthy"`
	Components map[string]bool `json:"components"`
	Errors     []string        `json:"errors"`
	Process    *ProcessStats   `json:"process,omitempty"`
}

func newSnapshot(components map[string]bool, errs []string) Snapshot {
	healthy := true
	for _, ok := range components {
		if !ok {
			healthy = false
			break
		}
	}
	return Snapshot{
		Timestamp:  time.Now().Unix(),
		Healthy:    healthy,
		Components: components,
		Errors:     errs,
	}
}

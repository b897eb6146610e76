package models

import "time"

// AttackFlow is a detected attack sequence with its observables. Flows
// are produced by an upstream detection pipeline and are read-only
// inputs here: correlation never mutates them.
type AttackFlow struct {
	ID         string    `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	IOCs       []IOC     `json:"iocs" db:"iocs"`
	TTPs       []string  `json:"ttps" db:"ttps"`
	Assets     []string  `json:"assets,omitempty" db:"assets"`
	DetectedAt time.Time `json:"detected_at" db:"detected_at"`
}

// InfrastructureIOCs returns the flow's network infrastructure
// indicators (ip, domain, url).
func (f *AttackFlow) InfrastructureIOCs() []IOC {
	var infra []IOC
	for _, ioc := range f.IOCs {
		if ioc.Type.IsInfrastructure() {
			infra = append(infra, ioc)
		}
	}
	return infra
}

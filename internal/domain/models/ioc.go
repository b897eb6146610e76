package models

import "time"

// IOCType classifies an indicator of compromise
type IOCType string

const (
	IOCTypeIP          IOCType = "ip"
	IOCTypeDomain      IOCType = "domain"
	IOCTypeURL         IOCType = "url"
	IOCTypeHash        IOCType = "hash"
	IOCTypeEmail       IOCType = "email"
	IOCTypeCVE         IOCType = "cve"
	IOCTypeRegistryKey IOCType = "registry_key"
	IOCTypeFilePath    IOCType = "file_path"
	IOCTypeMutex       IOCType = "mutex"
)

// Valid reports whether the type is one of the supported IOC types.
func (t IOCType) Valid() bool {
	switch t {
	case IOCTypeIP, IOCTypeDomain, IOCTypeURL, IOCTypeHash, IOCTypeEmail,
		IOCTypeCVE, IOCTypeRegistryKey, IOCTypeFilePath, IOCTypeMutex:
		return true
	}
	return false
}

// TypeWeight expresses how specific a match on this indicator type is.
// A shared file hash is near-certain overlap; a shared IP could be
// bulletproof hosting reused by unrelated actors.
func (t IOCType) TypeWeight() float64 {
	switch t {
	case IOCTypeHash:
		return 1.0
	case IOCTypeEmail:
		return 0.9
	case IOCTypeMutex:
		return 0.85
	case IOCTypeRegistryKey:
		return 0.8
	case IOCTypeFilePath:
		return 0.75
	case IOCTypeCVE:
		return 0.7
	case IOCTypeURL:
		return 0.6
	case IOCTypeDomain:
		return 0.5
	case IOCTypeIP:
		return 0.4
	default:
		return 0
	}
}

// IsInfrastructure reports whether the type describes network
// infrastructure.
func (t IOCType) IsInfrastructure() bool {
	return t == IOCTypeIP || t == IOCTypeDomain || t == IOCTypeURL
}

// IOC is a single indicator of compromise observed in an attack flow.
type IOC struct {
	Type       IOCType           `json:"type" db:"ioc_type"`
	Value      string            `json:"value" db:"ioc_value"`
	Confidence float64           `json:"confidence" db:"confidence"`
	FirstSeen  time.Time         `json:"first_seen,omitzero" db:"first_seen"`
	LastSeen   time.Time         `json:"last_seen,omitzero" db:"last_seen"`
	Source     string            `json:"source,omitempty" db:"source"`
	Enrichment map[string]string `json:"enrichment,omitempty" db:"enrichment"`
}

package models

// StorageSnapshot is a point-in-time usage aggregate for one backend or for
// all of them. Clamped is set when a reported value had to be corrected so
// that used never exceeds total.
type StorageSnapshot struct {
	Backend     string `json:"backend"`
	UsedBytes   uint64 `json:"used_bytes"`
	TotalBytes  uint64 `json:"total_bytes"`
	UsedInodes  uint64 `json:"used_inodes"`
	TotalInodes uint64 `json:"total_inodes"`
	Clamped     bool   `json:"clamped,omitempty"`
}

// ByteRatio returns used/total bytes, or 0 when total is unknown.
func (s StorageSnapshot) ByteRatio() float64 {
	if s.TotalBytes == 0 {
		return 0
	}
	return float64(s.UsedBytes) / float64(s.TotalBytes)
}

// InodeRatio returns used/total inodes, or 0 when total is unknown.
func (s StorageSnapshot) InodeRatio() float64 {
	if s.TotalInodes == 0 {
		return 0
	}
	return float64(s.UsedInodes) / float64(s.TotalInodes)
}

// StorageReport is the per-backend breakdown plus the aggregate.
type StorageReport struct {
	Backends []StorageSnapshot `json:"backends"`
	Total    StorageSnapshot   `json:"total"`
}

package procstats

import "github.com/prometheus/procfs"

// residentMemory reads the current RSS from /proc/self/stat.
func residentMemory() uint64 {
	p, err := procfs.Self()
	if err != nil {
		return peakRSS()
	}
	stat, err := p.Stat()
	if err != nil {
		return peakRSS()
	}
	return uint64(stat.ResidentMemory())
}

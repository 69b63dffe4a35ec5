//go:build !linux

package procstats

func residentMemory() uint64 { return peakRSS() }

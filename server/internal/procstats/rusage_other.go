//go:build !unix

package procstats

import "time"

func cpuTimes() (user, system time.Duration) { return 0, 0 }

func peakRSS() uint64 { return 0 }

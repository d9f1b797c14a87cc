package processor

import (
	"fmt"
	"math"
	"time"

	"github.com/prometheus/procfs"
)

const notAvailable = "n/a"

// NetCounter returns the host's cumulative received plus sent bytes.
type NetCounter func() (uint64, error)

// ProcNetCounter reads the totals of /proc/net/dev.
func ProcNetCounter() NetCounter {
	return func() (uint64, error) {
		fs, err := procfs.NewDefaultFS()
		if err != nil {
			return 0, fmt.Errorf("procfs: %w", err)
		}
		dev, err := fs.NetDev()
		if err != nil {
			return 0, fmt.Errorf("read net dev: %w", err)
		}
		total := dev.Total()
		return total.RxBytes + total.TxBytes, nil
	}
}

type netSample struct {
	bytes uint64
	ok    bool
}

func sample(c NetCounter) netSample {
	if c == nil {
		return netSample{}
	}
	n, err := c()
	if err != nil {
		return netSample{}
	}
	return netSample{bytes: n, ok: true}
}

// FormatDuration renders d as "<m> minutes <s> seconds", both floored.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%d minutes %d seconds", secs/60, secs%60)
}

// FormatGigabits renders a byte delta as gigabits with three decimals.
func FormatGigabits(bytes uint64) string {
	gb := float64(bytes) * 8 / (1024 * 1024 * 1024)
	return fmt.Sprintf("%.3f Gb", math.Round(gb*1000)/1000)
}

func networkUse(from, to netSample) string {
	if !from.ok || !to.ok {
		return notAvailable
	}
	if to.bytes < from.bytes {
		return FormatGigabits(0)
	}
	return FormatGigabits(to.bytes - from.bytes)
}

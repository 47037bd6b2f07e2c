package heap

import (
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// configEnv is the environment variable ConfigFromEnv reads. It holds a
// comma separated list of key=value settings, e.g.
//
//	BALANCEDHEAP=regionsize=1M,max=2G,numanodes=2,commonthreads=java/lang/ref/*;Finalizer*
const configEnv = "BALANCEDHEAP"

// Config holds the heap's tuning knobs. Sizes are in bytes, GC ratio
// thresholds in percent of elapsed time spent collecting.
type Config struct {
	RegionSize      uintptr
	InitialHeapSize uintptr
	MinHeapSize     uintptr
	MaxHeapSize     uintptr
	// SoftMaxHeapSize caps expansion; a heap above it is contracted.
	// 0 means no soft limit.
	SoftMaxHeapSize uintptr

	// The heap expands while the hybrid overhead score is above
	// ExpansionGCRatioThreshold and contracts while it is below
	// ContractionGCRatioThreshold.
	ExpansionGCRatioThreshold   float64
	ContractionGCRatioThreshold float64
	// The free memory ratio band that maps onto the GC ratio
	// thresholds.
	HeapFreeMinimumRatio float64
	HeapFreeMaximumRatio float64

	// Collections to wait after an expansion before contracting, and
	// after a contraction before expanding.
	ExpansionStabilizationCycles   int
	ContractionStabilizationCycles int

	// TaxationThreshold is the allocation budget between taxation
	// collections. 0 picks a quarter of the initial heap.
	TaxationThreshold uintptr

	MinimumFreeEntrySize uintptr
	TLHMinimumSize       uintptr
	TLHMaximumSize       uintptr
	ArrayletLeafSize     uintptr

	// NumaForceNodeCount overrides the topology: 0 keeps it, n > 0
	// pretends there are n nodes, n < 0 turns NUMA off.
	NumaForceNodeCount int

	// CommonThreadPatterns are wildcards over thread class names. A
	// matching thread allocates from the common context.
	CommonThreadPatterns []string

	// Debug poisons recycled leaves, checks cards on recycle and
	// verifies the fleet after every collection.
	Debug bool
}

// DefaultConfig returns the default tuning: 1MiB regions, a 64MiB heap
// that may grow to 512MiB.
func DefaultConfig() Config {
	return Config{
		RegionSize:      1 << 20,
		InitialHeapSize: 64 << 20,
		MinHeapSize:     64 << 20,
		MaxHeapSize:     512 << 20,

		ExpansionGCRatioThreshold:   5,
		ContractionGCRatioThreshold: 2,
		HeapFreeMinimumRatio:        0.30,
		HeapFreeMaximumRatio:        0.60,

		ExpansionStabilizationCycles:   3,
		ContractionStabilizationCycles: 3,

		MinimumFreeEntrySize: 512,
		TLHMinimumSize:       512,
		TLHMaximumSize:       128 << 10,
		ArrayletLeafSize:     1 << 20,
	}
}

// ConfigFromEnv returns DefaultConfig with the settings of the
// BALANCEDHEAP environment variable applied.
func ConfigFromEnv() (Config, error) {
	return ParseConfig(os.Getenv(configEnv))
}

// ParseConfig applies a comma separated key=value list to DefaultConfig
// and validates the result. Byte counts take K, M and G suffixes (or
// KiB, MiB, GiB); multiple common thread patterns are separated by ';'.
func ParseConfig(s string) (Config, error) {
	cfg := DefaultConfig()
	leafSet := false
	for _, kv := range strings.Split(s, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return Config{}, errors.Newf("%s: malformed setting %q, want key=value", configEnv, kv)
		}
		if err := cfg.set(key, value); err != nil {
			return Config{}, errors.Wrapf(err, "%s: setting %s", configEnv, key)
		}
		if key == "leafsize" {
			leafSet = true
		}
	}
	if !leafSet {
		cfg.ArrayletLeafSize = cfg.RegionSize
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) set(key, value string) error {
	var err error
	switch key {
	case "regionsize":
		c.RegionSize, err = parseBytes(value)
	case "initial":
		c.InitialHeapSize, err = parseBytes(value)
	case "min":
		c.MinHeapSize, err = parseBytes(value)
	case "max":
		c.MaxHeapSize, err = parseBytes(value)
	case "softmax":
		c.SoftMaxHeapSize, err = parseBytes(value)
	case "expansiongcratio":
		c.ExpansionGCRatioThreshold, err = strconv.ParseFloat(value, 64)
	case "contractiongcratio":
		c.ContractionGCRatioThreshold, err = strconv.ParseFloat(value, 64)
	case "minfree":
		c.HeapFreeMinimumRatio, err = strconv.ParseFloat(value, 64)
	case "maxfree":
		c.HeapFreeMaximumRatio, err = strconv.ParseFloat(value, 64)
	case "expansionstabilization":
		c.ExpansionStabilizationCycles, err = strconv.Atoi(value)
	case "contractionstabilization":
		c.ContractionStabilizationCycles, err = strconv.Atoi(value)
	case "taxation":
		c.TaxationThreshold, err = parseBytes(value)
	case "minfreeentry":
		c.MinimumFreeEntrySize, err = parseBytes(value)
	case "tlhmin":
		c.TLHMinimumSize, err = parseBytes(value)
	case "tlhmax":
		c.TLHMaximumSize, err = parseBytes(value)
	case "leafsize":
		c.ArrayletLeafSize, err = parseBytes(value)
	case "numanodes":
		c.NumaForceNodeCount, err = strconv.Atoi(value)
	case "commonthreads":
		c.CommonThreadPatterns = nil
		for _, p := range strings.Split(value, ";") {
			if p = strings.TrimSpace(p); p != "" {
				c.CommonThreadPatterns = append(c.CommonThreadPatterns, p)
			}
		}
	case "debug":
		c.Debug, err = strconv.ParseBool(value)
	default:
		return errors.Newf("unknown key")
	}
	return err
}

// parseBytes parses a byte count with an optional K, M or G suffix,
// optionally followed by "iB". The multipliers are powers of 1024.
func parseBytes(s string) (uintptr, error) {
	num := strings.TrimSuffix(s, "iB")
	shift := 0
	if n := len(num); n > 0 {
		switch num[n-1] {
		case 'K', 'k':
			shift = 10
		case 'M', 'm':
			shift = 20
		case 'G', 'g':
			shift = 30
		}
		if shift != 0 {
			num = num[:n-1]
		} else if num != s {
			// "iB" without a unit.
			return 0, errors.Newf("malformed byte count %q", s)
		}
	}
	v, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "malformed byte count %q", s)
	}
	if v > math.MaxUint64>>shift {
		return 0, errors.Newf("byte count %q overflows", s)
	}
	return uintptr(v << shift), nil
}

// validate checks the settings against each other and fills in the
// defaults that depend on other settings.
func (c *Config) validate() error {
	if c.ArrayletLeafSize == 0 {
		c.ArrayletLeafSize = c.RegionSize
	}
	switch {
	case c.RegionSize == 0 || c.RegionSize&(c.RegionSize-1) != 0:
		return errors.Newf("region size %d is not a power of two", c.RegionSize)
	case c.RegionSize < cardSize:
		return errors.Newf("region size %d is smaller than a card", c.RegionSize)
	case c.MinHeapSize > c.InitialHeapSize || c.InitialHeapSize > c.MaxHeapSize:
		return errors.Newf("heap sizes out of order: min %d, initial %d, max %d", c.MinHeapSize, c.InitialHeapSize, c.MaxHeapSize)
	case c.MaxHeapSize < c.RegionSize:
		return errors.Newf("maximum heap %d is smaller than one region of %d", c.MaxHeapSize, c.RegionSize)
	case c.SoftMaxHeapSize > c.MaxHeapSize:
		return errors.Newf("soft maximum heap %d exceeds maximum heap %d", c.SoftMaxHeapSize, c.MaxHeapSize)
	case c.HeapFreeMinimumRatio <= 0 || c.HeapFreeMaximumRatio >= 1 || c.HeapFreeMinimumRatio >= c.HeapFreeMaximumRatio:
		return errors.Newf("free ratios must satisfy 0 < min < max < 1, have min %v, max %v", c.HeapFreeMinimumRatio, c.HeapFreeMaximumRatio)
	case c.ContractionGCRatioThreshold < 0 || c.ExpansionGCRatioThreshold > 100 || c.ContractionGCRatioThreshold >= c.ExpansionGCRatioThreshold:
		return errors.Newf("GC ratio thresholds must satisfy 0 <= contraction < expansion <= 100, have contraction %v, expansion %v",
			c.ContractionGCRatioThreshold, c.ExpansionGCRatioThreshold)
	case c.ExpansionStabilizationCycles < 0 || c.ContractionStabilizationCycles < 0:
		return errors.Newf("stabilization cycles must not be negative")
	case c.MinimumFreeEntrySize < objectAlignment || c.MinimumFreeEntrySize > c.RegionSize:
		return errors.Newf("minimum free entry size %d out of range", c.MinimumFreeEntrySize)
	case c.TLHMinimumSize > c.MinimumFreeEntrySize:
		return errors.Newf("TLH minimum %d exceeds the minimum free entry size %d", c.TLHMinimumSize, c.MinimumFreeEntrySize)
	case c.TLHMaximumSize < c.MinimumFreeEntrySize:
		return errors.Newf("TLH maximum %d is below the minimum free entry size %d", c.TLHMaximumSize, c.MinimumFreeEntrySize)
	case c.ArrayletLeafSize != c.RegionSize:
		return errors.Newf("arraylet leaf size %d must equal the region size %d", c.ArrayletLeafSize, c.RegionSize)
	}

	// Whole regions only.
	c.InitialHeapSize = alignUp(c.InitialHeapSize, c.RegionSize)
	c.MinHeapSize = alignUp(c.MinHeapSize, c.RegionSize)
	c.MaxHeapSize = alignDown(c.MaxHeapSize, c.RegionSize)
	if c.InitialHeapSize > c.MaxHeapSize {
		c.InitialHeapSize = c.MaxHeapSize
	}
	if c.MinHeapSize > c.InitialHeapSize {
		c.MinHeapSize = c.InitialHeapSize
	}
	if c.SoftMaxHeapSize != 0 {
		c.SoftMaxHeapSize = alignDown(c.SoftMaxHeapSize, c.RegionSize)
	}
	if c.TaxationThreshold == 0 {
		c.TaxationThreshold = alignDown(c.InitialHeapSize/4, c.RegionSize)
		if c.TaxationThreshold < c.RegionSize {
			c.TaxationThreshold = c.RegionSize
		}
	}
	return nil
}

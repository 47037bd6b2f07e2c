package heap

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseBytes(t *testing.T) {
	tests := []struct {
		in      string
		want    uintptr
		wantErr bool
	}{
		{"0", 0, false},
		{"4096", 4096, false},
		{"64K", 64 << 10, false},
		{"64k", 64 << 10, false},
		{"1M", 1 << 20, false},
		{"2MiB", 2 << 20, false},
		{"1G", 1 << 30, false},
		{"1GiB", 1 << 30, false},
		{"", 0, true},
		{"K", 0, true},
		{"12iB", 0, true},
		{"-1", 0, true},
		{"1.5M", 0, true},
		{"1T", 0, true},
		{"18446744073709551615K", 0, true},
	}
	for _, tt := range tests {
		got, err := parseBytes(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseBytes(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("parseBytes(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig("regionsize=64K, initial=1M,min=512K,max=4M,softmax=2M," +
		"expansiongcratio=10,contractiongcratio=1,minfree=0.2,maxfree=0.5," +
		"expansionstabilization=1,contractionstabilization=4,taxation=256K," +
		"minfreeentry=1K,tlhmin=512,tlhmax=32K,numanodes=2," +
		"commonthreads=java/lang/ref/*; *JIT* ,debug=true")
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	want := Config{
		RegionSize:                     64 << 10,
		InitialHeapSize:                1 << 20,
		MinHeapSize:                    512 << 10,
		MaxHeapSize:                    4 << 20,
		SoftMaxHeapSize:                2 << 20,
		ExpansionGCRatioThreshold:      10,
		ContractionGCRatioThreshold:    1,
		HeapFreeMinimumRatio:           0.2,
		HeapFreeMaximumRatio:           0.5,
		ExpansionStabilizationCycles:   1,
		ContractionStabilizationCycles: 4,
		TaxationThreshold:              256 << 10,
		MinimumFreeEntrySize:           1 << 10,
		TLHMinimumSize:                 512,
		TLHMaximumSize:                 32 << 10,
		ArrayletLeafSize:               64 << 10,
		NumaForceNodeCount:             2,
		CommonThreadPatterns:           []string{"java/lang/ref/*", "*JIT*"},
		Debug:                          true,
	}
	if !reflect.DeepEqual(cfg, want) {
		t.Errorf("ParseConfig() =\n%+v\nwant\n%+v", cfg, want)
	}
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig("")
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	def := DefaultConfig()
	if cfg.RegionSize != def.RegionSize || cfg.MaxHeapSize != def.MaxHeapSize {
		t.Errorf("ParseConfig(\"\") = %+v, want the defaults", cfg)
	}
	if cfg.TaxationThreshold != def.InitialHeapSize/4 {
		t.Errorf("TaxationThreshold = %d, want a quarter of the initial heap", cfg.TaxationThreshold)
	}
	if cfg.ArrayletLeafSize != cfg.RegionSize {
		t.Errorf("ArrayletLeafSize = %d, want the region size", cfg.ArrayletLeafSize)
	}
}

func TestParseConfigAlignsToRegions(t *testing.T) {
	cfg, err := ParseConfig("regionsize=64K,initial=100K,min=100K,max=1000K,softmax=500K")
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.InitialHeapSize != 128<<10 || cfg.MinHeapSize != 128<<10 {
		t.Errorf("initial %d, min %d; want both rounded up to 128K", cfg.InitialHeapSize, cfg.MinHeapSize)
	}
	if cfg.MaxHeapSize != 960<<10 || cfg.SoftMaxHeapSize != 448<<10 {
		t.Errorf("max %d, soft max %d; want 960K and 448K", cfg.MaxHeapSize, cfg.SoftMaxHeapSize)
	}
	// A quarter of the initial heap is less than a region.
	if cfg.TaxationThreshold != 64<<10 {
		t.Errorf("TaxationThreshold = %d, want one region", cfg.TaxationThreshold)
	}
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		in      string
		errPart string
	}{
		{"regionsize", "malformed setting"},
		{"bogus=1", "setting bogus"},
		{"max=lots", "malformed byte count"},
		{"numanodes=two", "setting numanodes"},
		{"regionsize=96K", "not a power of two"},
		{"regionsize=256", "smaller than a card"},
		{"min=1G", "heap sizes out of order"},
		{"softmax=1G", "soft maximum"},
		{"minfree=0.7", "free ratios"},
		{"expansiongcratio=1,contractiongcratio=2", "GC ratio thresholds"},
		{"expansionstabilization=-1", "stabilization"},
		{"tlhmin=1K", "TLH minimum"},
		{"tlhmax=256", "TLH maximum"},
		{"leafsize=2M", "arraylet leaf size"},
	}
	for _, tt := range tests {
		_, err := ParseConfig(tt.in)
		if err == nil {
			t.Errorf("ParseConfig(%q) succeeded", tt.in)
			continue
		}
		if !strings.Contains(err.Error(), tt.errPart) {
			t.Errorf("ParseConfig(%q) error = %q, want it to mention %q", tt.in, err, tt.errPart)
		}
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv(configEnv, "regionsize=256K,numanodes=-1")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.RegionSize != 256<<10 || cfg.NumaForceNodeCount != -1 {
		t.Errorf("ConfigFromEnv() = %+v", cfg)
	}
}

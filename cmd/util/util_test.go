package util

import (
	"strings"
	"testing"

	"github.com/spf13/viper"

	"github.com/ValentinKolb/txKV/lib/codec"
	"github.com/ValentinKolb/txKV/lib/engine"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 30)
	for _, line := range strings.Split(WrapString(text), "\n") {
		if len(line) > Wrap {
			t.Fatalf("line exceeds %d characters: %q", Wrap, line)
		}
	}
}

func TestGetEnvOptions(t *testing.T) {
	defer viper.Reset()

	viper.Set("engine", "pebble")
	viper.Set("map-size", 64)
	viper.Set("compression", "lz4")
	viper.Set("compression-threshold", 128)

	opts, err := GetEnvOptions()
	if err != nil {
		t.Fatal(err)
	}
	if opts.Engine != engine.ImplPebble {
		t.Errorf("engine = %s", opts.Engine)
	}
	if opts.MapSize != 64<<20 {
		t.Errorf("map size = %d", opts.MapSize)
	}
	if opts.Compression == nil || opts.Compression.Algorithm != codec.AlgorithmLZ4 || opts.Compression.Threshold != 128 {
		t.Errorf("compression = %+v", opts.Compression)
	}

	viper.Set("compression", "gzip")
	if _, err := GetEnvOptions(); err == nil {
		t.Error("expected an error for an unknown compression")
	}
}

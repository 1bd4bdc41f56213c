package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemOnlyConfig_Defaults(t *testing.T) {
	now := time.Unix(1700000000, 0)
	cfg, err := Params{"main_vm": "vm1"}.MemOnlyConfig(now)
	require.NoError(t, err)

	assert.Equal(t, "/tmp", cfg.WorkDir)
	assert.Equal(t, "/tmp/vm1-1700000000.mem", cfg.MemFile)
	assert.Equal(t, StrategyDiskSpec, cfg.Strategy)
	assert.Equal(t, BackendVirsh, cfg.Backend)
	assert.False(t, cfg.KeepMetadata)
}

func TestMemOnlyConfig_Strategy(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		want   Strategy
	}{
		{"flag", Params{"set_snapshot_no_in_xml": "true"}, StrategyXML},
		{"flag off", Params{"set_snapshot_no_in_xml": "no"}, StrategyDiskSpec},
		{"variant", Params{"variant": "memonly.xml_snapshot_no"}, StrategyXML},
		{"case", Params{"case": "xml_snapshot_no"}, StrategyXML},
		{"scenario", Params{"scenario": "diskspec"}, StrategyDiskSpec},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Merge(Params{"main_vm": "vm1"}, tt.params)
			cfg, err := p.MemOnlyConfig(time.Now())
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.Strategy)
		})
	}
}

func TestStressConfig_Defaults(t *testing.T) {
	cfg, err := Params{"main_vm": "vm1"}.StressConfig()
	require.NoError(t, err)

	assert.Equal(t, Internal, cfg.Kind)
	assert.Equal(t, 250, cfg.Count)
	assert.Equal(t, time.Second, cfg.Interval)
	assert.Equal(t, 2*time.Second, cfg.Settle)
	assert.Equal(t, "vda", cfg.TargetDev)
	assert.Equal(t, "/home/libvirt-work", cfg.WorkDir)
	assert.Equal(t, "/var/lib/avocado/data/avocado-vt/images", cfg.ImagesDir)
	assert.Equal(t, "/usr/bin/qemu-img", cfg.QemuImg)
	assert.Equal(t, "libvirtd", cfg.Service)
	assert.Empty(t, cfg.ExtraOptions)
}

func TestStressConfig_Values(t *testing.T) {
	cfg, err := Params{
		"main_vm":                "vm1",
		"snapshot_type":          " External ",
		"snapshot_count":         "0",
		"snapshot_interval":      "0",
		"snapshot_extra_options": `--description "stress run"`,
	}.StressConfig()
	require.NoError(t, err)

	assert.Equal(t, External, cfg.Kind)
	assert.Equal(t, 0, cfg.Count)
	assert.Equal(t, time.Duration(0), cfg.Interval)
	assert.Equal(t, []string{"--description", "stress run"}, cfg.ExtraOptions)
}

func TestStressConfig_Invalid(t *testing.T) {
	for name, p := range map[string]Params{
		"no vm":        {},
		"bad kind":     {"main_vm": "vm1", "snapshot_type": "weird"},
		"negative":     {"main_vm": "vm1", "snapshot_count": "-1"},
		"bad count":    {"main_vm": "vm1", "snapshot_count": "many"},
		"bad interval": {"main_vm": "vm1", "snapshot_interval": "soon"},
		"bad backend":  {"main_vm": "vm1", "domain_backend": "ssh"},
		"bad options":  {"main_vm": "vm1", "snapshot_extra_options": `"unterminated`},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := p.StressConfig()
			assert.Error(t, err)
		})
	}

	_, err := Params{}.StressConfig()
	assert.ErrorIs(t, err, ErrMissingParam)
}

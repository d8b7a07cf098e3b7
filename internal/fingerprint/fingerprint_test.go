package fingerprint

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticProbe(name, value string) Probe {
	return ProbeFunc{ProbeName: name, Fn: func(context.Context) (string, error) { return value, nil }}
}

func failingProbe(name string) Probe {
	return ProbeFunc{ProbeName: name, Fn: func(context.Context) (string, error) {
		return "", errors.New("access denied")
	}}
}

func TestCombine(t *testing.T) {
	ctx := context.Background()

	t.Run("concatenates in probe order", func(t *testing.T) {
		results, combined := Combine(ctx, []Probe{
			staticProbe("a", "one"),
			staticProbe("b", "two"),
			staticProbe("c", "three"),
		})
		assert.Equal(t, "onetwothree", combined)
		require.Len(t, results, 3)
		for _, r := range results {
			assert.False(t, r.Skipped)
		}
	})

	t.Run("skips failing and empty probes", func(t *testing.T) {
		results, combined := Combine(ctx, []Probe{
			failingProbe("a"),
			staticProbe("b", "two"),
			staticProbe("c", "   "),
		})
		assert.Equal(t, "two", combined)
		require.Len(t, results, 3)
		assert.True(t, results[0].Skipped)
		assert.Error(t, results[0].Err)
		assert.False(t, results[1].Skipped)
		assert.Equal(t, "two", results[1].Value)
		assert.True(t, results[2].Skipped)
		assert.ErrorIs(t, results[2].Err, ErrNoValue)
	})

	t.Run("all skipped", func(t *testing.T) {
		_, combined := Combine(ctx, []Probe{failingProbe("a"), failingProbe("b")})
		assert.Empty(t, combined)
	})
}

func TestFingerprinter_Compute(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.Nop()

	t.Run("deterministic across calls", func(t *testing.T) {
		f := New(logger, WithProbes(staticProbe("cpu", "Intel"), staticProbe("mac", "aa:bb")))
		first := f.Compute(ctx)
		assert.Equal(t, first, f.Compute(ctx))
		assert.Len(t, first, 64)
		assert.Equal(t, Digest("Intelaa:bb"), first)
	})

	t.Run("different hardware yields different id", func(t *testing.T) {
		a := New(logger, WithProbes(staticProbe("mac", "aa:bb"))).Compute(ctx)
		b := New(logger, WithProbes(staticProbe("mac", "cc:dd"))).Compute(ctx)
		assert.NotEqual(t, a, b)
	})

	t.Run("partial failure still deterministic", func(t *testing.T) {
		f := New(logger, WithProbes(failingProbe("cpu"), staticProbe("mac", "aa:bb")))
		assert.Equal(t, Digest("aa:bb"), f.Compute(ctx))
	})

	t.Run("falls back when every probe is skipped", func(t *testing.T) {
		f := New(logger,
			WithProbes(failingProbe("cpu"), failingProbe("mac")),
			WithFallback(func() string { return "host-amd64-x86" }),
		)
		assert.Equal(t, Digest("host-amd64-x86"), f.Compute(ctx))
		assert.Equal(t, f.Compute(ctx), f.Compute(ctx))
	})

	t.Run("default probes never fail", func(t *testing.T) {
		id := New(logger).Compute(ctx)
		assert.Len(t, id, 64)
	})
}

func TestPickPrimaryMAC(t *testing.T) {
	tests := []struct {
		name    string
		ifaces  []net.InterfaceStat
		want    string
		wantErr bool
	}{
		{
			name: "lowest index non-loopback wins",
			ifaces: []net.InterfaceStat{
				{Index: 3, Name: "wlan0", HardwareAddr: "AA:AA:AA:AA:AA:03"},
				{Index: 1, Name: "lo", Flags: []string{"up", "loopback"}},
				{Index: 2, Name: "eth0", HardwareAddr: "aa:aa:aa:aa:aa:02"},
			},
			want: "aa:aa:aa:aa:aa:02",
		},
		{
			name: "skips zero and empty addresses",
			ifaces: []net.InterfaceStat{
				{Index: 1, Name: "tun0"},
				{Index: 2, Name: "dummy0", HardwareAddr: "00:00:00:00:00:00"},
				{Index: 5, Name: "eth1", HardwareAddr: "aa:aa:aa:aa:aa:05"},
			},
			want: "aa:aa:aa:aa:aa:05",
		},
		{
			name:    "only loopback",
			ifaces:  []net.InterfaceStat{{Index: 1, Name: "lo", HardwareAddr: "00:00:00:00:00:01"}},
			wantErr: true,
		},
		{
			name:    "no interfaces",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pickPrimaryMAC(tt.ifaces)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoValue)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCleanSerial(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"  C02XK0ABJG5H \n", "C02XK0ABJG5H", false},
		{"To be filled by O.E.M.", "", true},
		{"Default string", "", true},
		{"0", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := cleanSerial(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoValue)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

package identity_test

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"codeberg.org/mutker/sysmetricsd/internal/errors"
	"codeberg.org/mutker/sysmetricsd/internal/hardware"
	"codeberg.org/mutker/sysmetricsd/internal/identity"
	"codeberg.org/mutker/sysmetricsd/internal/inventory"
	"codeberg.org/mutker/sysmetricsd/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hex16 = regexp.MustCompile(`^[0-9A-F]{16}$`)

type stubInventory struct {
	values map[inventory.Key]string
	err    error
	keys   []inventory.Key
}

func (s *stubInventory) Lookup(_ context.Context, key inventory.Key, _ string) (string, error) {
	s.keys = append(s.keys, key)
	if s.err != nil {
		return "", s.err
	}
	return s.values[key], nil
}

func TestFallbackSerialIsDeterministic(t *testing.T) {
	first := identity.FallbackSerial("CPU", "Intel Core i7-9700K", "/intelcpu/0")
	second := identity.FallbackSerial("CPU", "Intel Core i7-9700K", "/intelcpu/0")

	assert.Equal(t, first, second)
	assert.Regexp(t, hex16, first)
}

func TestFallbackSerialChangesWithEachInput(t *testing.T) {
	base := identity.FallbackSerial("GPU", "NVIDIA GeForce RTX 3080", "/nvidiagpu/0")

	assert.NotEqual(t, base, identity.FallbackSerial("CPU", "NVIDIA GeForce RTX 3080", "/nvidiagpu/0"))
	assert.NotEqual(t, base, identity.FallbackSerial("GPU", "NVIDIA GeForce RTX 3090", "/nvidiagpu/0"))
	assert.NotEqual(t, base, identity.FallbackSerial("GPU", "NVIDIA GeForce RTX 3080", "/nvidiagpu/1"))
}

func TestFallbackSerialKnownValue(t *testing.T) {
	// sha256("CPU-Test CPU-/cpu/0") starts with these 16 hex digits.
	assert.Equal(t, "3807AFDD11BD6BA4", identity.FallbackSerial("CPU", "Test CPU", "/cpu/0"))
}

func TestFallbackSerialDoesNotCollideAcrossIdenticalDevices(t *testing.T) {
	seen := make(map[string]string)
	for i := 0; i < 10000; i++ {
		identifier := fmt.Sprintf("/storage/%d", i)
		serial := identity.FallbackSerial("Storage", "Generic Disk", identifier)
		if previous, ok := seen[serial]; ok {
			t.Fatalf("collision between %s and %s", previous, identifier)
		}
		seen[serial] = identifier
	}
}

func TestUsable(t *testing.T) {
	for _, serial := range []string{"", "   ", "Not Available", "Default string", "To Be Filled By O.E.M.", "N/A", "[N/A]", "none", "UNKNOWN"} {
		assert.False(t, identity.Usable(serial), serial)
	}
	for _, serial := range []string{"WD-WCC4N0000001", "BFEBFBFF000906EA", "MB-1"} {
		assert.True(t, identity.Usable(serial), serial)
	}
}

func TestResolveUsesPlatformSerial(t *testing.T) {
	inv := &stubInventory{values: map[inventory.Key]string{
		inventory.ProcessorID: "BFEBFBFF000906EA",
		inventory.GPUSerial:   "1320321012345",
		inventory.DIMMSerial:  "12345678",
		inventory.BoardSerial: " MB-123456 ",
		inventory.DiskSerial:  "WD-WCC4N0000001",
	}}
	r := identity.NewResolver(inv, logger.Nop())
	ctx := context.Background()

	tests := []struct {
		hwType hardware.Type
		want   string
	}{
		{hardware.CPU, "BFEBFBFF000906EA"},
		{hardware.GPU, "1320321012345"},
		{hardware.RAM, "12345678"},
		{hardware.Mainboard, "MB-123456"},
		{hardware.Storage, "WD-WCC4N0000001"},
	}
	for _, tt := range tests {
		got := r.Resolve(ctx, identity.Descriptor{Type: tt.hwType, Name: "x", Identifier: "/x/0", Instance: "0"})
		assert.Equal(t, tt.want, got, tt.hwType)
	}

	assert.Equal(t, []inventory.Key{
		inventory.ProcessorID, inventory.GPUSerial, inventory.DIMMSerial, inventory.BoardSerial, inventory.DiskSerial,
	}, inv.keys)
}

func TestResolveFallsBack(t *testing.T) {
	d := identity.Descriptor{Type: hardware.Mainboard, Name: "PRIME Z390-A", Identifier: "/mainboard"}
	want := identity.FallbackSerial("Mainboard", "PRIME Z390-A", "/mainboard")
	ctx := context.Background()

	sentinel := identity.NewResolver(&stubInventory{values: map[inventory.Key]string{
		inventory.BoardSerial: "Default string",
	}}, logger.Nop())
	assert.Equal(t, want, sentinel.Resolve(ctx, d))

	blank := identity.NewResolver(&stubInventory{}, logger.Nop())
	assert.Equal(t, want, blank.Resolve(ctx, d))

	failing := identity.NewResolver(&stubInventory{err: errors.New().New(errors.ErrUnavailable)}, logger.Nop())
	assert.Equal(t, want, failing.Resolve(ctx, d))

	none := identity.NewResolver(nil, logger.Nop())
	assert.Equal(t, want, none.Resolve(ctx, d))
}

func TestResolveUnknownTypeUsesFallback(t *testing.T) {
	inv := &stubInventory{}
	r := identity.NewResolver(inv, logger.Nop())

	got := r.Resolve(context.Background(), identity.Descriptor{Type: hardware.Type("FanController"), Name: "Fan", Identifier: "/fan/0"})
	require.Regexp(t, hex16, got)
	assert.Empty(t, inv.keys)
}

// Package identity assigns stable serial numbers to hardware items.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"codeberg.org/mutker/sysmetricsd/internal/hardware"
	"codeberg.org/mutker/sysmetricsd/internal/inventory"
	"codeberg.org/mutker/sysmetricsd/internal/logger"
)

const fallbackLength = 16

// sentinels are placeholder strings firmware reports instead of a
// serial. Compared case-insensitively after trimming.
var sentinels = map[string]struct{}{
	"not available":          {},
	"default string":         {},
	"to be filled by o.e.m.": {},
	"not specified":          {},
	"system serial number":   {},
	"0":                      {},
	"[n/a]":                  {},
	"n/a":                    {},
	"none":                   {},
	"unknown":                {},
}

var lookupKeys = map[hardware.Type]inventory.Key{
	hardware.CPU:       inventory.ProcessorID,
	hardware.GPU:       inventory.GPUSerial,
	hardware.RAM:       inventory.DIMMSerial,
	hardware.Mainboard: inventory.BoardSerial,
	hardware.Storage:   inventory.DiskSerial,
}

// Descriptor is what the resolver needs to know about an item.
type Descriptor struct {
	Type       hardware.Type
	Name       string
	Identifier string
	// Instance selects the device for per-device inventory keys.
	Instance string
}

// DescriptorOf builds a Descriptor from a hardware item.
func DescriptorOf(item hardware.Item) Descriptor {
	return Descriptor{
		Type:       item.Type(),
		Name:       item.Name(),
		Identifier: item.Identifier(),
		Instance:   item.Instance(),
	}
}

type Resolver struct {
	inventory inventory.Provider
	logger    logger.Logger
}

func NewResolver(inv inventory.Provider, log logger.Logger) *Resolver {
	return &Resolver{
		inventory: inv,
		logger:    log,
	}
}

// Resolve returns the platform serial for d, or the fallback hash when
// the platform has none. It never returns an empty string; inventory
// failures degrade to the fallback.
func (r *Resolver) Resolve(ctx context.Context, d Descriptor) string {
	key, ok := lookupKeys[d.Type]
	if !ok || r.inventory == nil {
		return FallbackSerial(string(d.Type), d.Name, d.Identifier)
	}

	serial, err := r.inventory.Lookup(ctx, key, d.Instance)
	if err != nil {
		r.logger.Debug().
			Err(err).
			Str("type", string(d.Type)).
			Str("name", d.Name).
			Msg("Serial lookup failed, using fallback")
		return FallbackSerial(string(d.Type), d.Name, d.Identifier)
	}

	if !Usable(serial) {
		return FallbackSerial(string(d.Type), d.Name, d.Identifier)
	}

	return strings.TrimSpace(serial)
}

// Usable reports whether a platform serial is a real value rather than
// blank or a firmware placeholder.
func Usable(serial string) bool {
	trimmed := strings.TrimSpace(serial)
	if trimmed == "" {
		return false
	}

	_, placeholder := sentinels[strings.ToLower(trimmed)]
	return !placeholder
}

// FallbackSerial hashes "type-name-identifier" with SHA-256 and keeps
// the first 16 upper-case hex characters.
func FallbackSerial(hardwareType, name, identifier string) string {
	sum := sha256.Sum256([]byte(hardwareType + "-" + name + "-" + identifier))
	return strings.ToUpper(hex.EncodeToString(sum[:]))[:fallbackLength]
}

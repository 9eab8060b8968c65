// Package domain provides core domain models and types.
package domain

// Channel represents a strategy channel. Each owner holds one independent
// capital pool per channel.
type Channel string

const (
	// ChannelSwing is the short-horizon alert channel
	ChannelSwing Channel = "SWING"
	// ChannelLongTerm is the long-horizon training/position channel
	ChannelLongTerm Channel = "LONG_TERM"
)

// Channels lists all known strategy channels
var Channels = []Channel{ChannelSwing, ChannelLongTerm}

// Valid reports whether the channel is one of the known strategy channels
func (c Channel) Valid() bool {
	for _, known := range Channels {
		if c == known {
			return true
		}
	}
	return false
}

// LiquidityStatus represents the lifecycle state of a position's allocation
type LiquidityStatus string

const (
	// StatusUnallocated - no capital committed yet
	StatusUnallocated LiquidityStatus = "UNALLOCATED"
	// StatusAllocated - capital committed, no sales yet
	StatusAllocated LiquidityStatus = "ALLOCATED"
	// StatusPartiallySold - at least one sale, shares remaining
	StatusPartiallySold LiquidityStatus = "PARTIALLY_SOLD"
	// StatusFullySold - all shares sold, distribution inactive
	StatusFullySold LiquidityStatus = "FULLY_SOLD"
	// StatusRemoved - distribution deleted without banking a result (terminal)
	StatusRemoved LiquidityStatus = "REMOVED"
)

package transport

import "time"

// Config holds configuration for the provider transport.
type Config struct {
	// DataChannelLabel is the label of the protocol event channel.
	DataChannelLabel string `json:"data_channel_label"`

	// ConnectTimeout bounds the whole establishment sequence: ICE
	// gathering, SDP exchange, and data channel open.
	ConnectTimeout time.Duration `json:"connect_timeout"`

	// SignalingTimeout bounds the single SDP HTTP round-trip.
	SignalingTimeout time.Duration `json:"signaling_timeout"`

	// ICEServers lists STUN/TURN server URLs for the peer connection.
	ICEServers []string `json:"ice_servers,omitempty"`
}

// DefaultConfig returns the default transport configuration.
func DefaultConfig() Config {
	return Config{
		DataChannelLabel: "oai-events",
		ConnectTimeout:   15 * time.Second,
		SignalingTimeout: 10 * time.Second,
	}
}

// withDefaults fills zero-valued fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.DataChannelLabel == "" {
		c.DataChannelLabel = def.DataChannelLabel
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.SignalingTimeout <= 0 {
		c.SignalingTimeout = def.SignalingTimeout
	}
	return c
}

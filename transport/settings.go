package transport

// connSettings holds the negotiated HTTP/2 SETTINGS values that govern
// this connection's framing (spec §4.1, §4.3). Defaults match RFC 7540
// §6.5.2's initial values (65,535-byte window, 16,384-byte frames,
// 4,096-byte header table) except maxConcurrentStreams, which the RFC
// leaves unlimited and this runtime caps at 250.
type connSettings struct {
	initialWindowSize    int32
	maxFrameSize         uint32
	maxConcurrentStreams uint32
	headerTableSize      uint32
}

func defaultConnSettings() connSettings {
	return connSettings{
		initialWindowSize:    65535,
		maxFrameSize:         16384,
		maxConcurrentStreams: 250,
		headerTableSize:      4096,
	}
}

// Settings is the exported, server-configurable form of connSettings:
// the subset of spec §6's resource-bound knobs that feed directly into
// the HTTP/2 SETTINGS frame a Conn sends at connection start. The
// server package builds one of these from config.Config per listener.
type Settings struct {
	InitialWindowSize    int32
	MaxFrameSize         uint32
	MaxConcurrentStreams uint32
	HeaderTableSize      uint32
}

// DefaultSettings mirrors defaultConnSettings for callers outside the
// package (server's config defaults already match these independently,
// New uses them, and NewWithSettings falls back to them for every zero
// field of the Settings it is given).
func DefaultSettings() Settings {
	d := defaultConnSettings()
	return Settings{
		InitialWindowSize:    d.initialWindowSize,
		MaxFrameSize:         d.maxFrameSize,
		MaxConcurrentStreams: d.maxConcurrentStreams,
		HeaderTableSize:      d.headerTableSize,
	}
}

func (s Settings) toInternal() connSettings {
	out := defaultConnSettings()
	if s.InitialWindowSize > 0 {
		out.initialWindowSize = s.InitialWindowSize
	}
	if s.MaxFrameSize > 0 {
		out.maxFrameSize = s.MaxFrameSize
	}
	if s.MaxConcurrentStreams > 0 {
		out.maxConcurrentStreams = s.MaxConcurrentStreams
	}
	if s.HeaderTableSize > 0 {
		out.headerTableSize = s.HeaderTableSize
	}
	return out
}

package domain

// MediaFile is the catalog's view of one stored file on disk. The library
// scanner that produces these records lives outside this service; handlers
// only ever resolve a file id into one of these.
type MediaFile struct {
	ID     string
	ItemID string
	Path   string
	Size   int64
}

// ProbeResult holds the codec facts ffprobe reported for a file. A zero
// value means "probing failed or timed out"; callers treat that as
// not-direct-playable rather than as an error.
type ProbeResult struct {
	VideoCodec    string
	VideoProfile  string
	PixelFormat   string
	Width         int
	Height        int
	AudioCodec    string
	AudioChannels int
	BitRate       int64
}

// Empty reports whether the probe produced no usable stream facts.
func (p ProbeResult) Empty() bool {
	return p.VideoCodec == "" && p.AudioCodec == ""
}

// AudioTrack describes one audio stream of a source file, used by the
// audio-track selection ladder.
type AudioTrack struct {
	Index    int
	Codec    string
	Language string
	Title    string
	Channels int
	Default  bool
}

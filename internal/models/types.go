package models

// Start quality hints passed into player setup
const (
	QualityHigh = "high"
	QualityAuto = "auto"
)

// Track kinds
const (
	TrackKindCaptions  = "captions"
	TrackKindSubtitles = "subtitles"
)

// MimeHLS is the source type of HLS manifests
const MimeHLS = "application/vnd.apple.mpegurl"

package protocol

import "strings"

// Status is the readiness of one capability on the provider side.
type Status string

const (
	StatusUnknown      Status = "unknown"
	StatusUnavailable  Status = "unavailable"
	StatusDownloadable Status = "downloadable"
	StatusDownloading  Status = "downloading"
	StatusReady        Status = "ready"
)

// ParseStatus normalizes the availability vocabularies reported by model
// hosts. Older hosts answer "readily"/"after-download"/"no", newer ones
// "available"/"downloadable"/"downloading"/"unavailable". Anything else is unknown.
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ready", "readily", "available":
		return StatusReady
	case "downloadable", "after-download":
		return StatusDownloadable
	case "downloading":
		return StatusDownloading
	case "unavailable", "no":
		return StatusUnavailable
	default:
		return StatusUnknown
	}
}

// Availability describes one capability in a snapshot.
type Availability struct {
	Available        bool   `json:"available"`
	Status           Status `json:"status"`
	RequiresDownload bool   `json:"requiresDownload"`
}

// NewAvailability derives the boolean flags from status.
func NewAvailability(status Status) Availability {
	return Availability{
		Available:        status == StatusReady,
		Status:           status,
		RequiresDownload: status == StatusDownloadable || status == StatusDownloading,
	}
}

// Unknown is the baseline entry used before any refresh.
func Unknown() Availability {
	return NewAvailability(StatusUnknown)
}

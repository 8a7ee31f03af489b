package domain

import "strings"

// VideoStatus is the processing outcome carried by a video event.
type VideoStatus int

const (
	StatusUnrecognized VideoStatus = iota
	StatusProcessing
	StatusFailed
	StatusCompleted
)

// ParseVideoStatus maps a wire value to a VideoStatus. Unknown values become
// StatusUnrecognized so newer producers cannot break the pipeline.
func ParseVideoStatus(s string) VideoStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "processing":
		return StatusProcessing
	case "failed":
		return StatusFailed
	case "completed":
		return StatusCompleted
	default:
		return StatusUnrecognized
	}
}

func (s VideoStatus) String() string {
	switch s {
	case StatusProcessing:
		return "processing"
	case StatusFailed:
		return "failed"
	case StatusCompleted:
		return "completed"
	default:
		return "unrecognized"
	}
}

// VideoEvent is the broker payload published by the video pipeline.
type VideoEvent struct {
	VideoID string `json:"videoId"`
	Status  string `json:"status"`
	Email   string `json:"email"`
}

// MissingFields lists the required JSON fields that are empty.
func (e VideoEvent) MissingFields() []string {
	var missing []string
	if strings.TrimSpace(e.VideoID) == "" {
		missing = append(missing, "videoId")
	}
	if strings.TrimSpace(e.Status) == "" {
		missing = append(missing, "status")
	}
	if strings.TrimSpace(e.Email) == "" {
		missing = append(missing, "email")
	}
	return missing
}

package messages

import (
	"fmt"
	"html"

	"github.com/videoflow/notification/internal/domain"
)

// Template is a rendered notification ready to be persisted and e-mailed.
type Template struct {
	Title string
	Body  string
}

// Render picks the template for status and interpolates videoID into its body.
// It returns false for StatusUnrecognized: callers skip dispatch instead of
// sending an empty notification.
func Render(status domain.VideoStatus, videoID string) (Template, bool) {
	id := html.EscapeString(videoID)

	switch status {
	case domain.StatusProcessing:
		return Template{Title: ProcessingTitle, Body: fmt.Sprintf(ProcessingBody, id)}, true
	case domain.StatusFailed:
		return Template{Title: FailedTitle, Body: fmt.Sprintf(FailedBody, id)}, true
	case domain.StatusCompleted:
		return Template{Title: CompletedTitle, Body: fmt.Sprintf(CompletedBody, id)}, true
	case domain.StatusUnrecognized:
		return Template{}, false
	default:
		return Template{}, false
	}
}

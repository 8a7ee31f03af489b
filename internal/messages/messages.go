package messages

// ─── Video processing ───────────────────────────────────────────────────────

const (
	ProcessingTitle = "Video in Processing"
	ProcessingBody  = `<p>Hello,</p>
<p>Your video (ID: %s) is being processed.</p>
<p>You will receive a notification as soon as processing is complete.</p>
<p>Regards,<br>Video Processing Team</p>`

	FailedTitle = "Video Processing Failed"
	FailedBody  = `<p>Hello,</p>
<p>Processing of your video (ID: %s) failed.</p>
<p>Please try uploading it again. If the problem persists, contact support.</p>
<p>Regards,<br>Video Processing Team</p>`

	CompletedTitle = "Video Processing Completed"
	CompletedBody  = `<p>Hello,</p>
<p>Processing of your video (ID: %s) completed successfully!</p>
<p>You can now access it on our platform.</p>
<p>Regards,<br>Video Processing Team</p>`
)

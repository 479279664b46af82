package filters

const (
	// AnnotationThreadDisplayNumber carries the display number extracted from
	// the subject or body; its presence makes the message a follow-up
	// candidate.
	AnnotationThreadDisplayNumber = "inbound.thread_display_number"
	// AnnotationIgnoreMessage tells the postmaster to discard silently.
	AnnotationIgnoreMessage = "inbound.ignore_message"
	// AnnotationIgnoreReason records why a message was flagged for discard.
	AnnotationIgnoreReason = "inbound.ignore_reason"
)

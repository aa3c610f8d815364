package domain

const (
	// ChannelHeartbeat is the reserved channel name for synthetic jobs
	// written by the periodic trigger
	ChannelHeartbeat = "heartbeat"

	// JobFileExt is the extension a file must carry to be picked up from
	// the incoming directory
	JobFileExt = ".json"
)

// Response shaping limits
const (
	// ResponseMaxLen is the length ceiling for an outgoing response
	ResponseMaxLen = 4000
	// ResponseTruncLen is the length a too-long response is cut to before
	// the marker is appended
	ResponseTruncLen = 3900
	// TruncationMarker is appended to a truncated response
	TruncationMarker = "... [truncated]"
)

// FallbackResponse is the user-visible text substituted when the generator
// invocation fails
const FallbackResponse = "Sorry, something went wrong while generating a response. Please try again."

package pipeline

import "regexp"

var (
	// thinkSegment matches a complete reasoning segment including its markers.
	thinkSegment = regexp.MustCompile(`(?s)<think>.*?</think>`)
	// thinkCapture captures the body of the first reasoning segment.
	thinkCapture = regexp.MustCompile(`(?s)<think>(.*?)</think>`)
)

// ExtractThink splits a message body into its visible text and the optional
// reasoning trace. Every <think>...</think> segment is removed from the
// visible text, but only the first one is returned as think. think is nil
// when the body has no segment, in which case visible equals body.
func ExtractThink(body string) (visible string, think *string) {
	m := thinkCapture.FindStringSubmatch(body)
	if m == nil {
		return body, nil
	}
	captured := m[1]
	return thinkSegment.ReplaceAllString(body, ""), &captured
}

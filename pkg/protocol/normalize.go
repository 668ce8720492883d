package protocol

import "strings"

// DisplayPrefix turns a bare base64 image payload into a data URI.
const DisplayPrefix = "data:image/*;base64,"

const dataScheme = "data:"

// IsDisplayable reports whether ref can be used directly as an image source.
func IsDisplayable(ref string) bool {
	return strings.HasPrefix(ref, dataScheme)
}

// Normalize rewrites a bare base64 image into a displayable data URI.
// References that already carry the data scheme are left alone.
func Normalize(msg Message) Message {
	if msg.Image == "" || IsDisplayable(msg.Image) {
		return msg
	}

	msg.Image = DisplayPrefix + msg.Image
	return msg
}

// NormalizeAll returns a normalized copy of messages in the same order.
func NormalizeAll(messages []Message) []Message {
	if messages == nil {
		return nil
	}

	normalized := make([]Message, len(messages))
	for i, msg := range messages {
		normalized[i] = Normalize(msg)
	}

	return normalized
}

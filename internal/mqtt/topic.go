package mqtt

import "strings"

// TopicMatches reports whether a topic matches a subscription filter,
// honoring the + (single level) and # (trailing multi level) wildcards.
func TopicMatches(filter, topic string) bool {
	if filter == topic {
		return true
	}

	filterParts := strings.Split(filter, "/")
	topicParts := strings.Split(topic, "/")

	for i, part := range filterParts {
		if part == "#" {
			// # must be the last filter level and swallows the rest
			return i == len(filterParts)-1
		}
		if i >= len(topicParts) {
			return false
		}
		if part == "+" {
			continue
		}
		if part != topicParts[i] {
			return false
		}
	}

	return len(filterParts) == len(topicParts)
}

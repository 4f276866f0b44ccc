package natsclient

import "strings"

var (
	tokenEscaper = strings.NewReplacer(
		"%", "%25",
		".", "%2E",
		" ", "%20",
		"*", "%2A",
		">", "%3E",
	)
	tokenUnescaper = strings.NewReplacer(
		"%25", "%",
		"%2E", ".",
		"%20", " ",
		"%2A", "*",
		"%3E", ">",
	)
)

// TopicToSubject maps a slash-separated topic onto a NATS subject. "#" becomes
// ">" and "+" becomes "*"; every other segment is escaped so that dots and
// spaces in ids ("gateway_45.07.0", "Valle d'Aosta") stay inside one token.
func TopicToSubject(topic string) string {
	segs := strings.Split(topic, "/")
	for i, s := range segs {
		switch s {
		case "#":
			segs[i] = ">"
		case "+":
			segs[i] = "*"
		default:
			segs[i] = tokenEscaper.Replace(s)
		}
	}
	return strings.Join(segs, ".")
}

// SubjectToTopic is the inverse of TopicToSubject
func SubjectToTopic(subject string) string {
	toks := strings.Split(subject, ".")
	for i, t := range toks {
		switch t {
		case ">":
			toks[i] = "#"
		case "*":
			toks[i] = "+"
		default:
			toks[i] = tokenUnescaper.Replace(t)
		}
	}
	return strings.Join(toks, "/")
}

// TopicTail returns the last segment of a topic
func TopicTail(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}

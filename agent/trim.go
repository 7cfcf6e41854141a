package agent

import "github.com/smallnest/hilagent/schema"

// TrimOptions bounds the history sent to the model.
type TrimOptions struct {
	// MaxMessages is the window size, system message included. Zero disables trimming.
	MaxMessages int
	// KeepSystem keeps a leading system message in front of the window.
	KeepSystem bool
}

// TrimMessages keeps the most recent messages within opts.MaxMessages. The
// window always starts on a human message so tool calls and their results are
// never split; when the window holds no human message it widens back to the
// latest one.
func TrimMessages(msgs []schema.Message, opts TrimOptions) []schema.Message {
	if opts.MaxMessages <= 0 || len(msgs) <= opts.MaxMessages {
		return msgs
	}

	var system []schema.Message
	rest := msgs
	budget := opts.MaxMessages
	if opts.KeepSystem && len(msgs) > 0 && msgs[0].Type == schema.MessageSystem {
		system = msgs[:1]
		rest = msgs[1:]
		budget--
	}

	start := len(rest) - budget
	if start < 0 {
		start = 0
	}
	human := -1
	for i := start; i < len(rest); i++ {
		if rest[i].Type == schema.MessageHuman {
			human = i
			break
		}
	}
	if human < 0 {
		for i := start - 1; i >= 0; i-- {
			if rest[i].Type == schema.MessageHuman {
				human = i
				break
			}
		}
	}
	if human < 0 {
		return msgs
	}

	out := make([]schema.Message, 0, len(system)+len(rest)-human)
	out = append(out, system...)
	return append(out, rest[human:]...)
}

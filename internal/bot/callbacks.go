package bot

import (
	"context"
	"strings"
)

// CallbackAction is one parsed inline-keyboard press: the routing tag and
// whatever payload follows it.
type CallbackAction struct {
	Kind string
	Arg  string
}

// callbackKinds are the recognized routing tags.
var callbackKinds = map[string]bool{
	"hp":   true, // history: older page
	"hn":   true, // history: newer page
	"db":   true, // directory browser
	"wb":   true, // window picker
	"sess": true, // sessions dashboard
	"st":   true, // status actions
	"aq":   true, // interactive prompt keys
	"kb":   true, // screenshot keys
	"ss":   true, // screenshot refresh
	"rec":  true, // recovery
	"res":  true, // resume picker
}

// ParseCallback splits callback data into its tag and payload. ok is false
// when the tag is unknown, so the router can answer "Invalid data" without
// each handler re-validating the shape.
func ParseCallback(data string) (CallbackAction, bool) {
	i := strings.IndexByte(data, ':')
	if i <= 0 {
		return CallbackAction{}, false
	}
	kind := data[:i]
	if !callbackKinds[kind] {
		return CallbackAction{}, false
	}
	return CallbackAction{Kind: kind, Arg: data[i+1:]}, true
}

// splitOp divides a payload into its operation and argument at the first
// colon: "cd:3" → ("cd", "3"), "up" → ("up", "").
func splitOp(payload string) (op, arg string) {
	if i := strings.IndexByte(payload, ':'); i >= 0 {
		return payload[:i], payload[i+1:]
	}
	return payload, ""
}

// handleCallback routes one keyboard press and always answers the query so
// the client clears its spinner.
func (b *Bridge) handleCallback(ctx context.Context, cb *Callback) {
	toast := b.routeCallback(ctx, cb)
	if err := b.platform.AnswerCallback(ctx, cb.ID, toast); err != nil {
		b.log.Debug().Err(err).Msg("callback answer failed")
	}
}

// routeCallback dispatches to the flow handlers. Flows with user-scope
// pending state (browser, picker, recovery, resume) verify the press comes
// from the topic that owns the state; everything else resolves its target
// from the callback's own thread.
func (b *Bridge) routeCallback(ctx context.Context, cb *Callback) string {
	action, ok := ParseCallback(cb.Data)
	if !ok {
		return "Invalid data"
	}
	if cb.Message == nil || cb.Message.Chat == nil {
		return "Invalid data"
	}
	topicID := cb.Message.ThreadID

	switch action.Kind {
	case "db", "wb", "rec", "res":
		st := b.userUI(cb.From.ID)
		if st == nil || st.TopicID != topicID {
			return "Stale (topic mismatch)"
		}
		switch {
		case action.Kind == "db" && st.Kind == uiBrowser:
			op, arg := splitOp(action.Arg)
			return b.handleBrowser(ctx, cb, st, op, arg)
		case action.Kind == "wb" && st.Kind == uiPicker:
			return b.handlePicker(ctx, cb, st, action.Arg)
		case action.Kind == "rec" && st.Kind == uiRecovery:
			return b.handleRecovery(ctx, cb, st, action.Arg)
		case action.Kind == "res" && st.Kind == uiResume:
			op, arg := splitOp(action.Arg)
			return b.handleResume(ctx, cb, st, op, arg)
		}
		return "Stale (topic mismatch)"

	case "aq":
		return b.handlePromptKey(ctx, cb, topicID, action.Arg)

	case "hp", "hn":
		return b.handleHistoryPage(ctx, cb, topicID, action.Arg)

	case "st":
		return b.handleStatusAction(ctx, cb, topicID, action.Arg)

	case "kb":
		return b.handleScreenshotKey(ctx, cb, topicID, action.Arg)

	case "ss":
		if op, _ := splitOp(action.Arg); op != "ref" {
			return "Invalid data"
		}
		return b.handleScreenshotRefresh(ctx, cb, topicID)

	case "sess":
		return b.handleDashboard(ctx, cb, action.Arg)
	}
	return "Invalid data"
}

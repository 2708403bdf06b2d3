package models

import (
	"fmt"
	"strings"
)

// callbackPrefix versions the compact callback encoding carried in channel
// button payloads. Telegram caps callback data at 64 bytes, so buttons carry
// this compact form while signed action tokens back the HTTP action links.
const callbackPrefix = "pp1"

// EncodeCallback renders an action and request id into compact callback data.
func EncodeCallback(action ApprovalAction, requestID string) string {
	return fmt.Sprintf("%s:%s:%s", callbackPrefix, action, requestID)
}

// DecodeCallback parses compact callback data back into an action and
// request id.
func DecodeCallback(data string) (ApprovalAction, string, error) {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) != 3 || parts[0] != callbackPrefix {
		return "", "", NewValidationError("unrecognized callback data")
	}
	action := ApprovalAction(parts[1])
	switch action {
	case ActionApprove, ActionReject, ActionEdit, ActionSchedule:
	default:
		return "", "", NewValidationError("unknown callback action")
	}
	if parts[2] == "" {
		return "", "", NewValidationError("callback missing request id")
	}
	return action, parts[2], nil
}

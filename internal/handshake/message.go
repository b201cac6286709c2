// Package handshake implements the extension auth handshake: a page holding a
// one-time code asks an extension, over a broadcast channel, to redeem it.
package handshake

import (
	"fmt"
	"strings"
)

// Type tags of the two cross-context messages.
const (
	RequestType = "linkcloak:extension-auth:request"
	ResultType  = "linkcloak:extension-auth:result"
)

// Message is the envelope exchanged on the bus. Requests carry Code, results
// carry Success and, on failure, Error.
type Message struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Success *bool  `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Request builds the outbound message for code.
func Request(code string) Message {
	return Message{Type: RequestType, Code: code}
}

// Result builds an inbound result. An empty errText on failure is allowed.
func Result(success bool, errText string) Message {
	return Message{Type: ResultType, Success: &success, Error: errText}
}

// User facing texts, one per terminal branch.
const (
	MissingCodeText = "This page was opened without a sign-in code. Start the connection again from your account settings."
	TimeoutText     = "No extension responded. Check that the extension is installed and enabled, then reload this page."
	FailureText     = "The extension could not sign in."
	SuccessText     = "Extension connected. This tab closes in %d seconds."
	PendingText     = "Waiting for the extension..."
)

// FailureMessage is the remediation shown for an explicit failure result.
func FailureMessage(errText string) string {
	errText = strings.TrimSpace(errText)
	if errText == "" {
		return FailureText + " Reload this page to try again."
	}
	return fmt.Sprintf("%s %s. Reload this page to try again.", FailureText, strings.TrimSuffix(errText, "."))
}

// CountdownMessage is the text shown while the success countdown runs.
func CountdownMessage(remaining int) string {
	return fmt.Sprintf(SuccessText, remaining)
}

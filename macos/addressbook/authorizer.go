package addressbook

import (
	"context"
	"fmt"
	"strings"

	"github.com/spachava753/contactkit/contacts"
)

type authorizer interface {
	status(ctx context.Context) (contacts.AuthStatus, error)
	request(ctx context.Context) (bool, error)
}

var statusScript = []string{
	`ObjC.import('Contacts');`,
	`String($.CNContactStore.authorizationStatusForEntityType($.CNEntityTypeContacts));`,
}

// The completion handler fires on another queue; spin the run loop until it
// does. Cancellation is left to the caller's context killing osascript.
var requestScript = []string{
	`ObjC.import('Contacts');`,
	`var done = false;`,
	`var granted = false;`,
	`var store = $.CNContactStore.alloc.init;`,
	`store.requestAccessForEntityTypeCompletionHandler($.CNEntityTypeContacts, function (ok, err) { granted = ok; done = true; });`,
	`while (!done) { $.NSRunLoop.currentRunLoop.runUntilDate($.NSDate.dateWithTimeIntervalSinceNow(0.1)); }`,
	`granted ? 'granted' : 'denied';`,
}

// parseAuthorizationStatus maps CNAuthorizationStatus raw values. Limited
// access (4) reads as authorized.
func parseAuthorizationStatus(out string) (contacts.AuthStatus, error) {
	switch lastLine(out) {
	case "0":
		return contacts.AuthStatusNotDetermined, nil
	case "1":
		return contacts.AuthStatusRestricted, nil
	case "2":
		return contacts.AuthStatusDenied, nil
	case "3", "4":
		return contacts.AuthStatusAuthorized, nil
	default:
		return "", fmt.Errorf("unexpected authorization status %q", out)
	}
}

func parseRequestResult(out string) (bool, error) {
	switch lastLine(out) {
	case "granted":
		return true, nil
	case "denied":
		return false, nil
	default:
		return false, fmt.Errorf("unexpected access request result %q", out)
	}
}

func lastLine(out string) string {
	out = strings.TrimSpace(out)
	if i := strings.LastIndexByte(out, '\n'); i >= 0 {
		out = out[i+1:]
	}
	return strings.TrimSpace(out)
}

// Package gmail implements contacts.Store over the people a Gmail account
// corresponds with.
//
// The Store has no address book of its own: a contact is an address seen in
// the From, To or Cc header of a recent message in "[Gmail]/All Mail". Each
// distinct address (compared case-insensitively) is one contacts.Entry whose
// ID is a name-based UUID of the address, so IDs are stable across queries.
//
// # Authentication
//
// Runtime credentials are read from Options, falling back to environment
// variables:
//
//   - GMAIL_ADDRESS
//   - GMAIL_APP_PASSWORD
//
// RequestAccess signs in over IMAP with SASL PLAIN. A rejected login denies
// the Store for its lifetime; a dial or network failure is returned as an
// error and leaves the status not determined. Missing credentials are
// reported as contacts.ErrorCodeUnavailable.
//
// # Search
//
// A search text narrows the IMAP search to messages whose From, To or Cc
// header contains it, within Options.Window and capped at the newest
// Options.MaxMessages messages. Harvested addresses are then kept only when
// contacts.MatchEntry accepts them, so a message that matched on its sender
// does not leak its other recipients into the result.
//
// Minimal example:
//
//	svc := contacts.New(gmail.New(gmail.Options{}), "en")
//	if granted, err := svc.RequestAccess(ctx); err != nil || !granted {
//		// handle
//	}
//	people, err := svc.LoadContacts(ctx, "acme.example")
package gmail

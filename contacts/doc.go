// Package contacts is a small facade over a contact store: it requests
// authorization to read contacts and loads contacts filtered by a search
// string.
//
// The package exposes two operations on Service:
//
//   - RequestAccess: obtain and report authorization for reading contacts.
//   - LoadContacts: return contacts matching an optional search string.
//
// Both have Async variants that deliver exactly one result on a channel.
//
// The intended composition model is:
//
//	new -> request access -> load (repeat as needed)
//
// # Stores
//
// The Service never talks to a platform directly. It wraps a Store, which
// owns authorization state, matching and ordering. Implementations in this
// module:
//
//   - github.com/spachava753/contactkit/macos/addressbook: the macOS Contacts database.
//   - github.com/spachava753/contactkit/carddav: a CardDAV server.
//   - github.com/spachava753/contactkit/gmail: Gmail correspondents over IMAP.
//   - github.com/spachava753/contactkit/contacts/contactstest: an in-memory test double.
//
// # Authorization
//
// Authorization is read from the Store on every call and never cached by the
// Service. LoadContacts never prompts; when access is missing it returns an
// *Error for which IsUnauthorized reports true.
//
// # Language
//
// The primary language given to New controls display-name composition
// (family name first for Chinese, Japanese, Korean and a few others) and is
// forwarded to the Store, which uses it to order results. Record.DisplayName
// falls back to a localized "Unknown" when an entry carries no name at all.
//
// # Composition Examples
//
// 1) Request access, then load everything:
//
//	svc := contacts.New(store, "en")
//	granted, err := svc.RequestAccess(ctx)
//	if err != nil || !granted {
//		// handle
//	}
//	all, err := svc.LoadContacts(ctx, "")
//
// 2) Search in the background:
//
//	res := <-svc.LoadContactsAsync(ctx, "Priya")
//	if res.Err != nil {
//		// handle
//	}
//	for _, c := range res.Contacts {
//		fmt.Println(c.DisplayName, c.Phones)
//	}
//
// 3) Tell a missing grant apart from a store failure:
//
//	_, err = svc.LoadContacts(ctx, "Lee")
//	switch {
//	case contacts.IsUnauthorized(err):
//		// ask the user to grant access
//	case err != nil:
//		// store failure; retry policy is the caller's
//	}
package contacts

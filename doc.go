// Package contactkit is a documentation-only index for the packages in this
// module. Import a subpackage to use it.
//
// Packages:
//   - github.com/spachava753/contactkit/contacts
//     The Service facade: request access once, then load or search contacts
//     without ever prompting. Also the Store interface that backends
//     implement.
//   - github.com/spachava753/contactkit/contacts/contactstest
//     An in-memory Store for tests.
//   - github.com/spachava753/contactkit/macos/addressbook
//     Store over the macOS Contacts database.
//   - github.com/spachava753/contactkit/macos/messages
//     Store over the people in the macOS Messages history.
//   - github.com/spachava753/contactkit/carddav
//     Store over a CardDAV address book.
//   - github.com/spachava753/contactkit/gmail
//     Store over the correspondents of a Gmail account, read through IMAP.
//   - github.com/spachava753/contactkit/browser
//     Opens URLs, such as a System Settings privacy pane.
//   - github.com/spachava753/contactkit/cmd/contacts
//     The contacts command line tool.
//
// Discovery:
//   - Run: go doc github.com/spachava753/contactkit
//   - Then drill in with:
//     go doc github.com/spachava753/contactkit/contacts
//     go doc github.com/spachava753/contactkit/contacts.Service
package contactkit

// Package messages implements contacts.Store over the people in the local
// macOS Messages history.
//
// Every handle (phone number or email address) that has exchanged at least
// one message becomes a contacts.Entry. Handles registered for more than one
// service (iMessage and SMS) are merged. Entries carry only the handle
// unless Options.ResolveNames is set, in which case names come from the
// Messages app's own contact resolution. Scripting Messages.app launches it
// and can raise the macOS Automation consent prompt, so a plain Query never
// does it.
//
// # Data sources
//
//   - SQLite (~/Library/Messages/chat.db): handles and message dates.
//   - AppleScript (Messages.app): participant names, with ResolveNames.
//
// # Authorization
//
// chat.db is guarded by Full Disk Access, which macOS never prompts for. The
// Store therefore reports authorized when the database can be opened and
// denied when the system refuses it; RequestAccess only re-reads that state.
// Grant access under System Settings -> Privacy & Security -> Full Disk
// Access.
//
// SQLite access uses github.com/mattn/go-sqlite3 (CGO required).
package messages

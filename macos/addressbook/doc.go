// Package addressbook implements contacts.Store over the macOS Contacts
// database.
//
// Authorization is owned by Contacts.framework: status and the permission
// prompt are driven through CNContactStore with a short JXA program run by
// /usr/bin/osascript, so the decision is the system's and persists across
// runs. On platforms other than darwin the authorization calls return
// contacts.ErrUnsupportedPlatform.
//
// Contacts are read from the AddressBook SQLite databases that back the
// Contacts app:
//
//	~/Library/Application Support/AddressBook/AddressBook-v22.abcddb
//	~/Library/Application Support/AddressBook/Sources/*/AddressBook-v22.abcddb
//
// Each database is opened read-only for the duration of one Query. Records
// found in more than one database are reported once, keyed by their unique
// identifier. Contact thumbnails are read from the record's thumbnail
// column, inline or from the database's external data directory.
//
// # Matching
//
// A non-empty search text matches a contact when any of its given, middle,
// family or nick names, its organization, its "given family" or "family
// given" composed name, one of its email addresses or one of its phone
// numbers contains the text. Both sides are Unicode case folded by a fold()
// SQL function registered on every connection, so "émile" finds "Émile" and
// "STRASSE" finds "Straße". A text made of digits and phone punctuation also
// matches phone numbers digit-for-digit ("4155550101" finds
// "+1 (415) 555-0101").
package addressbook

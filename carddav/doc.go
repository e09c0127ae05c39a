// Package carddav implements contacts.Store over a CardDAV server
// (RFC 6352).
//
// Authorization maps onto the server's authentication: RequestAccess
// discovers the user's principal, address book home set and address books
// with the configured credentials. Success authorizes the Store; an HTTP 401
// or 403 denies it for the Store's lifetime, the way a platform remembers a
// refused permission prompt. Transport failures leave the status untouched.
//
// Matching is delegated to the server: a non-empty search text becomes an
// addressbook-query REPORT with "contains" text-matches on FN, N, NICKNAME,
// ORG, EMAIL and TEL, combined with anyof. Servers collate text-matches with
// i;unicode-casemap by default. Results are decoded with go-vcard and ordered
// for the requested language.
package carddav

package main

import (
	"fmt"
	"time"

	"github.com/spachava753/contactkit/carddav"
	"github.com/spachava753/contactkit/contacts"
	"github.com/spachava753/contactkit/gmail"
	"github.com/spachava753/contactkit/macos/addressbook"
	"github.com/spachava753/contactkit/macos/messages"
)

const (
	storeAddressBook = "addressbook"
	storeMessages    = "messages"
	storeCardDAV     = "carddav"
	storeGmail       = "gmail"
)

// configuredStore builds the store named by the "store" setting.
func (a *app) configuredStore() (contacts.Store, error) {
	name := a.v.GetString("store")
	log := a.log.WithField("store", name)

	switch name {
	case storeAddressBook:
		return addressbook.New(addressbook.Options{
			Paths:  a.v.GetStringSlice("addressbook.paths"),
			Logger: log,
		}), nil
	case storeMessages:
		return messages.New(messages.Options{
			Path:         a.v.GetString("messages.path"),
			ResolveNames: a.v.GetBool("messages.resolve_names"),
			Logger:       log,
		}), nil
	case storeCardDAV:
		return carddav.New(carddav.Options{
			Endpoint:    a.v.GetString("carddav.endpoint"),
			Username:    a.v.GetString("carddav.username"),
			Password:    a.v.GetString("carddav.password"),
			AddressBook: a.v.GetString("carddav.address_book"),
			Logger:      log,
		})
	case storeGmail:
		return gmail.New(gmail.Options{
			Window:      time.Duration(a.v.GetInt("gmail.window_days")) * 24 * time.Hour,
			MaxMessages: a.v.GetInt("gmail.max_messages"),
			Logger:      log,
		}), nil
	default:
		return nil, fmt.Errorf("contacts: unknown store %q (want %q, %q, %q or %q)", name, storeAddressBook, storeMessages, storeCardDAV, storeGmail)
	}
}

func settingsURL(store string) string {
	switch store {
	case storeAddressBook:
		return addressbook.SettingsURL
	case storeMessages:
		return messages.SettingsURL
	default:
		return ""
	}
}

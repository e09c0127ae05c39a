package contacts_test

import (
	"context"
	"fmt"

	"github.com/spachava753/contactkit/contacts"
)

func composeRequestThenLoadAll(ctx context.Context, store contacts.Store) ([]contacts.Record, error) {
	svc := contacts.New(store, "en")
	granted, err := svc.RequestAccess(ctx)
	if err != nil {
		return nil, err
	}
	if !granted {
		return nil, nil
	}
	return svc.LoadContacts(ctx, "")
}

func composeSearchInBackground(ctx context.Context, store contacts.Store) error {
	svc := contacts.New(store, "zh-Hans")
	res := <-svc.LoadContactsAsync(ctx, "Priya")
	if res.Err != nil {
		return res.Err
	}
	for _, c := range res.Contacts {
		fmt.Println(c.DisplayName, c.Phones)
	}
	return nil
}

func composeClassifyFailure(ctx context.Context, store contacts.Store) (string, error) {
	svc := contacts.New(store, "")
	_, err := svc.LoadContacts(ctx, "Lee")
	switch {
	case contacts.IsUnauthorized(err):
		access := <-svc.RequestAccessAsync(ctx)
		if access.Err != nil {
			return "denied", access.Err
		}
		return "granted", nil
	case err != nil:
		return "failed", err
	default:
		return "ok", nil
	}
}

var (
	_ = composeRequestThenLoadAll
	_ = composeSearchInBackground
	_ = composeClassifyFailure
)

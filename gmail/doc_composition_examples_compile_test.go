package gmail_test

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/spachava753/contactkit/contacts"
	"github.com/spachava753/contactkit/gmail"
)

func composeRecentCorrespondentsAtDomain(ctx context.Context, domain string) ([]string, error) {
	store := gmail.New(gmail.Options{Window: 90 * 24 * time.Hour})
	svc := contacts.New(store, "")

	granted, err := svc.RequestAccess(ctx)
	if err != nil {
		return nil, err
	}
	if !granted {
		return nil, nil
	}

	records, err := svc.LoadContacts(ctx, "@"+domain)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(records))
	for _, r := range records {
		for _, e := range r.Emails {
			if strings.HasSuffix(strings.ToLower(e.Value), "@"+strings.ToLower(domain)) {
				out = append(out, e.Value)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func composeMostRecentlySeen(ctx context.Context, svc *contacts.Service, limit int) ([]contacts.Record, error) {
	records, err := svc.LoadContacts(ctx, "")
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ModifiedAt.After(records[j].ModifiedAt)
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

var (
	_ = composeRecentCorrespondentsAtDomain
	_ = composeMostRecentlySeen
)

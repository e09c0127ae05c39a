package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spachava753/contactkit/contacts"
	"github.com/spachava753/contactkit/internal/i18n"
)

type errorOutput struct {
	Code    contacts.ErrorCode `json:"code"`
	Message string             `json:"message"`
}

type accessOutput struct {
	Granted bool         `json:"granted"`
	Error   *errorOutput `json:"error,omitempty"`
}

type valueOutput struct {
	Label string `json:"label,omitempty"`
	Value string `json:"value"`
}

type recordOutput struct {
	ID           string        `json:"id"`
	DisplayName  string        `json:"display_name"`
	GivenName    string        `json:"given_name,omitempty"`
	FamilyName   string        `json:"family_name,omitempty"`
	Organization string        `json:"organization,omitempty"`
	JobTitle     string        `json:"job_title,omitempty"`
	Phones       []valueOutput `json:"phones"`
	Emails       []valueOutput `json:"emails"`
	Thumbnail    []byte        `json:"thumbnail,omitempty"`
	ModifiedAt   *time.Time    `json:"modified_at,omitempty"`
}

type listOutput struct {
	Contacts []recordOutput `json:"contacts"`
	Error    *errorOutput   `json:"error,omitempty"`
}

func newErrorOutput(err error) *errorOutput {
	if err == nil {
		return nil
	}
	return &errorOutput{Code: contacts.CodeOf(err), Message: err.Error()}
}

func newAccessOutput(granted bool, err error) accessOutput {
	return accessOutput{Granted: granted, Error: newErrorOutput(err)}
}

func newListOutput(records []contacts.Record, err error) listOutput {
	out := listOutput{Contacts: make([]recordOutput, 0, len(records)), Error: newErrorOutput(err)}
	for _, r := range records {
		rec := recordOutput{
			ID:           r.ID,
			DisplayName:  r.DisplayName,
			GivenName:    r.GivenName,
			FamilyName:   r.FamilyName,
			Organization: r.Organization,
			JobTitle:     r.JobTitle,
			Phones:       valuesOutput(r.Phones),
			Emails:       valuesOutput(r.Emails),
			Thumbnail:    r.Thumbnail,
		}
		if !r.ModifiedAt.IsZero() {
			t := r.ModifiedAt
			rec.ModifiedAt = &t
		}
		out.Contacts = append(out.Contacts, rec)
	}
	return out
}

func valuesOutput(values []contacts.LabeledValue) []valueOutput {
	out := make([]valueOutput, 0, len(values))
	for _, v := range values {
		out = append(out, valueOutput{Label: v.Label, Value: v.Value})
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

const columnGap = "  "

// printRecords prints one line per record: name, first phone, first email.
// Columns are padded by display width, so wide CJK names stay aligned.
func printRecords(w io.Writer, tr *i18n.Translator, records []contacts.Record, search string) {
	if len(records) == 0 {
		if strings.TrimSpace(search) == "" {
			fmt.Fprintln(w, tr.T("list.empty"))
		} else {
			fmt.Fprintln(w, tr.T("list.no_match"))
		}
		return
	}

	rows := make([][3]string, 0, len(records))
	var widths [3]int
	for _, r := range records {
		row := [3]string{r.DisplayName, firstValue(tr, r.Phones), firstValue(tr, r.Emails)}
		for i, cell := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
		rows = append(rows, row)
	}
	for _, row := range rows {
		line := runewidth.FillRight(row[0], widths[0]) + columnGap +
			runewidth.FillRight(row[1], widths[1]) + columnGap + row[2]
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
	fmt.Fprintln(w, tr.T("list.count", map[string]any{"Count": len(records)}))
}

// firstValue renders the first value with its translated label, e.g.
// "+1 415 555 0101 (mobile)".
func firstValue(tr *i18n.Translator, values []contacts.LabeledValue) string {
	if len(values) == 0 {
		return ""
	}
	v := values[0]
	if label := tr.Label(v.Label); label != "" {
		return v.Value + " (" + label + ")"
	}
	return v.Value
}

// Package i18n loads the embedded message catalogs used for user-facing
// strings (display-name fallbacks and CLI output).
package i18n

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	goi18n "github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localeFS embed.FS

var (
	bundleOnce sync.Once
	bundle     *goi18n.Bundle
	bundleErr  error
)

func loadBundle() *goi18n.Bundle {
	bundleOnce.Do(func() {
		bundle = goi18n.NewBundle(language.English)
		bundle.RegisterUnmarshalFunc("yaml", yaml.Unmarshal)

		var errs []error
		files, err := fs.ReadDir(localeFS, "locales")
		if err != nil {
			errs = append(errs, err)
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			data, err := localeFS.ReadFile("locales/" + f.Name())
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if _, err := bundle.ParseMessageFileBytes(data, f.Name()); err != nil {
				errs = append(errs, fmt.Errorf("i18n: parsing %s: %w", f.Name(), err))
			}
		}
		bundleErr = errors.Join(errs...)
	})
	return bundle
}

// LoadError reports catalogs that could not be read or parsed. Messages
// from a broken catalog fall back to English.
func LoadError() error {
	loadBundle()
	return bundleErr
}

// Languages returns the languages that have a catalog.
func Languages() []language.Tag {
	return loadBundle().LanguageTags()
}

// Translator resolves message IDs for one preferred language.
type Translator struct {
	localizer *goi18n.Localizer
}

// New returns a Translator for the given language preferences. Unknown or
// empty preferences fall back to English.
func New(langs ...string) *Translator {
	return &Translator{localizer: goi18n.NewLocalizer(loadBundle(), langs...)}
}

// T translates messageID. data, when given, feeds the message template. A
// missing message yields the ID itself.
func (t *Translator) T(messageID string, data ...map[string]any) string {
	cfg := &goi18n.LocalizeConfig{MessageID: messageID}
	if len(data) > 0 {
		cfg.TemplateData = data[0]
	}
	msg, err := t.localizer.Localize(cfg)
	if err != nil {
		return messageID
	}
	return msg
}

// Label translates a store label such as "mobile" or "work". Labels
// without a translation, including custom ones, are returned unchanged.
func (t *Translator) Label(label string) string {
	key := strings.ToLower(strings.TrimSpace(label))
	if key == "" {
		return ""
	}
	id := "label." + key
	if msg := t.T(id); msg != id {
		return msg
	}
	return label
}

// Package drivers maps vendor identifiers to modem driver constructors. Only
// the identifiers listed here can be instantiated.
package drivers

import (
	"sort"
	"strings"

	"codeberg.org/mutker/docsismon/internal/errors"
	"codeberg.org/mutker/docsismon/internal/modem"
	"codeberg.org/mutker/docsismon/internal/modem/cga4233"
	"codeberg.org/mutker/docsismon/internal/modem/ch7465"
	"codeberg.org/mutker/docsismon/internal/modem/demo"
	"codeberg.org/mutker/docsismon/internal/modem/fritzbox"
	"codeberg.org/mutker/docsismon/internal/modem/sb6190"
	"codeberg.org/mutker/docsismon/internal/modem/tc4400"
	"codeberg.org/mutker/docsismon/internal/modem/tg3442"
)

// Constructor builds a driver for a device at baseURL.
type Constructor func(baseURL, username, password string) modem.Driver

type entry struct {
	build      Constructor
	defaultURL string
}

var registry = map[string]entry{
	fritzbox.Vendor: {
		build:      func(u, user, pw string) modem.Driver { return fritzbox.New(u, user, pw) },
		defaultURL: fritzbox.DefaultURL,
	},
	cga4233.Vendor: {
		build:      func(u, user, pw string) modem.Driver { return cga4233.New(u, user, pw) },
		defaultURL: cga4233.DefaultURL,
	},
	tg3442.Vendor: {
		build:      func(u, user, pw string) modem.Driver { return tg3442.New(u, user, pw) },
		defaultURL: tg3442.DefaultURL,
	},
	ch7465.Vendor: {
		build:      func(u, user, pw string) modem.Driver { return ch7465.New(u, user, pw) },
		defaultURL: ch7465.DefaultURL,
	},
	sb6190.Vendor: {
		build:      func(u, user, pw string) modem.Driver { return sb6190.New(u, user, pw) },
		defaultURL: sb6190.DefaultURL,
	},
	tc4400.Vendor: {
		build:      func(u, user, pw string) modem.Driver { return tc4400.New(u, user, pw) },
		defaultURL: tc4400.DefaultURL,
	},
	demo.Vendor: {
		build: func(u, user, pw string) modem.Driver { return demo.New(u, user, pw) },
	},
}

// New returns a driver for vendor. An empty baseURL selects the vendor's
// factory default address. Unknown vendors fail before any I/O.
func New(vendor, baseURL, username, password string) (modem.Driver, error) {
	e, ok := registry[strings.ToLower(strings.TrimSpace(vendor))]
	if !ok {
		return nil, errors.New().WithData(errors.ErrUnsupported, vendor)
	}
	if baseURL == "" {
		baseURL = e.defaultURL
	}
	return e.build(baseURL, username, password), nil
}

// Supported lists the accepted vendor identifiers in sorted order.
func Supported() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsSupported reports whether vendor is in the allow-list.
func IsSupported(vendor string) bool {
	_, ok := registry[strings.ToLower(strings.TrimSpace(vendor))]
	return ok
}

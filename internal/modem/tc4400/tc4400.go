// Package tc4400 reads DOCSIS data from Technicolor TC4400 modems. Pages are
// protected by HTTP Basic auth and channel tables are matched by column
// header keywords, falling back to the column positions of known firmware.
package tc4400

import (
	"context"
	"net/http"
	"strings"
	"time"

	"codeberg.org/mutker/docsismon/internal/modem"
	"github.com/carlmjohnson/requests"
)

const (
	Vendor     = "tc4400"
	DefaultURL = "http://192.168.100.1"

	statusPath = "/cmconnectionstatus.html"
	infoPath   = "/cmswinfo.html"
)

var (
	dsColumns = []modem.Column{
		{Name: "id", Keywords: []string{"channel id"}, Fallback: 1},
		{Name: "lock", Keywords: []string{"lock"}, Fallback: 2},
		{Name: "type", Keywords: []string{"channel type"}, Fallback: 3},
		{Name: "frequency", Keywords: []string{"frequency"}, Fallback: 5},
		{Name: "snr", Keywords: []string{"snr", "mer"}, Fallback: 7},
		{Name: "power", Keywords: []string{"power", "level"}, Fallback: 8},
		{Name: "modulation", Keywords: []string{"modulation"}, Fallback: 9},
		{Name: "uncorrectable", Keywords: []string{"uncorrectable"}, Fallback: 12},
		{Name: "corrected", Keywords: []string{"corrected"}, Fallback: 11},
	}
	usColumns = []modem.Column{
		{Name: "id", Keywords: []string{"channel id"}, Fallback: 1},
		{Name: "lock", Keywords: []string{"lock"}, Fallback: 2},
		{Name: "type", Keywords: []string{"channel type"}, Fallback: 3},
		{Name: "frequency", Keywords: []string{"frequency"}, Fallback: 5},
		{Name: "width", Keywords: []string{"width"}, Fallback: 6},
		{Name: "power", Keywords: []string{"power", "level"}, Fallback: 7},
		{Name: "modulation", Keywords: []string{"modulation"}, Fallback: 8},
	}
)

type Driver struct {
	t        *modem.Transport
	username string
	password string
}

func New(baseURL, username, password string) *Driver {
	if username == "" {
		username = "admin"
	}
	return &Driver{
		t:        modem.NewTransport(baseURL, modem.SlowTimeout),
		username: username,
		password: password,
	}
}

func (d *Driver) fetch(ctx context.Context, path string) (string, error) {
	var page string
	err := d.t.Request(path).
		BasicAuth(d.username, d.password).
		ToString(&page).
		Fetch(ctx)
	return page, err
}

// Login fetches the status page with the credentials.
func (d *Driver) Login(ctx context.Context) error {
	page, err := d.fetch(ctx, statusPath)
	if err != nil {
		if requests.HasStatusErr(err, http.StatusUnauthorized, http.StatusForbidden) {
			return modem.InvalidCredentials("basic auth rejected")
		}
		return modem.LoginFailure("fetch status page", err)
	}
	if !strings.Contains(strings.ToLower(page), "downstream") {
		return modem.ProtocolError("status page not recognized", nil)
	}
	return nil
}

func (d *Driver) ReadChannels(ctx context.Context) (*modem.Reading, error) {
	page, err := d.fetch(ctx, statusPath)
	if err != nil {
		return nil, modem.ReadFailure("status page", err)
	}
	tables, err := modem.ParseTables(strings.NewReader(page))
	if err != nil {
		return nil, modem.Malformed("status page", err)
	}

	dsTable, dsOK := modem.FindTable(tables, "downstream channel")
	usTable, usOK := modem.FindTable(tables, "upstream channel")
	if !dsOK && !usOK {
		return nil, modem.Malformed("channel tables missing from status page", nil)
	}

	r := &modem.Reading{Timestamp: time.Now()}

	if dsOK {
		col, fellBack := dsTable.Resolve(dsColumns)
		if fellBack {
			r.Warn("downstream columns matched by position")
		}
		for _, row := range dsTable.Rows {
			if !modem.IsLocked(modem.Cell(row, col["lock"])) {
				continue
			}
			ch := modem.DownstreamChannel{
				ChannelID:    int(modem.ParseInt(modem.Cell(row, col["id"]))),
				FrequencyMHz: modem.ParseFrequencyMHz(modem.Cell(row, col["frequency"])),
				Power:        modem.ParseFloat(modem.Cell(row, col["power"])),
				Corrected:    modem.ParseInt(modem.Cell(row, col["corrected"])),
				Uncorrected:  modem.ParseInt(modem.Cell(row, col["uncorrectable"])),
			}
			snr := modem.OptionalFloat(modem.Cell(row, col["snr"]))
			if isOFDM(modem.Cell(row, col["type"])) {
				ch.Modulation = "ofdm"
				ch.MER = snr
				ch.DOCSISVersion = modem.DOCSIS31
			} else {
				ch.Modulation = modulation(r, modem.Cell(row, col["modulation"]))
				ch.SNR = snr
				ch.DOCSISVersion = modem.DOCSIS30
			}
			r.Downstream = append(r.Downstream, ch)
		}
	}

	if usOK {
		col, fellBack := usTable.Resolve(usColumns)
		if fellBack {
			r.Warn("upstream columns matched by position")
		}
		for _, row := range usTable.Rows {
			if !modem.IsLocked(modem.Cell(row, col["lock"])) {
				continue
			}
			chType := modem.Cell(row, col["type"])
			ch := modem.UpstreamChannel{
				ChannelID:    int(modem.ParseInt(modem.Cell(row, col["id"]))),
				FrequencyMHz: modem.ParseFrequencyMHz(modem.Cell(row, col["frequency"])),
				Power:        modem.ParseFloat(modem.Cell(row, col["power"])),
				Multiplex:    modem.NormalizeModulation(chType),
			}
			if isOFDM(chType) {
				ch.Modulation = "ofdma"
				ch.DOCSISVersion = modem.DOCSIS31
			} else {
				ch.Modulation = modulation(r, modem.Cell(row, col["modulation"]))
				ch.DOCSISVersion = modem.DOCSIS30
				// SC-QAM width in Hz equals the symbol rate times 1.25
				if w, ok := modem.ParseFloatOK(modem.Cell(row, col["width"])); ok && w > 0 {
					ch.SymbolRate = int(w / 1.25 / 1000)
				}
			}
			r.Upstream = append(r.Upstream, ch)
		}
	}

	r.Finalize()
	return r, nil
}

func isOFDM(chType string) bool {
	return strings.Contains(strings.ToLower(chType), "ofdm")
}

func modulation(r *modem.Reading, raw string) string {
	m := modem.NormalizeModulation(raw)
	if m != "" && !modem.KnownModulation(m) {
		r.Warn("unknown modulation " + raw)
	}
	return m
}

func (d *Driver) ReadDeviceInfo(ctx context.Context) modem.DeviceInfo {
	info := modem.PlaceholderDevice("Technicolor")
	info.Model = "TC4400"

	page, err := d.fetch(ctx, infoPath)
	if err != nil {
		return info
	}
	tables, err := modem.ParseTables(strings.NewReader(page))
	if err != nil {
		return info
	}
	for _, t := range tables {
		for _, row := range t.Rows {
			if len(row) < 2 {
				continue
			}
			key, val := strings.ToLower(row[0]), row[1]
			switch {
			case strings.Contains(key, "hardware version"):
				info.Hardware = val
			case strings.Contains(key, "software version"):
				info.Firmware = val
			case strings.Contains(key, "mac address"):
				info.MAC = val
			case strings.Contains(key, "serial number"):
				info.Serial = val
			}
		}
	}
	return info
}

// ReadConnectionInfo returns nothing: the TC4400 is a standalone modem.
func (d *Driver) ReadConnectionInfo(context.Context) modem.ConnectionInfo {
	return modem.ConnectionInfo{}
}

func (d *Driver) Close() error {
	return nil
}

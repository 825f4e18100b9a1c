package modem

import (
	"io"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Table is an HTML table flattened to text cells.
type Table struct {
	Heading string
	Headers []string
	Rows    [][]string
}

// ParseTables returns every <table> in the document. The heading is taken
// from a caption, a single spanning first row, or the closest preceding
// h1-h6 element.
func ParseTables(r io.Reader) ([]Table, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}

	var tables []Table
	doc.Find("table").Each(func(_ int, sel *goquery.Selection) {
		tables = append(tables, parseTable(sel))
	})
	return tables, nil
}

func parseTable(sel *goquery.Selection) Table {
	var t Table
	t.Heading = cleanText(sel.ChildrenFiltered("caption").Text())

	rows := sel.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
		// skip rows of nested tables
		return tr.ParentsFiltered("table").First().IsSelection(sel)
	})

	rows.Each(func(i int, tr *goquery.Selection) {
		cells := tr.ChildrenFiltered("th,td")
		texts := make([]string, 0, cells.Length())
		cells.Each(func(_ int, c *goquery.Selection) {
			texts = append(texts, cleanText(c.Text()))
		})
		if len(texts) == 0 {
			return
		}

		switch {
		case t.Heading == "" && len(t.Headers) == 0 && len(t.Rows) == 0 && isSpanningRow(cells):
			t.Heading = texts[0]
		case len(t.Headers) == 0 && len(t.Rows) == 0 && isHeaderRow(cells):
			t.Headers = texts
		default:
			t.Rows = append(t.Rows, texts)
		}
	})

	if t.Heading == "" {
		t.Heading = precedingHeading(sel)
	}
	return t
}

func isSpanningRow(cells *goquery.Selection) bool {
	if cells.Length() != 1 {
		return false
	}
	span, _ := strconv.Atoi(cells.AttrOr("colspan", "1"))
	return span > 1
}

func isHeaderRow(cells *goquery.Selection) bool {
	if cells.Length() < 2 {
		return false
	}
	header := true
	cells.EachWithBreak(func(_ int, c *goquery.Selection) bool {
		if goquery.NodeName(c) == "th" {
			return true
		}
		// header cells rendered as <td><strong>..</strong></td>
		bold := c.ChildrenFiltered("strong,b")
		if bold.Length() == 0 || cleanText(bold.Text()) != cleanText(c.Text()) {
			header = false
			return false
		}
		return true
	})
	return header
}

func precedingHeading(sel *goquery.Selection) string {
	for cur := sel; cur.Length() > 0 && goquery.NodeName(cur) != "body"; cur = cur.Parent() {
		for p := cur.Prev(); p.Length() > 0; p = p.Prev() {
			if p.Is("h1,h2,h3,h4,h5,h6") {
				return cleanText(p.Text())
			}
		}
	}
	return ""
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// FindTable returns the first table whose heading contains the given text,
// compared case-insensitively.
func FindTable(tables []Table, heading string) (Table, bool) {
	want := strings.ToLower(heading)
	for _, t := range tables {
		if strings.Contains(strings.ToLower(t.Heading), want) {
			return t, true
		}
	}
	return Table{}, false
}

// Column describes a table column looked up by header keywords. Fallback is
// the position used when no header matches.
type Column struct {
	Name     string
	Keywords []string
	Fallback int
}

// Resolve maps each column name to an index. Columns are matched in order
// and a header is claimed by at most one column. The bool result is true if
// any column had to use its positional fallback.
func (t Table) Resolve(cols []Column) (map[string]int, bool) {
	idx := make(map[string]int, len(cols))
	claimed := make(map[int]bool, len(t.Headers))
	fellBack := false

	for _, c := range cols {
		found := -1
		for i, h := range t.Headers {
			if claimed[i] {
				continue
			}
			if containsAny(strings.ToLower(h), c.Keywords) {
				found = i
				break
			}
		}
		if found < 0 {
			found = c.Fallback
			fellBack = true
		} else {
			claimed[found] = true
		}
		idx[c.Name] = found
	}
	return idx, fellBack
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// Cell returns row[i] or "" when the row is too short.
func Cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

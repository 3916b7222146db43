package client

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var customerRowSelectors = []string{
	"#customer-table tbody tr",
	"#customer-table tr",
	".dataTable tbody tr",
	"table tbody tr",
}

var (
	numericCell = regexp.MustCompile(`^\d+$`)
	actionCell  = regexp.MustCompile(`(?i)^(edit|delete|actions?)$`)
)

// ParseCustomerNames extracts customer names from the rendered customer table HTML.
// The name is read from the second column, then the first, then the first
// cell that looks like a name.
func ParseCustomerNames(html string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse customer table: %w", err)
	}

	var rows *goquery.Selection
	for _, sel := range customerRowSelectors {
		rows = doc.Find(sel)
		if rows.Length() > 0 {
			break
		}
	}
	if rows == nil || rows.Length() == 0 {
		return nil, nil
	}

	var names []string
	rows.Each(func(_ int, row *goquery.Selection) {
		if name := rowName(row); name != "" {
			names = append(names, name)
		}
	})
	return names, nil
}

func rowName(row *goquery.Selection) string {
	cells := row.Find("td")
	text := cellText(cells.Eq(1))
	if text == "" {
		text = cellText(cells.Eq(0))
	}
	if text == "" {
		cells.EachWithBreak(func(_ int, cell *goquery.Selection) bool {
			t := cellText(cell)
			if len(t) > 2 && !numericCell.MatchString(t) && !actionCell.MatchString(t) {
				text = t
				return false
			}
			return true
		})
	}

	if !isCustomerName(text) {
		return ""
	}
	return text
}

func cellText(s *goquery.Selection) string {
	return strings.TrimSpace(s.Text())
}

func isCustomerName(name string) bool {
	if len(name) <= 1 {
		return false
	}
	for _, placeholder := range []string{"No data available", "No matching records", "Loading..."} {
		if strings.Contains(name, placeholder) {
			return false
		}
	}
	return !numericCell.MatchString(name) && !actionCell.MatchString(name)
}

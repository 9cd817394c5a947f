package extract

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/romangod6/listing-harvester/internal/models"
)

var (
	priceRe      = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
	trailingNum  = regexp.MustCompile(`(\d+)(?:\.html?)?/?$`)
	pageParamKey = []string{"page", "p", "pg"}
)

// parsePrice reads the first amount in s. Text without digits ("Call",
// "Inquire") yields 0.
func parsePrice(s string) float64 {
	m := priceRe.FindString(s)
	if m == "" {
		return 0
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// parseItem reads an item from the data attributes of an item element:
// data-item-type, data-manufacturer, data-model, data-caliber,
// data-capacity, data-condition and data-quantity.
func parseItem(s *goquery.Selection) models.Item {
	attr := func(name string) string {
		v, _ := s.Attr("data-" + name)
		return strings.TrimSpace(v)
	}
	atoi := func(name string) int {
		n, err := strconv.Atoi(attr(name))
		if err != nil || n < 0 {
			return 0
		}
		return n
	}

	return models.Item{
		ItemType:     models.MigrateItemType(models.ItemType(attr("item-type"))),
		Manufacturer: attr("manufacturer"),
		Model:        attr("model"),
		Caliber:      attr("caliber"),
		Capacity:     atoi("capacity"),
		Condition:    attr("condition"),
		Quantity:     atoi("quantity"),
		Description:  cleanText(s.Text()),
	}
}

// pageNumber reads a page number from a pagination link's text or, failing
// that, from its href.
func pageNumber(s *goquery.Selection) int {
	if n, err := strconv.Atoi(strings.TrimSpace(s.Text())); err == nil {
		return n
	}

	href, ok := s.Attr("href")
	if !ok {
		return 0
	}
	u, err := url.Parse(href)
	if err != nil {
		return 0
	}
	for _, key := range pageParamKey {
		if n, err := strconv.Atoi(u.Query().Get(key)); err == nil {
			return n
		}
	}
	if m := trailingNum.FindStringSubmatch(u.Path); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	return 0
}

// cleanText flattens an HTML fragment to its visible text, dropping scripts,
// styles and comments and collapsing whitespace.
func cleanText(content string) string {
	nodes, err := html.ParseFragment(strings.NewReader(content), &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
	})
	if err != nil {
		return strings.Join(strings.Fields(content), " ")
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.CommentNode:
			return
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" || n.Data == "noscript" {
				return
			}
		case html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}

	return strings.TrimSpace(strings.Join(strings.Fields(b.String()), " "))
}

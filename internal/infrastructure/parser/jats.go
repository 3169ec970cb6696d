package parser

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/textclean"
)

var jatsBlocks = map[string]struct{}{
	"p": {}, "title": {}, "sec": {}, "label": {}, "caption": {}, "list-item": {},
	"td": {}, "th": {}, "tr": {}, "disp-quote": {}, "boxed-text": {}, "fig": {},
}

// ParseJATS reads a JATS article: body text becomes the content and the abstract
// the description. Supplementary material is dropped and tables become prose.
func ParseJATS(data []byte) (domain.Document, error) {
	root, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return domain.Document{}, fmt.Errorf("%w: parse jats: %v", domain.ErrSchemaMismatch, err)
	}
	meta := xmlquery.FindOne(root, "//article-meta")
	if meta == nil {
		return domain.Document{}, fmt.Errorf("%w: jats without article-meta", domain.ErrSchemaMismatch)
	}

	for _, n := range xmlquery.Find(root, "//supplementary-material | //*[local-name()='supplementary-information']") {
		xmlquery.RemoveFromTree(n)
	}

	doc := domain.Document{
		Title:       textclean.Line(innerText(xmlquery.FindOne(meta, "title-group/article-title"))),
		Lang:        "en",
		Description: textclean.Line(jatsText(jatsAbstract(meta))),
		Details: domain.Details{
			domain.DetailDOI:            textclean.Line(innerText(xmlquery.FindOne(meta, "article-id[@pub-id-type='doi']"))),
			domain.DetailISSN:           jatsISSN(root),
			domain.DetailLicenseURL:     jatsLicense(meta),
			domain.DetailContentFromPDF: false,
		},
	}
	if article := xmlquery.FindOne(root, "//article"); article != nil {
		if lang := attrLocal(article, "lang"); lang != "" {
			doc.Lang = strings.ToLower(lang)
		}
		if kind := attrLocal(article, "article-type"); kind != "" {
			doc.Details[domain.DetailType] = kind
		}
	}
	if body := xmlquery.FindOne(root, "//body"); body != nil {
		doc.FullContent = textclean.Line(jatsText(body))
	}
	doc.Details[domain.DetailAuthors] = authorsDetail(jatsAuthors(root, meta))
	if ts, ok := jatsPublished(meta); ok {
		doc.Details[domain.DetailPublicationDate] = ts
	}

	var kwds []string
	for _, k := range xmlquery.Find(meta, "kwd-group/kwd") {
		if v := textclean.Line(k.InnerText()); v != "" {
			kwds = append(kwds, v)
		}
	}
	doc.Details[domain.DetailKeywords] = stringsDetail(kwds)
	return doc, nil
}

func jatsAbstract(meta *xmlquery.Node) *xmlquery.Node {
	if n := xmlquery.FindOne(meta, "abstract[not(@abstract-type)]"); n != nil {
		return n
	}
	return xmlquery.FindOne(meta, "abstract")
}

func jatsISSN(root *xmlquery.Node) string {
	for _, expr := range []string{
		"//journal-meta/issn[@pub-type='epub']",
		"//journal-meta/issn[@publication-format='electronic']",
		"//journal-meta/issn",
	} {
		if n := xmlquery.FindOne(root, expr); n != nil {
			return strings.TrimSpace(n.InnerText())
		}
	}
	return ""
}

func jatsLicense(meta *xmlquery.Node) string {
	if n := xmlquery.FindOne(meta, "permissions/license"); n != nil {
		if href := attrLocal(n, "href"); href != "" {
			return strings.TrimSpace(href)
		}
	}
	if n := xmlquery.FindOne(meta, "permissions//*[local-name()='license_ref']"); n != nil {
		return strings.TrimSpace(n.InnerText())
	}
	return ""
}

func jatsAuthors(root, meta *xmlquery.Node) []domain.Author {
	var authors []domain.Author
	for _, c := range xmlquery.Find(meta, "contrib-group/contrib[@contrib-type='author']") {
		name := strings.TrimSpace(innerText(xmlquery.FindOne(c, "name/given-names")) + " " + innerText(xmlquery.FindOne(c, "name/surname")))
		if name == "" {
			name = textclean.Line(innerText(xmlquery.FindOne(c, "collab")))
		}
		if name == "" {
			continue
		}
		author := domain.Author{Name: textclean.Line(name)}
		for _, x := range xmlquery.Find(c, "xref[@ref-type='aff']") {
			for _, rid := range strings.Fields(x.SelectAttr("rid")) {
				aff := xmlquery.FindOne(root, "//aff[@id='"+rid+"']")
				if aff == nil {
					continue
				}
				if text := affiliationText(aff); text != "" {
					author.Institutions = append(author.Institutions, text)
				}
			}
		}
		authors = append(authors, author)
	}
	return authors
}

func affiliationText(aff *xmlquery.Node) string {
	var b strings.Builder
	for c := aff.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && c.Data == "label" {
			continue
		}
		b.WriteString(c.InnerText())
		b.WriteByte(' ')
	}
	return textclean.Line(b.String())
}

// jatsPublished composes the electronic publication date as a unix timestamp.
func jatsPublished(meta *xmlquery.Node) (int64, bool) {
	var date *xmlquery.Node
	for _, expr := range []string{"pub-date[@pub-type='epub']", "pub-date[@date-type='pub']", "pub-date"} {
		if date = xmlquery.FindOne(meta, expr); date != nil {
			break
		}
	}
	if date == nil {
		return 0, false
	}
	part := func(name string, fallback int) int {
		v, err := strconv.Atoi(strings.TrimSpace(innerText(xmlquery.FindOne(date, name))))
		if err != nil || v == 0 {
			return fallback
		}
		return v
	}
	year := part("year", 0)
	if year == 0 {
		return 0, false
	}
	return time.Date(year, time.Month(part("month", 1)), part("day", 1), 0, 0, 0, 0, time.UTC).Unix(), true
}

// jatsText flattens n into text, separating block elements and rendering tables as prose.
func jatsText(n *xmlquery.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	var walk func(*xmlquery.Node)
	walk = func(n *xmlquery.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			switch c.Type {
			case xmlquery.TextNode, xmlquery.CharDataNode:
				b.WriteString(c.Data)
			case xmlquery.ElementNode:
				if c.Data == "table-wrap" {
					b.WriteString(" " + TableProse(c) + " ")
					continue
				}
				if _, ok := jatsBlocks[c.Data]; ok {
					b.WriteByte(' ')
					walk(c)
					b.WriteByte(' ')
					continue
				}
				walk(c)
			}
		}
	}
	walk(n)
	return b.String()
}

// TableProse renders a table as one sentence per body row made of "header: cell" pairs.
func TableProse(wrap *xmlquery.Node) string {
	var sentences []string
	if caption := textclean.Line(jatsText(xmlquery.FindOne(wrap, "caption"))); caption != "" {
		sentences = append(sentences, strings.TrimSuffix(caption, ".")+".")
	}

	rows := xmlquery.Find(wrap, ".//tr")
	if len(rows) == 0 {
		return strings.Join(sentences, " ")
	}

	headerRows := xmlquery.Find(wrap, ".//thead/tr")
	var header []string
	if len(headerRows) > 0 {
		header = rowCells(headerRows[len(headerRows)-1])
		rows = xmlquery.Find(wrap, ".//tbody/tr")
	} else {
		header = rowCells(rows[0])
		rows = rows[1:]
	}

	for _, row := range rows {
		var pairs []string
		for i, cell := range rowCells(row) {
			if cell == "" {
				continue
			}
			if i < len(header) && header[i] != "" {
				pairs = append(pairs, header[i]+": "+cell)
				continue
			}
			pairs = append(pairs, cell)
		}
		if len(pairs) > 0 {
			sentences = append(sentences, strings.Join(pairs, ", ")+".")
		}
	}
	return strings.Join(sentences, " ")
}

func rowCells(row *xmlquery.Node) []string {
	var cells []string
	for c := row.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && (c.Data == "td" || c.Data == "th") {
			cells = append(cells, textclean.Line(jatsText(c)))
		}
	}
	return cells
}

func innerText(n *xmlquery.Node) string {
	if n == nil {
		return ""
	}
	return n.InnerText()
}

// attrLocal returns the attribute whose local name matches, whatever its prefix.
func attrLocal(n *xmlquery.Node, local string) string {
	for _, a := range n.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

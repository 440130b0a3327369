package datasource

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// Formatter renders warehouse metadata for the models.
type Formatter interface {
	FormatDataset(d Dataset) string
	FormatTable(t Table, sample *Rows) string
}

// NewFormatter returns the formatter for "markdown" or "xml".
func NewFormatter(format string) (Formatter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "markdown", "":
		return MarkdownFormatter{}, nil
	case "xml":
		return XMLFormatter{}, nil
	default:
		return nil, fmt.Errorf("metadata format must be one of 'markdown', 'xml', got %q", format)
	}
}

type MarkdownFormatter struct{}

func (MarkdownFormatter) FormatDataset(d Dataset) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n### Description:\n%s\n\n### Tables:\n", d.Name, d.Description)
	lines := make([]string, len(d.Tables))
	for i, t := range d.Tables {
		lines[i] = fmt.Sprintf("- %s: %s", t.FullName(), t.Description)
	}
	b.WriteString(strings.Join(lines, "\n\n"))
	return b.String()
}

func (MarkdownFormatter) FormatTable(t Table, sample *Rows) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", t.FullName())
	fmt.Fprintf(&b, "### Description:\n%s\n\n", t.Description)

	fields := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		fields[i] = c.Name + " " + c.Type
	}
	fmt.Fprintf(&b, "### Schema:\nCREATE TABLE %s (\n\t%s\n)\n\n", t.Name, strings.Join(fields, "\n\t"))

	b.WriteString("### Column Details:\n|column name|column type|column description|\n|---|---|---|")
	for _, c := range t.Columns {
		fmt.Fprintf(&b, "\n|%s|%s|%s|", c.Name, c.Type, c.Description)
	}
	b.WriteString("\n\n### Sample rows:\n")

	if sample == nil || len(sample.Columns) == 0 {
		return b.String()
	}
	fmt.Fprintf(&b, "|%s|\n%s|", strings.Join(sample.Columns, "|"), strings.Repeat("|---", len(sample.Columns)))
	for _, row := range sample.Values {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = cell(v)
		}
		fmt.Fprintf(&b, "\n|%s|", strings.Join(cells, "|"))
	}
	return b.String()
}

func cell(v any) string {
	if v == nil {
		return "None"
	}
	return fmt.Sprint(v)
}

type XMLFormatter struct{}

type xmlDataset struct {
	XMLName     xml.Name      `xml:"dataset"`
	Name        string        `xml:"name"`
	Description string        `xml:"description"`
	Tables      []xmlTableRef `xml:"tables>table"`
}

type xmlTableRef struct {
	Name        string `xml:"name"`
	Description string `xml:"description"`
}

type xmlTable struct {
	XMLName     xml.Name    `xml:"table"`
	Name        string      `xml:"name"`
	Description string      `xml:"description"`
	Columns     []xmlColumn `xml:"schema>column"`
	Rows        []xmlRow    `xml:"sample_rows>row"`
}

type xmlColumn struct {
	Name        string `xml:"name"`
	Type        string `xml:"type"`
	Description string `xml:"description"`
}

type xmlRow struct {
	Fields []xmlField
}

type xmlField struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

func (XMLFormatter) FormatDataset(d Dataset) string {
	doc := xmlDataset{Name: d.Name, Description: d.Description}
	for _, t := range d.Tables {
		doc.Tables = append(doc.Tables, xmlTableRef{Name: t.FullName(), Description: t.Description})
	}
	return marshalXML(doc)
}

func (XMLFormatter) FormatTable(t Table, sample *Rows) string {
	doc := xmlTable{Name: t.FullName(), Description: t.Description}
	for _, c := range t.Columns {
		doc.Columns = append(doc.Columns, xmlColumn(c))
	}
	if sample != nil {
		for _, row := range sample.Values {
			var r xmlRow
			for i, col := range sample.Columns {
				r.Fields = append(r.Fields, xmlField{XMLName: xml.Name{Local: col}, Value: cell(row[i])})
			}
			doc.Rows = append(doc.Rows, r)
		}
	}
	return marshalXML(doc)
}

func marshalXML(v any) string {
	out, err := xml.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Sprintf("<error>%s</error>", err)
	}
	return string(out)
}

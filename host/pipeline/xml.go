package pipeline

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// parseSimpleXML decodes data into a Doc tree, collapsing text-only
// elements into leaves the same way Doc.ToMap expects.
func parseSimpleXML(data []byte) (*Doc, error) {
	dec := xml.NewDecoder(strings.NewReader(string(data)))
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return decodeElement(dec, start)
		}
	}
}

func decodeElement(dec *xml.Decoder, start xml.StartElement) (*Doc, error) {
	doc := NewDoc(start.Name.Local)
	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := decodeElement(dec, t)
			if err != nil {
				return nil, err
			}
			doc.Children = append(doc.Children, child)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if len(doc.Children) == 0 {
				doc.Text = strings.TrimSpace(text.String())
			}
			return doc, nil
		}
	}
}

// phpSerialize renders v in PHP's serialize() wire format, for clients
// expecting dream.out.format=php (a legacy format some MindTouch
// consumers still request).
func phpSerialize(v interface{}) string {
	switch t := v.(type) {
	case string:
		return fmt.Sprintf("s:%d:%q;", len(t), t)
	case []interface{}:
		var b strings.Builder
		fmt.Fprintf(&b, "a:%d:{", len(t))
		for i, e := range t {
			fmt.Fprintf(&b, "i:%d;%s", i, phpSerialize(e))
		}
		b.WriteByte('}')
		return b.String()
	case map[string]interface{}:
		var b strings.Builder
		fmt.Fprintf(&b, "a:%d:{", len(t))
		for k, e := range t {
			b.WriteString(phpSerialize(k))
			b.WriteString(phpSerialize(e))
		}
		b.WriteByte('}')
		return b.String()
	default:
		return strconv.Quote(fmt.Sprint(t))
	}
}

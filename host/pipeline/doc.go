package pipeline

// Doc is the generic document tree the default prologue parses an
// incoming body into, and the default epilogue selects/formats out of
// (spec §4.2's dream.in.format / dream.out.format). It stands in for the
// wire-format-specific structured types a real MindTouch document would
// use; every format here converges on the same tree so dream.out.select
// and dream.out.format need only understand one shape.
type Doc struct {
	Name     string
	Text     string
	Children []*Doc
}

// NewDoc returns an empty named element.
func NewDoc(name string) *Doc { return &Doc{Name: name} }

// Child returns doc's first child named name, or nil.
func (d *Doc) Child(name string) *Doc {
	for _, c := range d.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Append adds a text leaf child named name.
func (d *Doc) Append(name, text string) {
	d.Children = append(d.Children, &Doc{Name: name, Text: text})
}

// Select walks a slash-separated path of child names from d and returns
// the subtree found there, or nil. This is the practical subset of
// dream.out.select's XPath the default epilogue supports: plain
// descendant-name paths, no predicates or attribute axes.
func (d *Doc) Select(path string) *Doc {
	if path == "" || path == "/" {
		return d
	}
	cur := d
	for _, name := range splitPath(path) {
		if name == "" {
			continue
		}
		cur = cur.Child(name)
		if cur == nil {
			return nil
		}
	}
	return cur
}

func splitPath(path string) []string {
	var out []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			out = append(out, path[start:i])
			start = i + 1
		}
	}
	out = append(out, path[start:])
	return out
}

// ToMap converts the tree to a nested map/slice shape suitable for JSON
// encoding: a leaf becomes its Text, a branch becomes a map of its
// children (repeated child names collapse into a slice).
func (d *Doc) ToMap() interface{} {
	if len(d.Children) == 0 {
		return d.Text
	}
	out := make(map[string]interface{}, len(d.Children))
	for _, c := range d.Children {
		v := c.ToMap()
		if existing, ok := out[c.Name]; ok {
			switch e := existing.(type) {
			case []interface{}:
				out[c.Name] = append(e, v)
			default:
				out[c.Name] = []interface{}{e, v}
			}
		} else {
			out[c.Name] = v
		}
	}
	return out
}

// XML renders the tree as its own root element, e.g. <doc><a>1</a></doc>.
func (d *Doc) XML() string {
	var b []byte
	b = d.appendXML(b)
	return string(b)
}

func (d *Doc) appendXML(b []byte) []byte {
	b = append(b, '<')
	b = append(b, d.Name...)
	b = append(b, '>')
	if len(d.Children) > 0 {
		for _, c := range d.Children {
			b = c.appendXML(b)
		}
	} else {
		b = append(b, escapeXMLText(d.Text)...)
	}
	b = append(b, '<', '/')
	b = append(b, d.Name...)
	b = append(b, '>')
	return b
}

func escapeXMLText(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '&':
			out = append(out, "&amp;"...)
		case '<':
			out = append(out, "&lt;"...)
		case '>':
			out = append(out, "&gt;"...)
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}

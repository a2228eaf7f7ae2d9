package depot

import (
	"bufio"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// specOrder is the field order p4 uses when printing client and change forms.
var specOrder = []string{
	"Change", "Client", "Update", "Access", "Owner", "Host", "Date", "User",
	"Status", "Type", "Description", "Root", "AltRoots", "Options",
	"SubmitOptions", "LineEnd", "Jobs", "Files", "View",
}

// multiLine fields are printed as an indented block even with one line.
var multiLine = map[string]bool{
	"Description": true,
	"AltRoots":    true,
	"Jobs":        true,
	"Files":       true,
	"View":        true,
}

// FormatSpec renders a tagged form record (from `client -o`, `change -o`)
// as the text form accepted by `client -i` and `change -i`. Indexed fields
// such as View0, View1 are folded into one block.
func FormatSpec(r Record) string {
	fields := map[string][]string{}
	for k, v := range r {
		if strings.HasPrefix(k, "_") || k == "extraTag" {
			continue
		}
		base := strings.TrimRightFunc(k, unicode.IsDigit)
		if base != k && base != "" {
			if _, done := fields[base]; !done {
				fields[base] = r.List(base)
			}
			continue
		}
		fields[k] = strings.Split(v, "\n")
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	rank := func(k string) int {
		for i, o := range specOrder {
			if o == k {
				return i
			}
		}
		return len(specOrder)
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, rj := rank(keys[i]), rank(keys[j])
		if ri != rj {
			return ri < rj
		}
		return keys[i] < keys[j]
	})

	var b strings.Builder
	for _, k := range keys {
		lines := fields[k]
		if len(lines) == 1 && !multiLine[k] {
			fmt.Fprintf(&b, "%s:\t%s\n\n", k, lines[0])
			continue
		}
		fmt.Fprintf(&b, "%s:\n", k)
		for _, l := range lines {
			fmt.Fprintf(&b, "\t%s\n", l)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// ParseSpec reads a text form back into a record. Multi-line list fields
// become indexed keys (View0, View1...); Description keeps its newlines.
func ParseSpec(form string) Record {
	r := Record{}
	var key string
	var block []string

	closeBlock := func() {
		if key == "" {
			return
		}
		if key == "Description" {
			r[key] = strings.Join(block, "\n")
		} else {
			for i, l := range block {
				r[key+strconv.Itoa(i)] = l
			}
		}
		key, block = "", nil
	}

	sc := bufio.NewScanner(strings.NewReader(form))
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "\t") || strings.HasPrefix(line, " ") {
			if key != "" {
				block = append(block, strings.TrimSpace(line))
			}
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		closeBlock()
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" {
			key = k
			continue
		}
		r[k] = v
	}
	closeBlock()
	return r
}

package depot

import (
	"bufio"
	"io"
	"strings"
)

const tagPrefix = "... "

// taggedReader turns `-ztag` output into records as lines arrive.
type taggedReader struct {
	cur     Record
	lastKey string
	emit    func(Record)
}

func newTaggedReader(emit func(Record)) *taggedReader {
	return &taggedReader{emit: emit}
}

func (t *taggedReader) line(line string) {
	line = strings.TrimRight(line, "\r")

	if strings.HasPrefix(line, tagPrefix) {
		if t.cur == nil {
			t.cur = Record{}
		}
		key, val, _ := strings.Cut(line[len(tagPrefix):], " ")
		// A repeated key inside one block starts a new record; p4 does not
		// always separate records of the same shape with a blank line.
		if _, dup := t.cur[key]; dup {
			t.flush()
			t.cur = Record{}
		}
		t.cur[key] = val
		t.lastKey = key
		return
	}

	if line == "" {
		t.flush()
		return
	}

	// Continuation of a multi-line value, or free-standing text.
	if t.cur != nil && t.lastKey != "" {
		t.cur[t.lastKey] += "\n" + line
		return
	}
	t.emit(MessageRecord(line))
}

func (t *taggedReader) flush() {
	if len(t.cur) > 0 {
		t.emit(t.cur)
	}
	t.cur = nil
	t.lastKey = ""
}

// readTagged reads r to EOF, calling emit for each complete record.
func readTagged(r io.Reader, emit func(Record)) error {
	t := newTaggedReader(emit)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		t.line(sc.Text())
	}
	t.flush()
	return sc.Err()
}

// ParseTagged parses complete `-ztag` output.
func ParseTagged(out string) []Record {
	var recs []Record
	_ = readTagged(strings.NewReader(out), func(r Record) {
		recs = append(recs, r)
	})
	return recs
}

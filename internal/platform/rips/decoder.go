package rips

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Decode parses one fixed-width line into a Record. Blank slices become
// absent fields, strings lose their right padding and numbers their zero
// padding. A trailing line ending is tolerated.
func Decode(schema *FileTypeSchema, line string) (Record, error) {
	line = strings.TrimRight(line, "\r\n")
	r := []rune(line)
	if len(r) != schema.RecordLength() {
		return nil, fmt.Errorf("%w: %s line has %d characters, expected %d", ErrMalformedLine, schema.Code, len(r), schema.RecordLength())
	}

	rec := make(Record, len(schema.Fields))
	pos := 0
	for _, f := range schema.Fields {
		slice := string(r[pos : pos+f.Length])
		pos += f.Length
		if strings.TrimSpace(slice) == "" {
			continue
		}
		switch f.Kind {
		case KindNumber:
			n, err := canonicalNumber(slice)
			if err != nil {
				return nil, fmt.Errorf("%w: %s.%s: %v", ErrMalformedLine, schema.Code, f.Name, err)
			}
			rec[f.Name] = json.Number(n)
		case KindDate:
			rec[f.Name] = strings.TrimSpace(slice)
		default:
			rec[f.Name] = strings.TrimRight(slice, " ")
		}
	}
	return rec, nil
}

// DecodeFile decodes every non-empty line of a fixed-width file.
func DecodeFile(schema *FileTypeSchema, content []byte) ([]Record, error) {
	var out []Record
	sc := bufio.NewScanner(bytes.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		n++
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, err := Decode(schema, line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", schema.Code, err)
	}
	return out, nil
}

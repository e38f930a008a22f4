package rips

import (
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// OutputKind selects the serialization of encoded records.
type OutputKind string

const (
	OutputFixedWidth OutputKind = "fixed"
	OutputDelimited  OutputKind = "delimited"
	OutputMarkup     OutputKind = "markup"
)

// ParseOutputKind accepts the kind names and a few common aliases.
func ParseOutputKind(s string) (OutputKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fixed", "fixed-width", "txt":
		return OutputFixedWidth, nil
	case "delimited", "csv":
		return OutputDelimited, nil
	case "markup", "xml":
		return OutputMarkup, nil
	}
	return "", fmt.Errorf("unknown output kind %q", s)
}

// Extension is the file name extension used for the kind.
func (k OutputKind) Extension() string {
	switch k {
	case OutputDelimited:
		return ".csv"
	case OutputMarkup:
		return ".xml"
	}
	return ".txt"
}

// LineEnding terminates every record line in fixed-width and delimited files.
const LineEnding = "\r\n"

// EncoderConfig tunes the derived output kinds. The zero value encodes
// delimited output with commas and keeps diacritics.
type EncoderConfig struct {
	Separator rune
	FoldASCII bool
}

// Encoder serializes records. It holds no mutable state and may be shared
// between goroutines.
type Encoder struct {
	cfg EncoderConfig
}

// NewEncoder validates cfg and returns an Encoder.
func NewEncoder(cfg EncoderConfig) (*Encoder, error) {
	if cfg.Separator == 0 {
		cfg.Separator = ','
	}
	if cfg.Separator == '\r' || cfg.Separator == '\n' || cfg.Separator == '"' || cfg.Separator == unicode.ReplacementChar {
		return nil, fmt.Errorf("invalid separator %q", cfg.Separator)
	}
	return &Encoder{cfg: cfg}, nil
}

// Segment is one encoded record. Warnings carries non-fatal encoding
// notes such as string truncation.
type Segment struct {
	FileType string     `json:"file_type"`
	Kind     OutputKind `json:"kind"`
	Text     string     `json:"text"`
	Warnings []Issue    `json:"warnings,omitempty"`
}

// Encode validates rec against schema and encodes it when no blocking issue
// is found.
func (e *Encoder) Encode(schema *FileTypeSchema, rec Record, kind OutputKind) (Segment, error) {
	return e.EncodeValidated(schema, rec, kind, ValidateRecord(schema, rec))
}

// EncodeValidated encodes rec using a result computed by the caller, which
// may include rule issues. A result with blocking issues is rejected.
func (e *Encoder) EncodeValidated(schema *FileTypeSchema, rec Record, kind OutputKind, res ValidationResult) (Segment, error) {
	if !res.IsValid() {
		errs, _ := res.Count()
		return Segment{}, &EncodingError{
			FileType: schema.Code,
			Reason:   fmt.Sprintf("%d blocking issue(s)", errs),
			Err:      ErrRecordRejected,
		}
	}

	seg := Segment{FileType: schema.Code, Kind: kind}
	values := make([]string, len(schema.Fields))
	for i, f := range schema.Fields {
		text, warn, err := e.fieldText(schema.Code, f, rec[f.Name])
		if err != nil {
			return Segment{}, err
		}
		if warn != nil {
			seg.Warnings = append(seg.Warnings, *warn)
		}
		values[i] = text
	}

	switch kind {
	case OutputFixedWidth:
		seg.Text = fixedLine(schema, values)
	case OutputDelimited:
		line, err := e.delimitedLine(values)
		if err != nil {
			return Segment{}, &EncodingError{FileType: schema.Code, Reason: "delimited output", Err: err}
		}
		seg.Text = line
	case OutputMarkup:
		seg.Text = markupElement(schema, values)
	default:
		return Segment{}, &EncodingError{FileType: schema.Code, Reason: fmt.Sprintf("unknown output kind %q", kind)}
	}
	return seg, nil
}

// fieldText renders one field's value at or below its declared length.
// Absent values yield "".
func (e *Encoder) fieldText(code string, f FieldSpec, v any) (string, *Issue, error) {
	if isEmpty(v) {
		return "", nil, nil
	}
	if IsPlaceholder(v) {
		return "", nil, &EncodingError{FileType: code, Field: f.Name, Reason: "pending manual completion", Err: ErrRecordRejected}
	}
	text, err := FormatValue(f, v)
	if err != nil {
		return "", nil, &EncodingError{FileType: code, Field: f.Name, Reason: "invalid value", Err: err}
	}

	switch f.Kind {
	case KindNumber:
		if valueLength(text) > f.Length {
			return "", nil, &EncodingError{
				FileType: code,
				Field:    f.Name,
				Reason:   fmt.Sprintf("%s needs %d digits, field holds %d", text, valueLength(text), f.Length),
				Err:      ErrNumericOverflow,
			}
		}
		return text, nil, nil
	case KindDate:
		if valueLength(text) != f.Length {
			return "", nil, &EncodingError{FileType: code, Field: f.Name, Reason: fmt.Sprintf("date %s is not %d characters", text, f.Length), Err: ErrNumericOverflow}
		}
		return text, nil, nil
	}

	if e.cfg.FoldASCII {
		text = foldASCII(text)
	}
	text = strings.Map(lineSafe, text)
	if n := valueLength(text); n > f.Length {
		r := []rune(text)
		return string(r[:f.Length]), &Issue{
			Field:    f.Name,
			Code:     IssueTruncated,
			Message:  fmt.Sprintf("%s truncated from %d to %d characters", f.Name, n, f.Length),
			Severity: SeverityWarning,
		}, nil
	}
	return text, nil, nil
}

// lineSafe keeps every record on one physical line.
func lineSafe(r rune) rune {
	if r == '\r' || r == '\n' {
		return ' '
	}
	return r
}

// foldASCII strips combining marks so "Ñuñoa" becomes "Nunoa". The chain is
// built per call because transformers are stateful.
func foldASCII(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func fixedLine(schema *FileTypeSchema, values []string) string {
	var sb strings.Builder
	sb.Grow(schema.RecordLength())
	for i, f := range schema.Fields {
		v := values[i]
		pad := f.Length - valueLength(v)
		switch {
		case v == "":
			sb.WriteString(strings.Repeat(" ", f.Length))
		case f.Kind == KindNumber:
			sb.WriteString(strings.Repeat("0", pad))
			sb.WriteString(v)
		default:
			sb.WriteString(v)
			sb.WriteString(strings.Repeat(" ", pad))
		}
	}
	return sb.String()
}

func (e *Encoder) delimitedLine(values []string) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = e.cfg.Separator
	if err := w.Write(values); err != nil {
		return "", err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func markupElement(schema *FileTypeSchema, values []string) string {
	var buf bytes.Buffer
	buf.WriteString("<" + schema.Code + ">")
	for i, f := range schema.Fields {
		buf.WriteString("<" + f.Name + ">")
		_ = xml.EscapeText(&buf, []byte(values[i]))
		buf.WriteString("</" + f.Name + ">")
	}
	buf.WriteString("</" + schema.Code + ">")
	return buf.String()
}

// EncodedFile is the assembled output of one file type.
type EncodedFile struct {
	Code     string     `json:"code"`
	Name     string     `json:"name"`
	Kind     OutputKind `json:"kind"`
	Records  int        `json:"records"`
	Content  []byte     `json:"-"`
	Warnings []Issue    `json:"warnings,omitempty"`
}

// AssembleFile concatenates segments, already in input order, into one
// file. Fixed-width and delimited files end every line with LineEnding;
// markup files wrap the records in a root element naming the version.
func AssembleFile(version, code string, kind OutputKind, segments []Segment) EncodedFile {
	var buf bytes.Buffer
	if kind == OutputMarkup {
		buf.WriteString(xml.Header)
		fmt.Fprintf(&buf, "<rips version=%q file=%q>\n", version, code)
	}
	var warnings []Issue
	for _, s := range segments {
		if kind == OutputMarkup {
			buf.WriteString("  ")
			buf.WriteString(s.Text)
			buf.WriteString("\n")
		} else {
			buf.WriteString(s.Text)
			buf.WriteString(LineEnding)
		}
		warnings = append(warnings, s.Warnings...)
	}
	if kind == OutputMarkup {
		buf.WriteString("</rips>\n")
	}
	return EncodedFile{
		Code:     code,
		Name:     code + kind.Extension(),
		Kind:     kind,
		Records:  len(segments),
		Content:  buf.Bytes(),
		Warnings: warnings,
	}
}

package stage

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const (
	FormatJSONL   = "jsonl.gz"
	FormatParquet = "parquet"
)

// Codec serializes a batch into one artifact.
type Codec interface {
	Format() string
	ContentType() string
	Encode(b *Batch) ([]byte, error)
	Decode(data []byte) (*Batch, error)
}

// CodecFor returns the codec registered for format.
func CodecFor(format string) (Codec, error) {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case FormatJSONL, "jsonl", "":
		return JSONLCodec{}, nil
	case FormatParquet:
		return ParquetCodec{}, nil
	}
	return nil, fmt.Errorf("unsupported stage format %q", format)
}

// codecForKey picks the codec from an artifact key suffix.
func codecForKey(key string) (Codec, bool) {
	switch {
	case strings.HasSuffix(key, "."+FormatJSONL):
		return JSONLCodec{}, true
	case strings.HasSuffix(key, "."+FormatParquet):
		return ParquetCodec{}, true
	}
	return nil, false
}

const (
	recordKindSchema = "schema"
	recordKindRow    = "row"
)

// Envelope is one line of a JSONL artifact. The first line carries the
// schema, every following line one row.
type Envelope struct {
	RecordKind string         `json:"recordKind"`
	Entity     string         `json:"entity"`
	Columns    []string       `json:"columns,omitempty"`
	Watermark  string         `json:"watermark,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// JSONLCodec writes gzip-compressed JSON lines of envelopes.
type JSONLCodec struct{}

func (JSONLCodec) Format() string      { return FormatJSONL }
func (JSONLCodec) ContentType() string { return "application/gzip" }

func (JSONLCodec) Encode(b *Batch) ([]byte, error) {
	envelopes := make([]Envelope, 0, len(b.Rows)+1)
	envelopes = append(envelopes, Envelope{
		RecordKind: recordKindSchema,
		Entity:     b.Entity,
		Columns:    b.ColumnNames(),
		Watermark:  b.Watermark,
	})
	for _, row := range b.Rows {
		payload := make(map[string]any, len(row))
		for k, v := range row {
			payload[k] = encodableValue(v)
		}
		envelopes = append(envelopes, Envelope{RecordKind: recordKindRow, Entity: b.Entity, Payload: payload})
	}

	var buf bytes.Buffer
	if err := encodeEnvelopes(&buf, envelopes, true); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (JSONLCodec) Decode(data []byte) (*Batch, error) {
	envelopes, err := decodeEnvelopes(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	b := &Batch{}
	for _, env := range envelopes {
		if b.Entity == "" {
			b.Entity = env.Entity
		}
		switch env.RecordKind {
		case recordKindSchema:
			b.Columns = env.Columns
			b.Watermark = env.Watermark
		default:
			row := env.Payload
			if row == nil {
				row = map[string]any{}
			}
			b.Rows = append(b.Rows, normalizeValue(row).(map[string]any))
		}
	}
	return b, nil
}

func encodeEnvelopes(w io.Writer, records []Envelope, compress bool) error {
	var writer io.Writer = w
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(w)
		writer = gz
	}
	enc := json.NewEncoder(writer)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			if gz != nil {
				_ = gz.Close()
			}
			return err
		}
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return err
		}
	}
	return nil
}

func decodeEnvelopes(r io.Reader) ([]Envelope, error) {
	br := bufio.NewReader(r)
	var reader io.Reader = br
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	}
	dec := json.NewDecoder(reader)
	dec.UseNumber()
	var records []Envelope
	for dec.More() {
		var rec Envelope
		if err := dec.Decode(&rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

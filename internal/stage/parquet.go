package stage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/common"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
)

const (
	parquetColumnsKey   = "ucl.columns"
	parquetWatermarkKey = "ucl.watermark"
	parquetEntityKey    = "ucl.entity"
	parquetParallelism  = 4
)

// ParquetCodec writes SNAPPY-compressed Parquet files. Column types are
// inferred from the row values; anything that is not a boolean or a number
// is stored as UTF8 text.
type ParquetCodec struct{}

func (ParquetCodec) Format() string      { return FormatParquet }
func (ParquetCodec) ContentType() string { return "application/vnd.apache.parquet" }

func (ParquetCodec) Encode(b *Batch) ([]byte, error) {
	columns := b.ColumnNames()
	if len(columns) == 0 {
		return nil, fmt.Errorf("parquet: batch %s has no columns", b.Entity)
	}
	types := make(map[string]string, len(columns))
	for _, c := range columns {
		types[c] = inferParquetType(b.Rows, c)
	}

	buf := &bytes.Buffer{}
	pfw := writerfile.NewWriterFile(buf)
	pw, err := writer.NewJSONWriter(buildParquetSchema(columns, types), pfw, parquetParallelism)
	if err != nil {
		return nil, fmt.Errorf("parquet: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	joined := strings.Join(columns, ",")
	meta := []*parquet.KeyValue{
		{Key: parquetColumnsKey, Value: &joined},
		{Key: parquetEntityKey, Value: stringPtr(b.Entity)},
	}
	if b.Watermark != "" {
		meta = append(meta, &parquet.KeyValue{Key: parquetWatermarkKey, Value: stringPtr(b.Watermark)})
	}
	pw.Footer.KeyValueMetadata = append(pw.Footer.KeyValueMetadata, meta...)

	for _, row := range b.Rows {
		line, err := json.Marshal(projectParquetRow(row, columns, types))
		if err != nil {
			_ = pw.WriteStop()
			return nil, fmt.Errorf("parquet: %w", err)
		}
		if err := pw.Write(string(line)); err != nil {
			_ = pw.WriteStop()
			return nil, fmt.Errorf("parquet: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("parquet: %w", err)
	}
	_ = pfw.Close()
	return buf.Bytes(), nil
}

func (ParquetCodec) Decode(data []byte) (*Batch, error) {
	pf, err := buffer.NewBufferFile(data)
	if err != nil {
		return nil, fmt.Errorf("parquet: %w", err)
	}
	pr, err := reader.NewParquetReader(pf, nil, parquetParallelism)
	if err != nil {
		return nil, fmt.Errorf("parquet: %w", err)
	}
	defer pr.ReadStop()

	b := &Batch{}
	for _, kv := range pr.Footer.KeyValueMetadata {
		if kv == nil || kv.Value == nil {
			continue
		}
		switch kv.Key {
		case parquetColumnsKey:
			if *kv.Value != "" {
				b.Columns = strings.Split(*kv.Value, ",")
			}
		case parquetWatermarkKey:
			b.Watermark = *kv.Value
		case parquetEntityKey:
			b.Entity = *kv.Value
		}
	}

	num := int(pr.GetNumRows())
	if num == 0 {
		return b, nil
	}
	rows, err := pr.ReadByNumber(num)
	if err != nil {
		return nil, fmt.Errorf("parquet: %w", err)
	}

	// Rows come back as generated structs whose fields carry the internal
	// (capitalized) names. A JSON round trip turns them into maps, then the
	// schema maps each field back to its column name.
	names := externalNames(pr.SchemaHandler.Infos)
	raw, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("parquet: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded []map[string]any
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("parquet: %w", err)
	}
	for _, fields := range decoded {
		row := make(map[string]any, len(fields))
		for in, v := range fields {
			if ex, ok := names[in]; ok {
				row[ex] = v
			} else {
				row[in] = v
			}
		}
		b.Rows = append(b.Rows, normalizeValue(row).(map[string]any))
	}
	return b, nil
}

// externalNames maps generated field names to column names. Index 0 is the
// schema root.
func externalNames(infos []*common.Tag) map[string]string {
	out := make(map[string]string, len(infos))
	for i, info := range infos {
		if i == 0 || info == nil {
			continue
		}
		out[info.InName] = info.ExName
	}
	return out
}

func buildParquetSchema(columns []string, types map[string]string) string {
	fields := make([]map[string]string, 0, len(columns))
	for _, c := range columns {
		tag := fmt.Sprintf("name=%s, type=%s, repetitiontype=OPTIONAL", c, types[c])
		if types[c] == "BYTE_ARRAY" {
			tag = fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL", c)
		}
		fields = append(fields, map[string]string{"Tag": tag})
	}
	out := map[string]any{
		"Tag":    "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": fields,
	}
	data, _ := json.Marshal(out)
	return string(data)
}

// inferParquetType picks the narrowest physical type that holds every
// non-null value of column.
func inferParquetType(rows []map[string]any, column string) string {
	kind := ""
	for _, row := range rows {
		v, ok := row[column]
		if !ok || v == nil {
			continue
		}
		var k string
		switch t := v.(type) {
		case bool:
			k = "BOOLEAN"
		case int, int8, int16, int32, int64, uint8, uint16, uint32:
			k = "INT64"
		case float32:
			k = "DOUBLE"
		case float64:
			if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
				k = "INT64"
			} else {
				k = "DOUBLE"
			}
		case json.Number:
			if _, err := t.Int64(); err == nil {
				k = "INT64"
			} else {
				k = "DOUBLE"
			}
		default:
			return "BYTE_ARRAY"
		}
		switch {
		case kind == "":
			kind = k
		case kind == k:
		case (kind == "INT64" && k == "DOUBLE") || (kind == "DOUBLE" && k == "INT64"):
			kind = "DOUBLE"
		default:
			return "BYTE_ARRAY"
		}
	}
	if kind == "" {
		return "BYTE_ARRAY"
	}
	return kind
}

func projectParquetRow(row map[string]any, columns []string, types map[string]string) map[string]any {
	out := make(map[string]any, len(columns))
	for _, c := range columns {
		v, ok := row[c]
		if !ok || v == nil {
			out[c] = nil
			continue
		}
		if types[c] != "BYTE_ARRAY" {
			out[c] = v
			continue
		}
		switch t := encodableValue(v).(type) {
		case string:
			out[c] = t
		default:
			data, err := json.Marshal(t)
			if err != nil {
				out[c] = fmt.Sprint(t)
			} else {
				out[c] = string(data)
			}
		}
	}
	return out
}

func stringPtr(s string) *string { return &s }

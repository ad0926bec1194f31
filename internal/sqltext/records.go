package sqltext

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedResult is returned when a row does not line up with the headers.
var ErrMalformedResult = errors.New("malformed tabular result")

// Tabular is a raw query result: ordered column names and string rows.
type Tabular struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// Field is one column/value pair of a Record.
type Field struct {
	Name  string
	Value string
}

// Record is a single result row whose fields keep the column order.
type Record []Field

// Get returns the value for the named column.
func (r Record) Get(name string) (string, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// MarshalJSON encodes the record as an object with keys in column order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := encodeString(f.Name)
		if err != nil {
			return nil, err
		}
		val, err := encodeString(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Records is an ordered list of result rows.
type Records []Record

// ToRecords pairs every row of t with its headers.
func ToRecords(t Tabular) (Records, error) {
	records := make(Records, 0, len(t.Rows))
	for i, row := range t.Rows {
		if len(row) != len(t.Headers) {
			return nil, fmt.Errorf("%w: row %d has %d values, expected %d", ErrMalformedResult, i, len(row), len(t.Headers))
		}
		record := make(Record, len(row))
		for j, value := range row {
			record[j] = Field{Name: t.Headers[j], Value: value}
		}
		records = append(records, record)
	}
	return records, nil
}

// Marshal encodes v as compact JSON without HTML escaping, so that column
// aliases and values read the same way they came out of the database.
func Marshal(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

func encodeString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

package db

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"sqlagent-backend/internal/sqltext"
)

var (
	// ErrUnsupportedDatabase is returned for a database type without a driver.
	ErrUnsupportedDatabase = errors.New("unsupported database type")
	// ErrNoRows is returned by QueryRow when the query yields nothing.
	ErrNoRows = errors.New("no rows found")
)

// DatabaseType represents supported database types
type DatabaseType string

const (
	DatabaseTypePostgreSQL DatabaseType = "postgresql"
	DatabaseTypeMySQL      DatabaseType = "mysql"
	DatabaseTypeSQLite     DatabaseType = "sqlite"
	DatabaseTypeClickHouse DatabaseType = "clickhouse"
	DatabaseTypeDuckDB     DatabaseType = "duckdb"
)

// ParseDatabaseType maps a configured type name, including common aliases,
// to a DatabaseType.
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgresql", "postgres", "pg", "pgx":
		return DatabaseTypePostgreSQL, nil
	case "mysql", "mariadb":
		return DatabaseTypeMySQL, nil
	case "sqlite", "sqlite3":
		return DatabaseTypeSQLite, nil
	case "clickhouse", "ch":
		return DatabaseTypeClickHouse, nil
	case "duckdb", "duck":
		return DatabaseTypeDuckDB, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDatabase, s)
	}
}

// DisplayName is the dialect name used when prompting for SQL.
func (t DatabaseType) DisplayName() string {
	switch t {
	case DatabaseTypePostgreSQL:
		return "PostgreSQL"
	case DatabaseTypeMySQL:
		return "MySQL"
	case DatabaseTypeSQLite:
		return "SQLite"
	case DatabaseTypeClickHouse:
		return "ClickHouse"
	case DatabaseTypeDuckDB:
		return "DuckDB"
	default:
		return string(t)
	}
}

// ValueType represents the type of a database value
type ValueType string

const (
	ValueTypeNull      ValueType = "null"
	ValueTypeInteger   ValueType = "integer"
	ValueTypeFloat     ValueType = "float"
	ValueTypeText      ValueType = "text"
	ValueTypeBoolean   ValueType = "boolean"
	ValueTypeBinary    ValueType = "binary"
	ValueTypeTimestamp ValueType = "timestamp"
)

// Value represents a unified database value
type Value struct {
	Type  ValueType
	Data  any
	Valid bool
}

// NewNullValue creates a new null value
func NewNullValue() Value {
	return Value{Type: ValueTypeNull}
}

// NewIntegerValue creates a new integer value
func NewIntegerValue(v int64) Value {
	return Value{Type: ValueTypeInteger, Data: v, Valid: true}
}

// NewFloatValue creates a new float value
func NewFloatValue(v float64) Value {
	return Value{Type: ValueTypeFloat, Data: v, Valid: true}
}

// NewTextValue creates a new text value
func NewTextValue(v string) Value {
	return Value{Type: ValueTypeText, Data: v, Valid: true}
}

// NewBooleanValue creates a new boolean value
func NewBooleanValue(v bool) Value {
	return Value{Type: ValueTypeBoolean, Data: v, Valid: true}
}

// NewBinaryValue creates a new binary value
func NewBinaryValue(v []byte) Value {
	return Value{Type: ValueTypeBinary, Data: v, Valid: true}
}

// NewTimestampValue creates a new timestamp value
func NewTimestampValue(t time.Time) Value {
	return Value{Type: ValueTypeTimestamp, Data: t, Valid: true}
}

// AsInt64 returns value as int64
func (v Value) AsInt64() (int64, bool) {
	if v.Type == ValueTypeInteger && v.Valid {
		return v.Data.(int64), true
	}
	return 0, false
}

// AsString returns value as string
func (v Value) AsString() (string, bool) {
	if v.Type == ValueTypeText && v.Valid {
		return v.Data.(string), true
	}
	return "", false
}

// AsBool returns value as bool
func (v Value) AsBool() (bool, bool) {
	if v.Type == ValueTypeBoolean && v.Valid {
		return v.Data.(bool), true
	}
	if v.Type == ValueTypeInteger && v.Valid {
		return v.Data.(int64) != 0, true
	}
	return false, false
}

// IsNull returns true if value is null
func (v Value) IsNull() bool {
	return v.Type == ValueTypeNull || !v.Valid
}

// String renders the value the way it is shown to the model and to users.
// NULL renders as the empty string.
func (v Value) String() string {
	if v.IsNull() {
		return ""
	}
	switch d := v.Data.(type) {
	case string:
		return d
	case int64:
		return strconv.FormatInt(d, 10)
	case float64:
		return strconv.FormatFloat(d, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(d)
	case time.Time:
		return d.Format(time.DateTime)
	case []byte:
		if utf8.Valid(d) {
			return string(d)
		}
		return "0x" + hex.EncodeToString(d)
	default:
		return fmt.Sprintf("%v", d)
	}
}

// ResultSet represents a query result set
type ResultSet struct {
	Rows     []Row
	Columns  []Column
	RowCount int
}

// Row represents a database row
type Row struct {
	Values []Value
}

// Column represents a database column
type Column struct {
	Name string
	Type ValueType
}

// Tabular flattens the result set into headers and string rows.
func (rs *ResultSet) Tabular() sqltext.Tabular {
	t := sqltext.Tabular{
		Headers: make([]string, len(rs.Columns)),
		Rows:    make([][]string, 0, len(rs.Rows)),
	}
	for i, col := range rs.Columns {
		t.Headers[i] = col.Name
	}
	for _, row := range rs.Rows {
		values := make([]string, len(row.Values))
		for i, v := range row.Values {
			values[i] = v.String()
		}
		t.Rows = append(t.Rows, values)
	}
	return t
}

// ConvertSQLRowToResultSet converts sql.Rows to ResultSet
func ConvertSQLRowToResultSet(rows *sql.Rows) (*ResultSet, error) {
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	result := &ResultSet{
		Columns: make([]Column, len(columnTypes)),
		Rows:    []Row{},
	}
	for i, ct := range columnTypes {
		result.Columns[i] = Column{
			Name: ct.Name(),
			Type: mapSQLTypeToValueType(ct.DatabaseTypeName()),
		}
	}

	for rows.Next() {
		values := make([]any, len(columnTypes))
		valuePtrs := make([]any, len(columnTypes))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := Row{Values: make([]Value, len(columnTypes))}
		for i, val := range values {
			row.Values[i] = convertSQLValueToValue(val, result.Columns[i].Type)
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result.RowCount = len(result.Rows)
	return result, nil
}

// mapSQLTypeToValueType maps SQL type names to ValueType
func mapSQLTypeToValueType(sqlType string) ValueType {
	t := strings.ToLower(sqlType)
	switch {
	case strings.Contains(t, "timestamp"), strings.Contains(t, "datetime"), t == "date":
		return ValueTypeTimestamp
	case strings.Contains(t, "bool"):
		return ValueTypeBoolean
	case strings.Contains(t, "int"), strings.Contains(t, "serial"):
		return ValueTypeInteger
	case strings.Contains(t, "float"), strings.Contains(t, "double"),
		strings.Contains(t, "decimal"), strings.Contains(t, "numeric"), strings.Contains(t, "real"):
		return ValueTypeFloat
	case strings.Contains(t, "blob"), strings.Contains(t, "binary"), t == "bytea":
		return ValueTypeBinary
	default:
		return ValueTypeText
	}
}

// convertSQLValueToValue converts SQL value to Value
func convertSQLValueToValue(val any, expectedType ValueType) Value {
	if val == nil {
		return NewNullValue()
	}

	switch v := val.(type) {
	case int64:
		if expectedType == ValueTypeBoolean {
			return NewBooleanValue(v != 0)
		}
		return NewIntegerValue(v)
	case int32:
		return NewIntegerValue(int64(v))
	case float64:
		return NewFloatValue(v)
	case float32:
		return NewFloatValue(float64(v))
	case string:
		return NewTextValue(v)
	case bool:
		return NewBooleanValue(v)
	case []byte:
		// MySQL hands back text and decimals as raw bytes.
		if expectedType != ValueTypeBinary {
			return NewTextValue(string(v))
		}
		return NewBinaryValue(v)
	case time.Time:
		return NewTimestampValue(v)
	default:
		return NewTextValue(fmt.Sprintf("%v", v))
	}
}

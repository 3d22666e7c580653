package queue

import "encoding/json"

////////////////////////////////////////////////////////////////////////////////
// TYPES
//
// Schema is the capability interface a user's ORM adapter implements so
// the core never reflects on user types (design note §9: "Runtime-loaded
// user modules → capability interfaces").

// Schema describes the table an Ecto Poll Queue is layered onto.
type Schema interface {
	// SchemaName is the database schema/namespace the table lives in, or
	// "" for the connection's default search path.
	SchemaName() string

	// Table is the unqualified table name.
	Table() string

	// PrimaryKey returns the ordered primary-key column names.
	PrimaryKey() []string

	// NewPKScanTarget returns a pointer suitable as a Scan destination
	// for the named primary-key column, so UUIDs, integers and other
	// custom types round-trip through the ORM's own type adapter rather
	// than a generic any.
	NewPKScanTarget(field string) any

	// TaskFn produces a Job's task from a reserved row's primary key.
	// The Source uses the returned Task as-is; SimpleSchema returns
	// DefaultTask when no custom hook is attached.
	TaskFn(pk PrimaryKey, queue string) Task
}

// PrivateCodec marshals the opaque failure-private blob persisted in a
// row's private column. The target language picks its own serialization
// (design note §9); the only requirement is an exact byte round-trip.
type PrivateCodec interface {
	Dump(v any) ([]byte, error)
	Load(data []byte, v any) error
}

////////////////////////////////////////////////////////////////////////////////
// JSON CODEC
//
// JSONCodec is the default PrivateCodec, used when the caller does not
// supply one of their own.

type JSONCodec struct{}

var _ PrivateCodec = JSONCodec{}

func (JSONCodec) Dump(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func (JSONCodec) Load(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

////////////////////////////////////////////////////////////////////////////////
// SIMPLE SCHEMA
//
// SimpleSchema is a ready-to-use Schema for the common case of a single
// integer or text primary key and no custom task_fn.

type SimpleSchema struct {
	schemaName string
	table      string
	pk         string
	newScan    func() any
	taskFn     func(PrimaryKey, string) Task
}

var _ Schema = (*SimpleSchema)(nil)

// NewSimpleSchema returns a Schema for a table with a single primary-key
// column. newScan should return a fresh pointer of the column's Go type,
// e.g. func() any { return new(int64) }; it defaults to *any.
func NewSimpleSchema(schemaName, table, pk string, newScan func() any) *SimpleSchema {
	if newScan == nil {
		newScan = func() any { var v any; return &v }
	}
	return &SimpleSchema{schemaName: schemaName, table: table, pk: pk, newScan: newScan}
}

// WithTaskFn attaches a custom task_fn hook and returns the schema.
func (s *SimpleSchema) WithTaskFn(fn func(PrimaryKey, string) Task) *SimpleSchema {
	s.taskFn = fn
	return s
}

func (s *SimpleSchema) SchemaName() string      { return s.schemaName }
func (s *SimpleSchema) Table() string           { return s.table }
func (s *SimpleSchema) PrimaryKey() []string    { return []string{s.pk} }
func (s *SimpleSchema) NewPKScanTarget(string) any {
	return s.newScan()
}

func (s *SimpleSchema) TaskFn(pk PrimaryKey, queueName string) Task {
	if s.taskFn != nil {
		return s.taskFn(pk, queueName)
	}
	return DefaultTask(pk)
}

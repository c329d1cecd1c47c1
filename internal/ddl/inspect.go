package ddl

import (
	"errors"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// ErrInvalidSQL indicates migration SQL the PostgreSQL parser rejects.
var ErrInvalidSQL = errors.New("invalid SQL")

// Kind classifies a schema object touched by a statement.
type Kind string

// Object kinds reported by Inspect.
const (
	KindTable Kind = "table"
	KindIndex Kind = "index"
)

// Object names a schema object created or dropped by a migration.
type Object struct {
	Kind Kind
	Name string // schema-qualified when the statement qualified it
}

func (o Object) String() string {
	return string(o.Kind) + " " + o.Name
}

// Summary describes what a block of migration SQL does to the schema.
type Summary struct {
	Statements int
	Creates    []Object
	Drops      []Object
	// NonTransactional is set when a statement cannot run inside a
	// transaction block, e.g. CREATE INDEX CONCURRENTLY or VACUUM.
	NonTransactional bool
}

// Inspect parses sql and reports the tables and indexes it creates or
// drops, and whether it must run outside a transaction.
func Inspect(sql string) (*Summary, error) {
	result, err := Parse(sql)
	if err != nil {
		return nil, err
	}

	s := &Summary{Statements: len(result.Stmts)}

	for _, raw := range result.Stmts {
		switch node := raw.Stmt.GetNode().(type) {
		case *pg_query.Node_CreateStmt:
			s.Creates = append(s.Creates, Object{Kind: KindTable, Name: tableName(node.CreateStmt.GetRelation())})
		case *pg_query.Node_IndexStmt:
			idx := node.IndexStmt
			if idx.GetConcurrent() {
				s.NonTransactional = true
			}

			if idx.GetIdxname() != "" {
				s.Creates = append(s.Creates, Object{Kind: KindIndex, Name: qualify(idx.GetRelation().GetSchemaname(), idx.GetIdxname())})
			}
		case *pg_query.Node_DropStmt:
			drop := node.DropStmt
			if drop.GetConcurrent() {
				s.NonTransactional = true
			}

			kind, ok := dropKind(drop.GetRemoveType())
			if !ok {
				continue
			}

			for _, name := range dropNames(drop) {
				s.Drops = append(s.Drops, Object{Kind: kind, Name: name})
			}
		case *pg_query.Node_VacuumStmt:
			s.NonTransactional = true
		}
	}

	return s, nil
}

func dropKind(t pg_query.ObjectType) (Kind, bool) {
	switch t { //nolint:exhaustive // only tables and indexes are tracked
	case pg_query.ObjectType_OBJECT_TABLE:
		return KindTable, true
	case pg_query.ObjectType_OBJECT_INDEX:
		return KindIndex, true
	default:
		return "", false
	}
}

// tableName extracts a qualified table name from a RangeVar.
func tableName(rv *pg_query.RangeVar) string {
	if rv == nil {
		return "<unknown>"
	}

	return qualify(rv.GetSchemaname(), rv.GetRelname())
}

func qualify(schema, name string) string {
	if schema != "" {
		return schema + "." + name
	}

	return name
}

// dropNames returns the dotted names listed in a DROP statement.
func dropNames(drop *pg_query.DropStmt) []string {
	var names []string

	for _, obj := range drop.GetObjects() {
		list, ok := obj.GetNode().(*pg_query.Node_List)
		if !ok {
			continue
		}

		var parts []string

		for _, item := range list.List.GetItems() {
			if s, ok := item.GetNode().(*pg_query.Node_String_); ok {
				parts = append(parts, s.String_.GetSval())
			}
		}

		if len(parts) > 0 {
			names = append(names, strings.Join(parts, "."))
		}
	}

	return names
}

package sql

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// inspect traverses a parse tree in depth-first order, calling fn for every
// *pg_query.Node. Children of a node are visited only when fn returns true.
//
// Node kinds with gateway semantics are matched with a typed switch by the
// callers; every other kind is descended through its protobuf descriptor, so
// an expression form the callers do not list still has its subqueries and
// column references visited.
func inspect(msg proto.Message, fn func(*pg_query.Node) bool) {
	if msg == nil {
		return
	}
	if node, ok := msg.(*pg_query.Node); ok {
		if node == nil || node.Node == nil {
			return
		}
		if !fn(node) {
			return
		}
	}

	m := msg.ProtoReflect()
	if !m.IsValid() {
		return
	}
	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		if fd.Kind() != protoreflect.MessageKind || fd.IsMap() {
			return true
		}
		if fd.IsList() {
			list := v.List()
			for i := 0; i < list.Len(); i++ {
				inspect(list.Get(i).Message().Interface(), fn)
			}
			return true
		}
		inspect(v.Message().Interface(), fn)
		return true
	})
}

// collectCTENames returns the lower-cased names bound by every WITH clause in the tree.
func collectCTENames(root *pg_query.Node) map[string]bool {
	names := make(map[string]bool)
	inspect(root, func(n *pg_query.Node) bool {
		if cte, ok := n.Node.(*pg_query.Node_CommonTableExpr); ok {
			names[lower(cte.CommonTableExpr.Ctename)] = true
		}
		return true
	})
	return names
}

// isSelectShaped reports whether sel is a plain SELECT, a UNION [ALL] of
// SELECT-shaped statements, or a WITH wrapper whose bindings and body are
// SELECT-shaped.
func isSelectShaped(sel *pg_query.SelectStmt) bool {
	if sel == nil {
		return false
	}
	if sel.WithClause != nil {
		for _, cte := range sel.WithClause.Ctes {
			expr := cte.GetCommonTableExpr()
			if expr == nil || !isSelectShaped(expr.Ctequery.GetSelectStmt()) {
				return false
			}
		}
	}

	switch sel.Op {
	case pg_query.SetOperation_SETOP_NONE:
		if sel.IntoClause != nil || len(sel.LockingClause) > 0 || len(sel.ValuesLists) > 0 {
			return false
		}
		return true
	case pg_query.SetOperation_SETOP_UNION:
		return isSelectShaped(sel.Larg) && isSelectShaped(sel.Rarg)
	default:
		return false
	}
}

// qualifiedName joins the non-empty name parts with dots.
func qualifiedName(parts ...string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += "."
		}
		out += p
	}
	return out
}

// funcName returns the dotted name of a function call.
func funcName(call *pg_query.FuncCall) string {
	if call == nil {
		return ""
	}
	parts := make([]string, 0, len(call.Funcname))
	for _, n := range call.Funcname {
		if s := n.GetString_(); s != nil {
			parts = append(parts, s.Sval)
		}
	}
	return qualifiedName(parts...)
}

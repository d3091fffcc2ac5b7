package sandbox

import (
	"fmt"

	"go.starlark.net/syntax"
)

// allowedModules are the only modules a script may load. Everything
// else is rejected before execution starts.
var allowedModules = map[string]bool{
	"math.star": true,
	"json.star": true,
	"time.star": true,
}

// ValidationError reports a construct rejected by the static pass,
// naming the offending construct and where it appears.
type ValidationError struct {
	Construct string
	Line      int32
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("line %d: %s is not allowed", e.Line, e.Construct)
}

// Validate parses code and rejects disallowed constructs before any of
// it runs: loads outside the module allow-list, open without readable
// paths, and write_file without an output directory. The two file
// capabilities are independent: a script may produce artifacts even
// when no files were attached. A rejected script is never executed,
// even partially.
func Validate(code string, canRead, canWrite bool) error {
	f, err := fileOptions.Parse("script.star", code, 0)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	var violation *ValidationError
	syntax.Walk(f, func(n syntax.Node) bool {
		if violation != nil {
			return false
		}
		switch node := n.(type) {
		case *syntax.LoadStmt:
			module, _ := node.Module.Value.(string)
			if !allowedModules[module] {
				start, _ := node.Span()
				violation = &ValidationError{
					Construct: fmt.Sprintf("load(%q)", module),
					Line:      start.Line,
				}
				return false
			}
		case *syntax.Ident:
			if (node.Name == "open" && !canRead) || (node.Name == "write_file" && !canWrite) {
				start, _ := node.Span()
				violation = &ValidationError{
					Construct: node.Name,
					Line:      start.Line,
				}
				return false
			}
		}
		return true
	})
	if violation != nil {
		return violation
	}
	return nil
}

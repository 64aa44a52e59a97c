package astinfer

import (
	"go/ast"
	"go/token"
	"log/slog"
	"strings"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"golang.org/x/tools/go/ast/astutil"

	"github.com/routelens/routelens/internal/astcache"
	"github.com/routelens/routelens/internal/domain"
)

// ErrorAnalyzer infers the JSON envelope the service's central error handler
// writes and which HTTP statuses its branches map error types to. The
// analysis is heuristic over a finite set of AST shapes; anything it cannot
// match degrades to "unknown" rather than failing.
type ErrorAnalyzer struct {
	logger *slog.Logger
	cache  *astcache.Cache
	file   string
	fn     string

	once   sync.Once
	result *domain.HandlerAnalysisResult
}

// NewErrorAnalyzer creates an analyzer for a "file.go:FuncName" reference.
// An empty or malformed reference yields a nil Result.
func NewErrorAnalyzer(logger *slog.Logger, cache *astcache.Cache, ref string) *ErrorAnalyzer {
	a := &ErrorAnalyzer{logger: logger.With("component", "error_analyzer"), cache: cache}
	if ref == "" {
		return a
	}
	file, fn, ok := strings.Cut(ref, ":")
	if !ok || file == "" || fn == "" {
		a.logger.Debug("Ignoring malformed error handler reference.", slog.String("ref", ref))
		return a
	}
	a.file, a.fn = file, fn
	return a
}

// Result returns the memoized analysis, nil when no handler is configured or
// nothing could be inferred.
func (a *ErrorAnalyzer) Result() *domain.HandlerAnalysisResult {
	a.once.Do(a.analyze)
	return a.result
}

func (a *ErrorAnalyzer) analyze() {
	if a.file == "" {
		return
	}
	src, ok := a.cache.File(a.file)
	if !ok {
		a.logger.Debug("Error handler file is unavailable.", slog.String("file", a.file))
		return
	}
	decl := src.FuncDecl("", a.fn)
	if decl == nil || decl.Body == nil {
		a.logger.Debug("Error handler function not found.",
			slog.String("file", a.file), slog.String("func", a.fn))
		return
	}
	a.result = analyzeHandler(decl)
	if a.result == nil {
		a.logger.Debug("Error handler analysis found no envelope.",
			slog.String("func", a.fn))
		return
	}
	a.logger.Debug("Analyzed error handler.",
		slog.String("func", a.fn),
		slog.Int("envelope_fields", len(a.result.Envelope)),
		slog.Int("mapped_errors", len(a.result.StatusByError)))
}

// analyzeHandler walks the handler body once. Literals in straight-line code
// form the envelope; literals and keyed assignments inside branches are
// conditional; error-typed branches that resolve a status populate the
// status map.
func analyzeHandler(decl *ast.FuncDecl) *domain.HandlerAnalysisResult {
	res := &domain.HandlerAnalysisResult{
		Envelope:      map[string]*openapi3.SchemaRef{},
		Conditional:   map[string]*openapi3.SchemaRef{},
		StatusByError: map[string]int{},
	}

	for _, stmt := range decl.Body.List {
		switch s := stmt.(type) {
		case *ast.TypeSwitchStmt:
			analyzeTypeSwitch(s, res)
		case *ast.IfStmt:
			analyzeIfChain(s, res)
		default:
			collectEnvelope(stmt, res.Envelope)
		}
	}

	for name := range res.Conditional {
		if _, dup := res.Envelope[name]; dup {
			delete(res.Conditional, name)
		}
	}
	if len(res.Envelope) == 0 && len(res.Conditional) == 0 && len(res.StatusByError) == 0 {
		return nil
	}
	return res
}

func analyzeTypeSwitch(s *ast.TypeSwitchStmt, res *domain.HandlerAnalysisResult) {
	for _, clause := range s.Body.List {
		cc, ok := clause.(*ast.CaseClause)
		if !ok {
			continue
		}
		status := statusInStmts(cc.Body)
		for _, typeExpr := range cc.List {
			if name := errorTypeName(typeExpr); name != "" && status != 0 {
				res.StatusByError[name] = status
			}
		}
		collectBranch(cc.Body, res.Conditional)
	}
}

// analyzeIfChain handles "if e, ok := err.(*T); ok { ... } else if ..."
// ladders, the other common error handler shape.
func analyzeIfChain(s *ast.IfStmt, res *domain.HandlerAnalysisResult) {
	if name := assertedTypeName(s.Init); name != "" {
		if status := statusInStmts(s.Body.List); status != 0 {
			res.StatusByError[name] = status
		}
	}
	collectBranch(s.Body.List, res.Conditional)
	switch els := s.Else.(type) {
	case *ast.IfStmt:
		analyzeIfChain(els, res)
	case *ast.BlockStmt:
		collectBranch(els.List, res.Conditional)
	}
}

// assertedTypeName extracts T from "v, ok := err.(*T)" in an if's init.
func assertedTypeName(init ast.Stmt) string {
	assign, ok := init.(*ast.AssignStmt)
	if !ok || len(assign.Rhs) != 1 {
		return ""
	}
	assert, ok := astutil.Unparen(assign.Rhs[0]).(*ast.TypeAssertExpr)
	if !ok || assert.Type == nil {
		return ""
	}
	return errorTypeName(assert.Type)
}

func errorTypeName(e ast.Expr) string {
	switch t := astutil.Unparen(e).(type) {
	case *ast.StarExpr:
		return errorTypeName(t.X)
	case *ast.SelectorExpr:
		return t.Sel.Name
	case *ast.Ident:
		return t.Name
	}
	return ""
}

// statusInStmts resolves the HTTP status a branch settles on: a WriteHeader
// or JSON-writing call argument, or an assignment to a status-named
// variable.
func statusInStmts(stmts []ast.Stmt) int {
	status := 0
	for _, stmt := range stmts {
		ast.Inspect(stmt, func(n ast.Node) bool {
			if status != 0 {
				return false
			}
			switch t := n.(type) {
			case *ast.CallExpr:
				if s := statusFromCall(t); s != 0 {
					status = s
				}
			case *ast.AssignStmt:
				for i, lhs := range t.Lhs {
					if i >= len(t.Rhs) {
						break
					}
					name := strings.ToLower(identOf(lhs))
					if strings.Contains(name, "status") || strings.Contains(name, "code") {
						if s := astcache.StatusFromExpr(t.Rhs[i]); s != 0 {
							status = s
						}
					}
				}
			}
			return true
		})
		if status != 0 {
			return status
		}
	}
	return 0
}

func statusFromCall(call *ast.CallExpr) int {
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok {
		return 0
	}
	switch sel.Sel.Name {
	case "WriteHeader", "Status", "AbortWithStatus", "JSON", "AbortWithStatusJSON", "Error", "SendStatus":
		for _, arg := range call.Args {
			if s := astcache.StatusFromExpr(arg); s != 0 {
				return s
			}
		}
	}
	return 0
}

// collectEnvelope records string-keyed literal fields from straight-line
// statements.
func collectEnvelope(stmt ast.Stmt, into map[string]*openapi3.SchemaRef) {
	ast.Inspect(stmt, func(n ast.Node) bool {
		if cl, ok := n.(*ast.CompositeLit); ok {
			literalFields(cl, into)
			return false
		}
		return true
	})
	keyedAssignments(stmt, into)
}

// collectBranch records literal fields and keyed assignments from a branch
// body, without descending into nested branches (their owners collect them).
func collectBranch(stmts []ast.Stmt, into map[string]*openapi3.SchemaRef) {
	for _, stmt := range stmts {
		switch stmt.(type) {
		case *ast.IfStmt, *ast.TypeSwitchStmt, *ast.SwitchStmt:
			continue
		}
		collectEnvelope(stmt, into)
	}
}

// keyedAssignments catches `payload["errors"] = ...` style additions.
func keyedAssignments(stmt ast.Stmt, into map[string]*openapi3.SchemaRef) {
	assign, ok := stmt.(*ast.AssignStmt)
	if !ok {
		return
	}
	for i, lhs := range assign.Lhs {
		if i >= len(assign.Rhs) {
			break
		}
		idx, ok := astutil.Unparen(lhs).(*ast.IndexExpr)
		if !ok {
			continue
		}
		if key, ok := stringKey(idx.Index); ok {
			into[key] = guessedRef(assign.Rhs[i])
		}
	}
}

func literalFields(cl *ast.CompositeLit, into map[string]*openapi3.SchemaRef) {
	for _, elt := range cl.Elts {
		kv, ok := elt.(*ast.KeyValueExpr)
		if !ok {
			continue
		}
		if key, ok := stringKey(kv.Key); ok {
			into[key] = guessedRef(kv.Value)
		}
	}
}

func stringKey(e ast.Expr) (string, bool) {
	lit, ok := astutil.Unparen(e).(*ast.BasicLit)
	if !ok || lit.Kind != token.STRING {
		return "", false
	}
	key := strings.Trim(lit.Value, "`\"")
	if key == "" {
		return "", false
	}
	return key, true
}

// guessedRef assigns a scalar type to a literal value expression. Idents and
// selectors are classified by name; everything unknown is a string, the
// least wrong default for error payloads.
func guessedRef(e ast.Expr) *openapi3.SchemaRef {
	switch t := astutil.Unparen(e).(type) {
	case *ast.BasicLit:
		switch t.Kind {
		case token.INT:
			return scalarRef("integer")
		case token.FLOAT:
			return scalarRef("number")
		}
		return scalarRef("string")
	case *ast.CompositeLit:
		return scalarRef("object")
	case *ast.Ident:
		if t.Name == "true" || t.Name == "false" {
			return scalarRef("boolean")
		}
		return byName(t.Name)
	case *ast.SelectorExpr:
		return byName(t.Sel.Name)
	}
	return scalarRef("string")
}

func byName(name string) *openapi3.SchemaRef {
	switch {
	case containsFold(name, "status"), containsFold(name, "code"):
		return scalarRef("integer")
	case containsFold(name, "field"), containsFold(name, "error"), containsFold(name, "detail"):
		return scalarRef("object")
	}
	return scalarRef("string")
}

func identOf(e ast.Expr) string {
	if id, ok := astutil.Unparen(e).(*ast.Ident); ok {
		return id.Name
	}
	return ""
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), sub)
}

package goscan

import (
	"go/ast"
	"go/token"
	"strconv"
	"strings"

	"github.com/routelens/routelens/internal/domain"
)

// registrationMethods maps router method names to the HTTP methods they
// register. Covers chi/fiber-style title case and echo/gin-style upper case.
var registrationMethods = map[string][]string{
	"Get": {"GET"}, "GET": {"GET"},
	"Post": {"POST"}, "POST": {"POST"},
	"Put": {"PUT"}, "PUT": {"PUT"},
	"Patch": {"PATCH"}, "PATCH": {"PATCH"},
	"Delete": {"DELETE"}, "DELETE": {"DELETE"},
	"Head": {"HEAD"}, "HEAD": {"HEAD"},
	"Options": {"OPTIONS"}, "OPTIONS": {"OPTIONS"},
	"Any": {"GET", "POST", "PUT", "PATCH", "DELETE"},
}

func (s *Scanner) indexDecls(src *domain.ParsedSource) {
	pkg := ""
	if src.File.Name != nil {
		pkg = src.File.Name.Name
	}
	for _, decl := range src.File.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok {
			continue
		}
		site := declSite{pkg: pkg, recv: recvName(fn), file: src.Path}
		if src.Fset != nil {
			site.line = src.Fset.Position(fn.Pos()).Line
		}
		s.index[fn.Name.Name] = append(s.index[fn.Name.Name], site)
	}
}

func recvName(fn *ast.FuncDecl) string {
	if fn.Recv == nil || len(fn.Recv.List) == 0 {
		return ""
	}
	t := fn.Recv.List[0].Type
	if star, ok := t.(*ast.StarExpr); ok {
		t = star.X
	}
	if id, ok := t.(*ast.Ident); ok {
		return id.Name
	}
	return ""
}

// fileScan tracks per-file router state while walking one source file.
type fileScan struct {
	pkg      string
	file     string
	imports  map[string]struct{}
	prefixes map[string]string
	mws      map[string][]string
	routes   []domain.RouteInfo
}

// scanFile collects registration calls from one parsed file.
func scanFile(src *domain.ParsedSource) []domain.RouteInfo {
	fsc := &fileScan{
		file:     src.Path,
		imports:  importNames(src.File),
		prefixes: make(map[string]string),
		mws:      make(map[string][]string),
	}
	if src.File.Name != nil {
		fsc.pkg = src.File.Name.Name
	}
	ast.Inspect(src.File, func(n ast.Node) bool {
		switch node := n.(type) {
		case *ast.AssignStmt:
			fsc.trackGroup(node)
		case *ast.CallExpr:
			fsc.visitCall(node)
		}
		return true
	})
	return fsc.routes
}

func importNames(file *ast.File) map[string]struct{} {
	names := make(map[string]struct{}, len(file.Imports))
	for _, imp := range file.Imports {
		if imp.Name != nil {
			names[imp.Name.Name] = struct{}{}
			continue
		}
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		if i := strings.LastIndex(path, "/"); i >= 0 {
			path = path[i+1:]
		}
		names[path] = struct{}{}
	}
	return names
}

// trackGroup records `v1 := r.Group("/v1")` assignments so later
// registrations on v1 inherit the prefix and the group's middleware.
func (f *fileScan) trackGroup(assign *ast.AssignStmt) {
	if len(assign.Lhs) != 1 || len(assign.Rhs) != 1 {
		return
	}
	lhs, ok := assign.Lhs[0].(*ast.Ident)
	if !ok {
		return
	}
	call, ok := assign.Rhs[0].(*ast.CallExpr)
	if !ok || len(call.Args) == 0 {
		return
	}
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok || sel.Sel.Name != "Group" {
		return
	}
	prefix, ok := stringArg(call.Args[0])
	if !ok {
		return
	}
	parent := ""
	if recv, ok := sel.X.(*ast.Ident); ok {
		parent = recv.Name
	}
	f.prefixes[lhs.Name] = f.prefixes[parent] + prefix
	f.mws[lhs.Name] = append([]string(nil), f.mws[parent]...)
	// Group middleware may be passed after the prefix.
	for _, arg := range call.Args[1:] {
		if name := exprName(arg); name != "" {
			f.mws[lhs.Name] = append(f.mws[lhs.Name], name)
		}
	}
}

func (f *fileScan) visitCall(call *ast.CallExpr) {
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok {
		return
	}

	recv, chainMws := receiverOf(sel.X)
	if sel.Sel.Name == "Use" && recv != "" {
		for _, arg := range call.Args {
			if name := exprName(arg); name != "" {
				f.mws[recv] = append(f.mws[recv], name)
			}
		}
		return
	}

	methods, registers := registrationMethods[sel.Sel.Name]
	isHandle := sel.Sel.Name == "Handle" || sel.Sel.Name == "HandleFunc"
	if !registers && !isHandle {
		return
	}
	if len(call.Args) < 2 {
		return
	}
	pattern, ok := stringArg(call.Args[0])
	if !ok {
		return
	}
	if isHandle {
		// Go 1.22 mux patterns embed the method: "GET /users".
		methodPart, pathPart, found := strings.Cut(pattern, " ")
		if found && methodPart == strings.ToUpper(methodPart) && methodPart != "" {
			methods = []string{methodPart}
			pattern = pathPart
		} else {
			methods = []string{"GET"}
		}
	}

	uri := domain.NormalizePath(f.prefixes[recv] + pattern)
	route := domain.RouteInfo{
		URI:     uri,
		Methods: append([]string(nil), methods...),
		Handler: f.handlerRef(call.Args[len(call.Args)-1]),
		Origin:  domain.RouteOriginScan,
	}
	route.Middleware = append(route.Middleware, f.mws[recv]...)
	route.Middleware = append(route.Middleware, chainMws...)
	// gin-style variadic registration: middleware sit between the path and
	// the final handler.
	for _, arg := range call.Args[1 : len(call.Args)-1] {
		if name := exprName(arg); name != "" {
			route.Middleware = append(route.Middleware, name)
		}
	}
	for _, name := range domain.PathParamNames(uri) {
		route.PathParams = append(route.PathParams, domain.PathParam{Name: name})
	}
	f.routes = append(f.routes, route)
}

// receiverOf unwraps the receiver of a registration call. A With(...) chain
// contributes its arguments as middleware.
func receiverOf(x ast.Expr) (string, []string) {
	switch recv := x.(type) {
	case *ast.Ident:
		return recv.Name, nil
	case *ast.CallExpr:
		sel, ok := recv.Fun.(*ast.SelectorExpr)
		if !ok || sel.Sel.Name != "With" {
			return "", nil
		}
		name, mws := receiverOf(sel.X)
		for _, arg := range recv.Args {
			if n := exprName(arg); n != "" {
				mws = append(mws, n)
			}
		}
		return name, mws
	default:
		return "", nil
	}
}

func (f *fileScan) handlerRef(expr ast.Expr) domain.HandlerRef {
	switch h := expr.(type) {
	case *ast.FuncLit:
		return domain.HandlerRef{File: f.file, Closure: true}
	case *ast.Ident:
		return domain.HandlerRef{Package: f.pkg, Func: h.Name}
	case *ast.SelectorExpr:
		ref := domain.HandlerRef{Func: h.Sel.Name}
		if x, ok := h.X.(*ast.Ident); ok {
			if _, imported := f.imports[x.Name]; imported {
				ref.Package = x.Name
			}
		}
		return ref
	case *ast.CallExpr:
		// Handler factories: register(handler.NewBusList(srv)).
		return f.handlerRef(h.Fun)
	default:
		return domain.HandlerRef{Closure: true}
	}
}

func exprName(expr ast.Expr) string {
	switch e := expr.(type) {
	case *ast.Ident:
		return e.Name
	case *ast.SelectorExpr:
		return e.Sel.Name
	case *ast.CallExpr:
		return exprName(e.Fun)
	default:
		return ""
	}
}

func stringArg(expr ast.Expr) (string, bool) {
	lit, ok := expr.(*ast.BasicLit)
	if !ok || lit.Kind != token.STRING {
		return "", false
	}
	value, err := strconv.Unquote(lit.Value)
	if err != nil {
		return "", false
	}
	return value, true
}

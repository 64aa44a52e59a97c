package astcache

import (
	"go/ast"
	"go/token"
	"go/types"
	"reflect"
	"strconv"
	"strings"

	"golang.org/x/tools/go/ast/astutil"

	"github.com/routelens/routelens/internal/domain"
	"github.com/routelens/routelens/internal/rules"
)

// BuildDigest walks a parsed file once and records everything extractors
// read from source: handler signatures, doc directives, validation rule
// maps, request binds, query reads, response call sites and struct shapes.
func BuildDigest(src *domain.ParsedSource) *domain.SourceDigest {
	d := &domain.SourceDigest{
		Path:    src.Path,
		ModTime: src.ModTime,
		Funcs:   make(map[string]domain.FuncDigest),
		Structs: make(map[string]domain.StructDigest),
	}
	for _, decl := range src.File.Decls {
		switch t := decl.(type) {
		case *ast.FuncDecl:
			fd := buildFuncDigest(src.Fset, t)
			key := fd.Name
			if fd.Receiver != "" {
				key = fd.Receiver + "." + fd.Name
			}
			d.Funcs[key] = fd
		case *ast.GenDecl:
			if t.Tok != token.TYPE {
				continue
			}
			for _, spec := range t.Specs {
				ts, ok := spec.(*ast.TypeSpec)
				if !ok || !ts.Name.IsExported() {
					continue
				}
				st, ok := ts.Type.(*ast.StructType)
				if !ok {
					continue
				}
				d.Structs[ts.Name.Name] = buildStructDigest(src.Fset, ts.Name.Name, st)
			}
		}
	}
	return d
}

func buildFuncDigest(fset *token.FileSet, fn *ast.FuncDecl) domain.FuncDigest {
	fd := domain.FuncDigest{
		Name:     fn.Name.Name,
		Receiver: receiverName(fn),
		Line:     fset.Position(fn.Pos()).Line,
	}
	if fn.Doc != nil {
		for _, c := range fn.Doc.List {
			if a, ok := domain.ParseAnnotation(c.Text); ok {
				fd.Directives = append(fd.Directives, a)
			}
		}
	}
	if fn.Type.Results != nil {
		for _, r := range fn.Type.Results.List {
			fd.ReturnTypes = append(fd.ReturnTypes, types.ExprString(r.Type))
		}
	}
	if fn.Body == nil {
		return fd
	}

	vars := collectVarTypes(fn.Body)
	lastStatus := 0
	ast.Inspect(fn.Body, func(n ast.Node) bool {
		switch t := n.(type) {
		case *ast.CompositeLit:
			if rl, ok := ruleLiteral(fset, t); ok {
				fd.RuleLiterals = append(fd.RuleLiterals, rl)
			}
		case *ast.CallExpr:
			inspectCall(fset, t, vars, &fd, &lastStatus)
		}
		return true
	})
	return fd
}

func receiverName(fn *ast.FuncDecl) string {
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

// collectVarTypes maps local variable names to their declared or literal
// type so later call analysis can resolve idents.
func collectVarTypes(body *ast.BlockStmt) map[string]string {
	vars := make(map[string]string)
	ast.Inspect(body, func(n ast.Node) bool {
		switch t := n.(type) {
		case *ast.AssignStmt:
			if len(t.Lhs) != len(t.Rhs) {
				return true
			}
			for i, lhs := range t.Lhs {
				id, ok := lhs.(*ast.Ident)
				if !ok || id.Name == "_" {
					continue
				}
				if typ := literalTypeName(t.Rhs[i]); typ != "" {
					vars[id.Name] = typ
				}
			}
		case *ast.DeclStmt:
			gd, ok := t.Decl.(*ast.GenDecl)
			if !ok || gd.Tok != token.VAR {
				return true
			}
			for _, spec := range gd.Specs {
				vs, ok := spec.(*ast.ValueSpec)
				if !ok || vs.Type == nil {
					continue
				}
				typ := types.ExprString(vs.Type)
				for _, name := range vs.Names {
					if name.Name != "_" {
						vars[name.Name] = typ
					}
				}
			}
		}
		return true
	})
	return vars
}

func literalTypeName(e ast.Expr) string {
	e = astutil.Unparen(e)
	switch t := e.(type) {
	case *ast.UnaryExpr:
		if t.Op == token.AND {
			return literalTypeName(t.X)
		}
	case *ast.CompositeLit:
		if t.Type != nil {
			return types.ExprString(t.Type)
		}
	}
	return ""
}

// ruleLiteral recognizes validation rule maps: composite literals of a
// string-keyed map (or a Rules-named type) whose values contain at least one
// known rule keyword. String values split on pipes, list values stay
// verbatim.
func ruleLiteral(fset *token.FileSet, cl *ast.CompositeLit) (domain.RuleLiteral, bool) {
	if !isRuleMapType(cl.Type) {
		return domain.RuleLiteral{}, false
	}
	named := isNamedRuleType(cl.Type)
	out := domain.RuleLiteral{
		Line:  fset.Position(cl.Pos()).Line,
		Rules: make(map[string][]string),
	}
	known := false
	for _, elt := range cl.Elts {
		kv, ok := elt.(*ast.KeyValueExpr)
		if !ok {
			continue
		}
		key, ok := stringLit(kv.Key)
		if !ok {
			continue
		}
		switch v := astutil.Unparen(kv.Value).(type) {
		case *ast.BasicLit:
			raw, ok := stringLit(v)
			if !ok {
				continue
			}
			set := rules.Split(raw)
			out.Rules[key] = []string(set)
			for _, r := range set {
				known = known || rules.KnownKeyword(r)
			}
		case *ast.CompositeLit:
			var list []string
			for _, le := range v.Elts {
				if s, ok := stringLit(le); ok {
					list = append(list, s)
					known = known || rules.KnownKeyword(s)
				}
			}
			if len(list) > 0 {
				out.Rules[key] = list
			}
		}
	}
	if len(out.Rules) == 0 || (!known && !named) {
		return domain.RuleLiteral{}, false
	}
	return out, true
}

func isRuleMapType(e ast.Expr) bool {
	switch t := e.(type) {
	case *ast.MapType:
		k, ok := t.Key.(*ast.Ident)
		return ok && k.Name == "string"
	case *ast.Ident, *ast.SelectorExpr:
		return isNamedRuleType(e)
	}
	return false
}

func isNamedRuleType(e ast.Expr) bool {
	switch t := e.(type) {
	case *ast.Ident:
		return strings.HasSuffix(t.Name, "Rules")
	case *ast.SelectorExpr:
		return strings.HasSuffix(t.Sel.Name, "Rules")
	}
	return false
}

// inspectCall classifies one call site: response writes, header writes,
// query reads and request binds.
func inspectCall(fset *token.FileSet, call *ast.CallExpr, vars map[string]string, fd *domain.FuncDigest, lastStatus *int) {
	if id, ok := call.Fun.(*ast.Ident); ok {
		if isResponseFuncName(id.Name) {
			fd.ResponseHints = append(fd.ResponseHints, responseHint(fset, call, vars, 0))
		}
		return
	}
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok {
		return
	}
	name := sel.Sel.Name
	switch {
	case name == "WriteHeader" && len(call.Args) == 1:
		if s := StatusFromExpr(call.Args[0]); s != 0 {
			*lastStatus = s
		}
	case name == "Encode" && len(call.Args) == 1 && isJSONEncoderChain(sel.X):
		h := responseHint(fset, call, vars, *lastStatus)
		fd.ResponseHints = append(fd.ResponseHints, h)
	case name == "Error" && len(call.Args) == 3 && identName(sel.X) == "http":
		h := domain.ResponseHint{Line: fset.Position(call.Pos()).Line}
		if s := StatusFromExpr(call.Args[2]); s != 0 {
			h.Status = s
		}
		fd.ResponseHints = append(fd.ResponseHints, h)
	case isResponseFuncName(name):
		fd.ResponseHints = append(fd.ResponseHints, responseHint(fset, call, vars, 0))
	case isQueryCall(name, sel):
		if qk, ok := queryKeyFromCall(fset, name, call); ok {
			fd.QueryKeys = append(fd.QueryKeys, qk)
		}
	case name == "Decode" || name == "Unmarshal" ||
		strings.HasPrefix(name, "Bind") || strings.HasPrefix(name, "ShouldBind"):
		if target := bindTarget(call, vars); target != "" {
			fd.BindTargets = appendUniqueString(fd.BindTargets, target)
		}
	}
}

var responseFuncNames = map[string]struct{}{
	"JSON": {}, "IndentedJSON": {}, "PureJSON": {}, "SecureJSON": {},
	"JSONPretty": {}, "WriteJSON": {}, "RespondJSON": {},
	"writeJSON": {}, "respondJSON": {}, "renderJSON": {}, "jsonResponse": {},
}

func isResponseFuncName(name string) bool {
	_, ok := responseFuncNames[name]
	return ok
}

// isQueryCall separates query-parameter reads from other lookups: bare Get
// only counts when chained off a Query() call, so header reads stay out.
func isQueryCall(name string, sel *ast.SelectorExpr) bool {
	switch name {
	case "Query", "QueryParam", "DefaultQuery", "GetQuery", "FormValue":
		return true
	case "Get":
		call, ok := astutil.Unparen(sel.X).(*ast.CallExpr)
		if !ok {
			return false
		}
		inner, ok := call.Fun.(*ast.SelectorExpr)
		return ok && inner.Sel.Name == "Query"
	}
	return false
}

func queryKeyFromCall(fset *token.FileSet, name string, call *ast.CallExpr) (domain.QueryKey, bool) {
	if len(call.Args) == 0 {
		return domain.QueryKey{}, false
	}
	key, ok := stringLit(call.Args[0])
	if !ok {
		return domain.QueryKey{}, false
	}
	qk := domain.QueryKey{Name: key, Line: fset.Position(call.Pos()).Line}
	if name == "DefaultQuery" && len(call.Args) > 1 {
		if def, ok := stringLit(call.Args[1]); ok {
			qk.Default = def
			if _, err := strconv.Atoi(def); err == nil {
				qk.Type = "integer"
			}
		}
	}
	return qk, true
}

func bindTarget(call *ast.CallExpr, vars map[string]string) string {
	for _, arg := range call.Args {
		e := astutil.Unparen(arg)
		if u, ok := e.(*ast.UnaryExpr); ok && u.Op == token.AND {
			e = astutil.Unparen(u.X)
		}
		id, ok := e.(*ast.Ident)
		if !ok {
			continue
		}
		if typ, ok := vars[id.Name]; ok {
			return baseTypeName(typ)
		}
	}
	return ""
}

// responseHint resolves the shape of one response call: which argument is
// the status, which is the payload, and what the payload looks like.
func responseHint(fset *token.FileSet, call *ast.CallExpr, vars map[string]string, fallbackStatus int) domain.ResponseHint {
	h := domain.ResponseHint{Line: fset.Position(call.Pos()).Line}
	payloadIdx := -1
	for i, a := range call.Args {
		if s := StatusFromExpr(a); s != 0 && h.Status == 0 {
			h.Status = s
			continue
		}
		payloadIdx = i
	}
	if h.Status == 0 {
		h.Status = fallbackStatus
	}
	if payloadIdx >= 0 {
		fillPayload(&h, call.Args[payloadIdx], vars)
	}
	return h
}

func fillPayload(h *domain.ResponseHint, e ast.Expr, vars map[string]string) {
	e = astutil.Unparen(e)
	switch t := e.(type) {
	case *ast.UnaryExpr:
		if t.Op == token.AND {
			fillPayload(h, t.X, vars)
		}
	case *ast.CompositeLit:
		fillCompositePayload(h, t, vars)
	case *ast.Ident:
		if typ, ok := vars[t.Name]; ok {
			setPayloadType(h, typ)
		}
	}
}

func fillCompositePayload(h *domain.ResponseHint, cl *ast.CompositeLit, vars map[string]string) {
	switch typ := cl.Type.(type) {
	case *ast.Ident:
		h.TypeName = typ.Name
	case *ast.SelectorExpr:
		if isInlineMapName(types.ExprString(typ)) {
			h.Fields = inlineMapFields(cl)
			return
		}
		h.TypeName = typ.Sel.Name
	case *ast.ArrayType:
		h.Array = true
		switch elt := typ.Elt.(type) {
		case *ast.Ident:
			h.TypeName = elt.Name
		case *ast.SelectorExpr:
			h.TypeName = elt.Sel.Name
		}
	case *ast.MapType:
		h.Fields = inlineMapFields(cl)
	}
}

// inline map aliases web frameworks ship for ad-hoc JSON payloads
func isInlineMapName(name string) bool {
	switch name {
	case "gin.H", "echo.Map", "fiber.Map", "bson.M", "iris.Map":
		return true
	}
	return false
}

func inlineMapFields(cl *ast.CompositeLit) []domain.HintField {
	var fields []domain.HintField
	for _, elt := range cl.Elts {
		kv, ok := elt.(*ast.KeyValueExpr)
		if !ok {
			continue
		}
		key, ok := stringLit(kv.Key)
		if !ok {
			continue
		}
		fields = append(fields, domain.HintField{Name: key, Type: guessScalarType(kv.Value)})
	}
	return fields
}

func guessScalarType(e ast.Expr) string {
	switch t := astutil.Unparen(e).(type) {
	case *ast.BasicLit:
		switch t.Kind {
		case token.INT:
			return "integer"
		case token.FLOAT:
			return "number"
		case token.STRING, token.CHAR:
			return "string"
		}
	case *ast.Ident:
		if t.Name == "true" || t.Name == "false" {
			return "boolean"
		}
	case *ast.CompositeLit:
		if _, ok := t.Type.(*ast.ArrayType); ok {
			return "array"
		}
		return "object"
	}
	return ""
}

func setPayloadType(h *domain.ResponseHint, typ string) {
	typ = strings.TrimPrefix(typ, "*")
	if strings.HasPrefix(typ, "[]") {
		h.Array = true
		typ = strings.TrimPrefix(typ, "[]")
		typ = strings.TrimPrefix(typ, "*")
	}
	h.TypeName = baseTypeName(typ)
}

// baseTypeName strips pointers, slices and package qualifiers down to the
// bare type name.
func baseTypeName(typ string) string {
	typ = strings.TrimPrefix(typ, "*")
	typ = strings.TrimPrefix(typ, "[]")
	typ = strings.TrimPrefix(typ, "*")
	if i := strings.LastIndex(typ, "."); i >= 0 {
		typ = typ[i+1:]
	}
	return typ
}

// StatusFromExpr resolves a statically-known HTTP status from an expression:
// an integer literal in the status range or a net/http Status* constant.
func StatusFromExpr(e ast.Expr) int {
	e = astutil.Unparen(e)
	switch t := e.(type) {
	case *ast.BasicLit:
		if t.Kind == token.INT {
			if n, err := strconv.Atoi(t.Value); err == nil && n >= 100 && n < 600 {
				return n
			}
		}
	case *ast.SelectorExpr:
		if identName(t.X) == "http" {
			return httpStatusValue(t.Sel.Name)
		}
	}
	return 0
}

func isJSONEncoderChain(e ast.Expr) bool {
	call, ok := astutil.Unparen(e).(*ast.CallExpr)
	if !ok {
		return false
	}
	sel, ok := call.Fun.(*ast.SelectorExpr)
	return ok && sel.Sel.Name == "NewEncoder"
}

func identName(e ast.Expr) string {
	if id, ok := astutil.Unparen(e).(*ast.Ident); ok {
		return id.Name
	}
	return ""
}

func stringLit(e ast.Expr) (string, bool) {
	lit, ok := astutil.Unparen(e).(*ast.BasicLit)
	if !ok || lit.Kind != token.STRING {
		return "", false
	}
	s, err := strconv.Unquote(lit.Value)
	if err != nil {
		return "", false
	}
	return s, true
}

func buildStructDigest(fset *token.FileSet, name string, st *ast.StructType) domain.StructDigest {
	sd := domain.StructDigest{Name: name, Line: fset.Position(st.Pos()).Line}
	for _, field := range st.Fields.List {
		goType := types.ExprString(field.Type)
		var tag reflect.StructTag
		if field.Tag != nil {
			if raw, err := strconv.Unquote(field.Tag.Value); err == nil {
				tag = reflect.StructTag(raw)
			}
		}
		for _, ident := range field.Names {
			if !ident.IsExported() {
				continue
			}
			fd := domain.FieldDigest{
				Name:     ident.Name,
				JSONName: ident.Name,
				GoType:   goType,
				Optional: strings.HasPrefix(goType, "*"),
				Validate: tag.Get("validate"),
			}
			if j := tag.Get("json"); j != "" {
				parts := strings.Split(j, ",")
				if parts[0] == "-" {
					continue
				}
				if parts[0] != "" {
					fd.JSONName = parts[0]
				}
				for _, p := range parts[1:] {
					if p == "omitempty" {
						fd.Optional = true
					}
				}
			}
			sd.Fields = append(sd.Fields, fd)
		}
	}
	return sd
}

func appendUniqueString(list []string, v string) []string {
	for _, e := range list {
		if e == v {
			return list
		}
	}
	return append(list, v)
}

// httpStatusValue resolves the net/http status constant names that appear in
// handler source. Unknown names resolve to 0 and the call site falls back to
// its default.
func httpStatusValue(name string) int {
	switch name {
	case "StatusOK":
		return 200
	case "StatusCreated":
		return 201
	case "StatusAccepted":
		return 202
	case "StatusNoContent":
		return 204
	case "StatusMovedPermanently":
		return 301
	case "StatusFound":
		return 302
	case "StatusSeeOther":
		return 303
	case "StatusNotModified":
		return 304
	case "StatusTemporaryRedirect":
		return 307
	case "StatusPermanentRedirect":
		return 308
	case "StatusBadRequest":
		return 400
	case "StatusUnauthorized":
		return 401
	case "StatusPaymentRequired":
		return 402
	case "StatusForbidden":
		return 403
	case "StatusNotFound":
		return 404
	case "StatusMethodNotAllowed":
		return 405
	case "StatusNotAcceptable":
		return 406
	case "StatusRequestTimeout":
		return 408
	case "StatusConflict":
		return 409
	case "StatusGone":
		return 410
	case "StatusUnsupportedMediaType":
		return 415
	case "StatusUnprocessableEntity":
		return 422
	case "StatusTooManyRequests":
		return 429
	case "StatusInternalServerError":
		return 500
	case "StatusNotImplemented":
		return 501
	case "StatusBadGateway":
		return 502
	case "StatusServiceUnavailable":
		return 503
	case "StatusGatewayTimeout":
		return 504
	}
	return 0
}

package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/postc/compiler"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "postc-lsp"

// LspServer provides editor features for PostC sources. Every open document
// is reparsed on change; all answers come from the resulting syntax tree.
type LspServer struct {
	mu   sync.Mutex
	docs map[string]*document // URI → analyzed document

	log     commonlog.Logger
	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server.
func NewLSP() *LspServer {
	s := &LspServer{
		docs:    make(map[string]*document),
		log:     commonlog.GetLogger("postc.lsp"),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
		TextDocumentReferences: s.textDocumentReferences,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- Document analysis ---

// symbol is a name declared at the top level or inside a block.
type symbol struct {
	name    string
	fn      *compiler.FunctionDecl
	decl    *compiler.VariableDecl
	span    compiler.Span
	mutable bool
}

type document struct {
	text    string
	prog    *compiler.Program
	err     *compiler.Error
	symbols map[string]symbol
	// identifier uses in source order
	uses []compiler.ExprToken
}

// analyze parses and generates code for text, keeping the first error.
func analyze(text string) *document {
	doc := &document{text: text, symbols: make(map[string]symbol)}

	prog, err := compiler.Parse(text)
	if err == nil {
		_, err = compiler.NewCompiler().Generate(prog)
	}
	if err != nil {
		var cerr *compiler.Error
		if errors.As(err, &cerr) {
			doc.err = cerr
		} else {
			doc.err = &compiler.Error{Kind: compiler.CodegenError, Err: err, Line: 1}
		}
	}
	if prog == nil {
		return doc
	}
	doc.prog = prog

	compiler.Inspect(prog, func(n compiler.Node) bool {
		switch x := n.(type) {
		case *compiler.FunctionDecl:
			if _, seen := doc.symbols[x.Name]; !seen {
				doc.symbols[x.Name] = symbol{name: x.Name, fn: x, span: x.Span()}
			}
		case *compiler.VariableDecl:
			if _, seen := doc.symbols[x.Name]; !seen {
				doc.symbols[x.Name] = symbol{name: x.Name, decl: x, span: x.Span(), mutable: x.Mutable}
			}
		case *compiler.RpnExpr:
			for _, tok := range x.Tokens {
				if tok.Kind == compiler.ExprIdent {
					doc.uses = append(doc.uses, tok)
				}
			}
		}
		return true
	})
	return doc
}

func (d *document) diagnostics() []protocol.Diagnostic {
	diags := []protocol.Diagnostic{}
	if d.err == nil {
		return diags
	}
	severity := protocol.DiagnosticSeverityError
	source := lspName
	start := toProtocol(compiler.Position{Line: d.err.Line, Column: d.err.Column})
	end := start
	end.Character++
	diags = append(diags, protocol.Diagnostic{
		Range:    protocol.Range{Start: start, End: end},
		Severity: &severity,
		Source:   &source,
		Message:  d.err.Error(),
	})
	return diags
}

// toProtocol converts a 1-based source position to a 0-based LSP one.
func toProtocol(p compiler.Position) protocol.Position {
	line, col := p.Line-1, p.Column-1
	if line < 0 {
		line = 0
	}
	if col < 0 {
		col = 0
	}
	return protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(col)}
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	s.log.Info("PostC LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{":"},
	}

	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	s.mu.Lock()
	s.docs = make(map[string]*document)
	s.mu.Unlock()
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

// update reanalyzes the document at uri and returns its diagnostics.
func (s *LspServer) update(uri protocol.DocumentUri, text string) []protocol.Diagnostic {
	doc := analyze(text)

	s.mu.Lock()
	s.docs[string(uri)] = doc
	s.mu.Unlock()

	if doc.err != nil {
		s.log.Debugf("%s: %s", uri, doc.err)
	}
	return doc.diagnostics()
}

func (s *LspServer) lookup(uri protocol.DocumentUri) (*document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[string(uri)]
	return doc, ok
}

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	s.publishDiagnostics(ctx, uri, s.update(uri, params.TextDocument.Text))
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.publishDiagnostics(ctx, uri, s.update(uri, whole.Text))
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	s.publishDiagnostics(ctx, uri, []protocol.Diagnostic{})
	return nil
}

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, diags []protocol.Diagnostic) {
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diags,
	})
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	doc, ok := s.lookup(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	prefix := extractPrefix(doc.text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return s.complete(doc, prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	doc, ok := s.lookup(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	word := extractWord(doc.text, params.Position)
	if word == "" {
		return nil, nil
	}
	return s.hover(doc, word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	doc, ok := s.lookup(uri)
	if !ok {
		return nil, nil
	}
	word := extractWord(doc.text, params.Position)
	if word == "" {
		return nil, nil
	}
	loc := s.definition(doc, uri, word)
	if loc == nil {
		return nil, nil
	}
	return loc, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	uri := params.TextDocument.URI
	doc, ok := s.lookup(uri)
	if !ok {
		return nil, nil
	}
	word := extractWord(doc.text, params.Position)
	if word == "" {
		return nil, nil
	}
	return s.references(doc, uri, word, params.Context.IncludeDeclaration), nil
}

// --- Analysis-backed logic ---

func (s *LspServer) complete(doc *document, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	seen := make(map[string]bool)

	add := func(name string, kind protocol.CompletionItemKind, detail string) {
		if seen[name] || !strings.HasPrefix(name, prefix) {
			return
		}
		seen[name] = true
		nameCopy := name
		items = append(items, protocol.CompletionItem{
			Label:      name,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &nameCopy,
		})
	}

	// Document symbols first so they win over builtins of the same name.
	names := make([]string, 0, len(doc.symbols))
	for name := range doc.symbols {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sym := doc.symbols[name]
		if sym.fn != nil {
			add(name, protocol.CompletionItemKindFunction, fmt.Sprintf("function (%d params)", sym.fn.ParamCount))
		} else {
			add(name, protocol.CompletionItemKindVariable, declKeyword(sym))
		}
	}

	builtins := compiler.Builtins()
	sort.Strings(builtins)
	for _, name := range builtins {
		op, _ := compiler.BuiltinOpcode(name)
		add(name, protocol.CompletionItemKindFunction, "builtin "+op.Name())
	}

	keywords := compiler.Keywords()
	sort.Strings(keywords)
	for _, kw := range keywords {
		add(kw, protocol.CompletionItemKindKeyword, "keyword")
	}

	// Limit results
	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}
	return items
}

func declKeyword(sym symbol) string {
	if sym.mutable {
		return "var"
	}
	return "let"
}

func (s *LspServer) hover(doc *document, word string) *protocol.Hover {
	var b strings.Builder

	if sym, ok := doc.symbols[word]; ok {
		if sym.fn != nil {
			fmt.Fprintf(&b, "**:%s** %d param\n\n", sym.name, sym.fn.ParamCount)
			if sym.fn.ParamCount > 0 {
				args := make([]string, sym.fn.ParamCount)
				for i := range args {
					args[i] = fmt.Sprintf("`arg%d`", i)
				}
				fmt.Fprintf(&b, "Arguments: %s\n\n", strings.Join(args, " "))
			}
		} else {
			fmt.Fprintf(&b, "**%s %s**", declKeyword(sym), sym.name)
			if sym.decl.Init != nil {
				fmt.Fprintf(&b, " = `%s`", sym.decl.Init)
			}
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Declared at line %d", sym.span.Start.Line)
	} else if op, ok := compiler.BuiltinOpcode(word); ok {
		info := op.Info()
		fmt.Fprintf(&b, "**%s** builtin\n\n", word)
		fmt.Fprintf(&b, "Compiles to `%s`, pops %d, pushes %d", op.Name(), info.StackPop, info.StackPush)
	} else if compiler.LookupIdent(word) != compiler.TokenIdentifier {
		fmt.Fprintf(&b, "**%s** keyword", word)
	} else {
		return nil
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

func (s *LspServer) definition(doc *document, uri protocol.DocumentUri, word string) []protocol.Location {
	sym, ok := doc.symbols[word]
	if !ok {
		return nil
	}
	return []protocol.Location{{
		URI: uri,
		Range: protocol.Range{
			Start: toProtocol(sym.span.Start),
			End:   toProtocol(sym.span.End),
		},
	}}
}

func (s *LspServer) references(doc *document, uri protocol.DocumentUri, word string, includeDecl bool) []protocol.Location {
	var locations []protocol.Location
	if includeDecl {
		locations = append(locations, s.definition(doc, uri, word)...)
	}
	for _, tok := range doc.uses {
		if tok.Text != word {
			continue
		}
		start := toProtocol(tok.Pos)
		end := start
		end.Character += protocol.UInteger(len(tok.Text))
		locations = append(locations, protocol.Location{
			URI:   uri,
			Range: protocol.Range{Start: start, End: end},
		})
	}
	return locations
}

// --- Helpers ---

func isWordChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}

	if start == col {
		return ""
	}

	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}
	end := col
	for end < len(line) && isWordChar(rune(line[end])) {
		end++
	}

	if start == end {
		return ""
	}

	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
